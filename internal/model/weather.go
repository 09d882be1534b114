package model

import "time"

// WeatherReport is a free-text weather bulletin posted by management. Only
// the most recently created report is displayed; older rows are kept.
//
// Fields:
//  ID         – primary key identifier.
//  ReportText – bulletin text shown on every portal.
//  CreatedAt  – creation timestamp, decides which report is current.
type WeatherReport struct {
	ID         uint64    `json:"id"`                                        // weather_reports.id
	ReportText string    `json:"report_text" validate:"required,max=2000"` // weather_reports.report
	CreatedAt  time.Time `json:"created_at"`                                // weather_reports.created_at
}
