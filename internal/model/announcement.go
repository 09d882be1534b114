package model

import "time"

// Announcement is a notice targeted at exactly one portal. It is visible only
// to PortalType and is never edited once posted.
type Announcement struct {
	ID         uint64     `json:"id"`
	PortalType PortalType `json:"portal_type" validate:"required,oneof=devotee seva"`
	Title      string     `json:"title" validate:"required,max=200"`
	Body       string     `json:"body" validate:"required"`
	CreatedAt  time.Time  `json:"created_at"`
}
