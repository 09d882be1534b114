package model

import "time"

// RouteMap is a published route for pilgrims, read by the devotee and
// pilgrimage portals. MapData is opaque to the core (an embed URL or
// encoded geometry supplied by management).
type RouteMap struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"required"`
	MapData     string    `json:"map_data" validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}
