package model

import "time"

// GalleryItem is an image shown newest-first on the pilgrimage portal.
type GalleryItem struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description *string   `json:"description,omitempty"`
	ImageURL    string    `json:"image_url" validate:"required,url,max=1024"`
	CreatedAt   time.Time `json:"created_at"`
}
