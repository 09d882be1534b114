package repository

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// The Decode functions turn store rows into model values. They accept rows
// from any store implementation or broker, so numbers and timestamps may
// arrive as native values or as text.

// DecodeWeather converts a weather_reports row.
func DecodeWeather(r store.Row) (model.WeatherReport, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.WeatherReport{}, err
	}
	created, err := r.Time("created_at")
	if err != nil {
		return model.WeatherReport{}, err
	}
	return model.WeatherReport{ID: id, ReportText: r.String("report"), CreatedAt: created}, nil
}

// DecodeAnnouncement converts an announcements row.
func DecodeAnnouncement(r store.Row) (model.Announcement, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.Announcement{}, err
	}
	created, err := r.Time("created_at")
	if err != nil {
		return model.Announcement{}, err
	}
	return model.Announcement{
		ID:         id,
		PortalType: model.PortalType(r.String("portal_type")),
		Title:      r.String("title"),
		Body:       r.String("content"),
		CreatedAt:  created,
	}, nil
}

// DecodeTicketPrice converts a ticket_prices row.
func DecodeTicketPrice(r store.Row) (model.TicketPrice, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.TicketPrice{}, err
	}
	price, err := decimal.NewFromString(r.String("price"))
	if err != nil {
		return model.TicketPrice{}, fmt.Errorf("column price: %w", err)
	}
	version, err := r.Uint64("version")
	if err != nil {
		version = 0
	}
	updated, err := r.Time("updated_at")
	if err != nil {
		return model.TicketPrice{}, err
	}
	return model.TicketPrice{
		ID:         id,
		TicketType: r.String("ticket_type"),
		Price:      price,
		Version:    version,
		UpdatedAt:  updated,
	}, nil
}

// DecodeRouteMap converts a route_maps row.
func DecodeRouteMap(r store.Row) (model.RouteMap, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.RouteMap{}, err
	}
	created, err := r.Time("created_at")
	if err != nil {
		return model.RouteMap{}, err
	}
	return model.RouteMap{
		ID:          id,
		Title:       r.String("title"),
		Description: r.String("description"),
		MapData:     r.String("map_data"),
		CreatedAt:   created,
	}, nil
}

// DecodeGalleryItem converts a gallery row.
func DecodeGalleryItem(r store.Row) (model.GalleryItem, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.GalleryItem{}, err
	}
	created, err := r.Time("created_at")
	if err != nil {
		return model.GalleryItem{}, err
	}
	item := model.GalleryItem{
		ID:        id,
		Title:     r.String("title"),
		ImageURL:  r.String("image_url"),
		CreatedAt: created,
	}
	if r["description"] != nil {
		d := r.String("description")
		item.Description = &d
	}
	return item, nil
}

// DecodePendingAccount converts a pending_accounts row.
func DecodePendingAccount(r store.Row) (model.PendingAccount, error) {
	id, err := r.Uint64("id")
	if err != nil {
		return model.PendingAccount{}, err
	}
	created, err := r.Time("created_at")
	if err != nil {
		return model.PendingAccount{}, err
	}
	updated, err := r.Time("updated_at")
	if err != nil {
		return model.PendingAccount{}, err
	}
	return model.PendingAccount{
		ID:         id,
		Name:       r.String("name"),
		Email:      r.String("email"),
		AssignedID: r.String("assigned_id"),
		Status:     model.AccountStatus(r.String("status")),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

func decodeAll[T any](rows []store.Row, decode func(store.Row) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
