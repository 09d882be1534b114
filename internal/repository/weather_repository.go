package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// WeatherRepo encapsulates access to weather_reports. Reports are
// insert-only; the newest one is authoritative.
type WeatherRepo struct {
	st store.Store
}

// NewWeatherRepo constructs a WeatherRepo given a store handle.
func NewWeatherRepo(st store.Store) *WeatherRepo {
	return &WeatherRepo{st: st}
}

// List returns reports ordered by creation time.
func (r *WeatherRepo) List(ctx context.Context, opts ListOptions) ([]model.WeatherReport, error) {
	rows, err := r.st.Select(ctx, store.TableWeatherReports, opts.filter("created_at", nil))
	if err != nil {
		return nil, storeErr("list weather", err)
	}
	return decodeAll(rows, DecodeWeather)
}

// GetLatest returns the most recently created report, or ErrNotFound when
// none has been posted yet.
func (r *WeatherRepo) GetLatest(ctx context.Context) (*model.WeatherReport, error) {
	list, err := r.List(ctx, ListOptions{Order: NewestFirst, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// Insert posts a new report. On success w.ID and w.CreatedAt are populated
// from the stored row.
func (r *WeatherRepo) Insert(ctx context.Context, w *model.WeatherReport) error {
	w.ReportText = strings.TrimSpace(w.ReportText)
	if err := validateStruct(w); err != nil {
		return err
	}
	id, err := r.st.Insert(ctx, store.TableWeatherReports, store.Row{"report": w.ReportText})
	if err != nil {
		return storeErr("insert weather", err)
	}
	row, err := getByID(ctx, r.st, store.TableWeatherReports, id)
	if err != nil {
		w.ID = id
		return readBack(store.TableWeatherReports, id, err)
	}
	fresh, err := DecodeWeather(row)
	if err != nil {
		return err
	}
	*w = fresh
	return nil
}
