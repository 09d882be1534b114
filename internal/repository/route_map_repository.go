package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// RouteMapRepo encapsulates access to route_maps (append-only).
type RouteMapRepo struct {
	st store.Store
}

// NewRouteMapRepo constructs a RouteMapRepo given a store handle.
func NewRouteMapRepo(st store.Store) *RouteMapRepo {
	return &RouteMapRepo{st: st}
}

// List returns route maps ordered by creation time.
func (r *RouteMapRepo) List(ctx context.Context, opts ListOptions) ([]model.RouteMap, error) {
	rows, err := r.st.Select(ctx, store.TableRouteMaps, opts.filter("created_at", nil))
	if err != nil {
		return nil, storeErr("list route maps", err)
	}
	return decodeAll(rows, DecodeRouteMap)
}

// Insert publishes a route map.
func (r *RouteMapRepo) Insert(ctx context.Context, m *model.RouteMap) error {
	m.Title = strings.TrimSpace(m.Title)
	m.Description = strings.TrimSpace(m.Description)
	if err := validateStruct(m); err != nil {
		return err
	}
	id, err := r.st.Insert(ctx, store.TableRouteMaps, store.Row{
		"title":       m.Title,
		"description": m.Description,
		"map_data":    m.MapData,
	})
	if err != nil {
		return storeErr("insert route map", err)
	}
	row, err := getByID(ctx, r.st, store.TableRouteMaps, id)
	if err != nil {
		m.ID = id
		return readBack(store.TableRouteMaps, id, err)
	}
	fresh, err := DecodeRouteMap(row)
	if err != nil {
		return err
	}
	*m = fresh
	return nil
}
