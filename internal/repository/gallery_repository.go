package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// GalleryRepo encapsulates access to gallery (append-only, newest first).
type GalleryRepo struct {
	st store.Store
}

// NewGalleryRepo constructs a GalleryRepo given a store handle.
func NewGalleryRepo(st store.Store) *GalleryRepo {
	return &GalleryRepo{st: st}
}

// List returns gallery items ordered by creation time.
func (r *GalleryRepo) List(ctx context.Context, opts ListOptions) ([]model.GalleryItem, error) {
	rows, err := r.st.Select(ctx, store.TableGallery, opts.filter("created_at", nil))
	if err != nil {
		return nil, storeErr("list gallery", err)
	}
	return decodeAll(rows, DecodeGalleryItem)
}

// Insert adds an image to the gallery.
func (r *GalleryRepo) Insert(ctx context.Context, g *model.GalleryItem) error {
	g.Title = strings.TrimSpace(g.Title)
	g.ImageURL = strings.TrimSpace(g.ImageURL)
	if err := validateStruct(g); err != nil {
		return err
	}
	row := store.Row{"title": g.Title, "image_url": g.ImageURL}
	if g.Description != nil {
		row["description"] = *g.Description
	}
	id, err := r.st.Insert(ctx, store.TableGallery, row)
	if err != nil {
		return storeErr("insert gallery item", err)
	}
	stored, err := getByID(ctx, r.st, store.TableGallery, id)
	if err != nil {
		g.ID = id
		return readBack(store.TableGallery, id, err)
	}
	fresh, err := DecodeGalleryItem(stored)
	if err != nil {
		return err
	}
	*g = fresh
	return nil
}
