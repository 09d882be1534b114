package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// AnnouncementRepo encapsulates access to announcements. The table is an
// append-only log partitioned by portal type.
type AnnouncementRepo struct {
	st store.Store
}

// NewAnnouncementRepo constructs an AnnouncementRepo given a store handle.
func NewAnnouncementRepo(st store.Store) *AnnouncementRepo {
	return &AnnouncementRepo{st: st}
}

// List returns the announcements targeted at portal.
func (r *AnnouncementRepo) List(ctx context.Context, portal model.PortalType, opts ListOptions) ([]model.Announcement, error) {
	if !portal.AnnouncementScope() {
		return nil, invalid("portal_type", "oneof=devotee seva")
	}
	f := opts.filter("created_at", map[string]any{"portal_type": string(portal)})
	rows, err := r.st.Select(ctx, store.TableAnnouncements, f)
	if err != nil {
		return nil, storeErr("list announcements", err)
	}
	return decodeAll(rows, DecodeAnnouncement)
}

// Insert posts an announcement. Title and body must be non-empty after
// trimming and the portal must be devotee or seva; otherwise a
// *ValidationError is returned and nothing is written.
func (r *AnnouncementRepo) Insert(ctx context.Context, a *model.Announcement) error {
	a.Title = strings.TrimSpace(a.Title)
	a.Body = strings.TrimSpace(a.Body)
	if err := validateStruct(a); err != nil {
		return err
	}
	id, err := r.st.Insert(ctx, store.TableAnnouncements, store.Row{
		"portal_type": string(a.PortalType),
		"title":       a.Title,
		"content":     a.Body,
	})
	if err != nil {
		return storeErr("insert announcement", err)
	}
	row, err := getByID(ctx, r.st, store.TableAnnouncements, id)
	if err != nil {
		a.ID = id
		return readBack(store.TableAnnouncements, id, err)
	}
	fresh, err := DecodeAnnouncement(row)
	if err != nil {
		return err
	}
	*a = fresh
	return nil
}
