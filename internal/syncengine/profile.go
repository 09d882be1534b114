package syncengine

import (
	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// Resource describes how one portal session mirrors one table.
type Resource struct {
	// Name is the store table.
	Name string
	// Filter is used for the initial and every later full read.
	Filter store.Filter
	// Mask restricts the feed to some operations; zero subscribes to all.
	Mask store.EventMask
	// FeedFilter drops feed rows that can never belong to this portal,
	// such as announcements addressed to another portal. It must only test
	// immutable columns.
	FeedFilter changefeed.Predicate
	// Keep is the membership predicate for mutable columns. A row that
	// stops satisfying it is removed from the view.
	Keep func(store.Row) bool
	// Less orders rows for display.
	Less func(a, b store.Row) bool
	// Cap bounds the view; the lowest ranked rows are dropped. Zero means
	// unbounded.
	Cap int
}

func byID(a, b store.Row) bool { return a.ID() < b.ID() }

func newestFirst(col string) func(a, b store.Row) bool {
	return func(a, b store.Row) bool {
		ta, _ := a.Time(col)
		tb, _ := b.Time(col)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID() > b.ID()
	}
}

func byColumn(col string) func(a, b store.Row) bool {
	return func(a, b store.Row) bool {
		sa, sb := a.String(col), b.String(col)
		if sa != sb {
			return sa < sb
		}
		return a.ID() < b.ID()
	}
}

func weatherResource() Resource {
	return Resource{
		Name:   store.TableWeatherReports,
		Filter: store.Filter{OrderBy: "created_at", Desc: true, Limit: 1},
		Less:   newestFirst("created_at"),
		Cap:    1,
	}
}

func announcementResource(p model.PortalType) Resource {
	scope := string(p)
	return Resource{
		Name:       store.TableAnnouncements,
		Filter:     store.Filter{Eq: map[string]any{"portal_type": scope}, OrderBy: "created_at", Desc: true},
		FeedFilter: func(r store.Row) bool { return r.String("portal_type") == scope },
		Less:       newestFirst("created_at"),
	}
}

func ticketPriceResource() Resource {
	return Resource{
		Name:   store.TableTicketPrices,
		Filter: store.Filter{OrderBy: "ticket_type"},
		Less:   byColumn("ticket_type"),
	}
}

func routeMapResource() Resource {
	return Resource{
		Name:   store.TableRouteMaps,
		Filter: store.Filter{OrderBy: "created_at", Desc: true},
		Less:   newestFirst("created_at"),
	}
}

func galleryResource() Resource {
	return Resource{
		Name:   store.TableGallery,
		Filter: store.Filter{OrderBy: "created_at", Desc: true},
		Less:   newestFirst("created_at"),
	}
}

func pendingAccountResource() Resource {
	pending := string(model.AccountPending)
	return Resource{
		Name:   store.TablePendingAccounts,
		Filter: store.Filter{Eq: map[string]any{"status": pending}, OrderBy: "id"},
		Keep:   func(r store.Row) bool { return r.String("status") == pending },
		Less:   byID,
	}
}

// Profile returns the resources a portal session mirrors.
func Profile(p model.PortalType) []Resource {
	switch p {
	case model.PortalDevotee:
		return []Resource{weatherResource(), announcementResource(p), routeMapResource(), ticketPriceResource()}
	case model.PortalSeva:
		return []Resource{weatherResource(), announcementResource(p), ticketPriceResource()}
	case model.PortalPilgrimage:
		return []Resource{weatherResource(), routeMapResource(), galleryResource(), ticketPriceResource()}
	case model.PortalManagement:
		return []Resource{weatherResource(), ticketPriceResource(), pendingAccountResource(), galleryResource(), routeMapResource()}
	}
	return nil
}
