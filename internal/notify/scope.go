package notify

import (
	"fmt"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// scopes lists the resources each portal is notified about. Announcements
// are further restricted by their portal_type column.
var scopes = map[model.PortalType]map[string]bool{
	model.PortalDevotee: {
		store.TableAnnouncements:  true,
		store.TableWeatherReports: true,
		store.TableRouteMaps:      true,
	},
	model.PortalSeva: {
		store.TableAnnouncements:  true,
		store.TableWeatherReports: true,
	},
	model.PortalPilgrimage: {
		store.TableWeatherReports: true,
		store.TableRouteMaps:      true,
		store.TableGallery:        true,
	},
	model.PortalManagement: {
		store.TablePendingAccounts: true,
		store.TableTicketPrices:    true,
	},
}

// InScope reports whether ev may be shown to portal p.
func InScope(p model.PortalType, ev syncengine.Event) bool {
	if !scopes[p][ev.Resource] {
		return false
	}
	if ev.Resource == store.TableAnnouncements {
		return ev.Row.String("portal_type") == string(p)
	}
	return true
}

// Summarize renders the one-line text of a notification. It returns false
// for events that are not worth a notification, such as removals.
func Summarize(ev syncengine.Event) (string, bool) {
	r := ev.Row
	switch ev.Resource {
	case store.TableWeatherReports:
		if ev.Kind == store.OpInsert {
			return "Weather update: " + r.String("report"), true
		}
	case store.TableAnnouncements:
		if ev.Kind == store.OpInsert {
			return "New announcement: " + r.String("title"), true
		}
	case store.TableRouteMaps:
		if ev.Kind == store.OpInsert {
			return "New route map: " + r.String("title"), true
		}
	case store.TableGallery:
		if ev.Kind == store.OpInsert {
			return "New in the gallery: " + r.String("title"), true
		}
	case store.TablePendingAccounts:
		if ev.Kind == store.OpInsert {
			return fmt.Sprintf("New staff account awaiting approval: %s (%s)", r.String("name"), r.String("assigned_id")), true
		}
	case store.TableTicketPrices:
		switch ev.Kind {
		case store.OpInsert:
			return fmt.Sprintf("New ticket type %s at ₹%s", r.String("ticket_type"), r.String("price")), true
		case store.OpUpdate:
			return fmt.Sprintf("%s ticket price changed to ₹%s", r.String("ticket_type"), r.String("price")), true
		}
	}
	return "", false
}
