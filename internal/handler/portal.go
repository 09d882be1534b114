package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// PortalHandler serves each portal's live views. Reads never touch the
// store: they return what the portal's session currently mirrors.
type PortalHandler struct {
	Sessions *syncengine.Manager
}

// NewPortalHandler panics on a nil manager.
func NewPortalHandler(m *syncengine.Manager) *PortalHandler {
	if m == nil {
		panic("nil manager passed to NewPortalHandler")
	}
	return &PortalHandler{Sessions: m}
}

// session resolves the :portal path parameter and checks that the portal
// mirrors resource. An empty resource skips the profile check. On failure
// the response is already written and the session is nil.
func (h *PortalHandler) session(c echo.Context, resource string) (*syncengine.Session, error) {
	p, err := model.ParsePortalType(c.Param("portal"))
	if err != nil {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "unknown portal"})
	}
	if resource != "" && !mirrors(p, resource) {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "resource not shown on this portal"})
	}
	s, ok := h.Sessions.Session(p)
	if !ok {
		return nil, c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "session unavailable"})
	}
	return s, nil
}

func mirrors(p model.PortalType, resource string) bool {
	for _, res := range syncengine.Profile(p) {
		if res.Name == resource {
			return true
		}
	}
	return false
}

// listing wraps a view with its staleness flag.
func listing(s *syncengine.Session, resource string, items any) map[string]any {
	return map[string]any{"items": items, "stale": s.Stale(resource)}
}

// Weather handles GET /v1/portals/:portal/weather.
func (h *PortalHandler) Weather(c echo.Context) error {
	s, err := h.session(c, store.TableWeatherReports)
	if s == nil {
		return err
	}
	w, ok := s.CurrentWeather()
	if !ok {
		return c.JSON(http.StatusOK, map[string]any{"report": nil, "stale": s.Stale(store.TableWeatherReports)})
	}
	return c.JSON(http.StatusOK, map[string]any{"report": w, "stale": s.Stale(store.TableWeatherReports)})
}

// Announcements handles GET /v1/portals/:portal/announcements.
func (h *PortalHandler) Announcements(c echo.Context) error {
	s, err := h.session(c, store.TableAnnouncements)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, listing(s, store.TableAnnouncements, s.Announcements()))
}

// TicketPrices handles GET /v1/portals/:portal/ticket-prices.
func (h *PortalHandler) TicketPrices(c echo.Context) error {
	s, err := h.session(c, store.TableTicketPrices)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, listing(s, store.TableTicketPrices, s.TicketPrices()))
}

// RouteMaps handles GET /v1/portals/:portal/route-maps.
func (h *PortalHandler) RouteMaps(c echo.Context) error {
	s, err := h.session(c, store.TableRouteMaps)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, listing(s, store.TableRouteMaps, s.RouteMaps()))
}

// Gallery handles GET /v1/portals/:portal/gallery.
func (h *PortalHandler) Gallery(c echo.Context) error {
	s, err := h.session(c, store.TableGallery)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, listing(s, store.TableGallery, s.Gallery()))
}

// PendingAccounts handles GET /v1/portals/:portal/pending-accounts.
func (h *PortalHandler) PendingAccounts(c echo.Context) error {
	s, err := h.session(c, store.TablePendingAccounts)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, listing(s, store.TablePendingAccounts, s.PendingAccounts()))
}

// Status handles GET /v1/portals/:portal/status.
func (h *PortalHandler) Status(c echo.Context) error {
	s, err := h.session(c, "")
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Status())
}
