package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/temple-portals/internal/middleware"
	"github.com/iliyamo/temple-portals/internal/notify"
)

// NotificationHandler serves the notification bell of the caller's portal.
type NotificationHandler struct {
	Hub *notify.Hub
}

// NewNotificationHandler panics on a nil hub.
func NewNotificationHandler(hub *notify.Hub) *NotificationHandler {
	if hub == nil {
		panic("nil hub passed to NewNotificationHandler")
	}
	return &NotificationHandler{Hub: hub}
}

// aggregator returns the caller's aggregator. On failure the response is
// already written and the aggregator is nil.
func (h *NotificationHandler) aggregator(c echo.Context) (*notify.Aggregator, error) {
	p, ok := middleware.Portal(c)
	if !ok {
		return nil, c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	agg, ok := h.Hub.For(p)
	if !ok {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "unknown portal"})
	}
	return agg, nil
}

// Surface handles GET /v1/portals/:portal/notifications. The optional limit
// query parameter caps recent_events.
func (h *NotificationHandler) Surface(c echo.Context) error {
	agg, err := h.aggregator(c)
	if agg == nil {
		return err
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		return c.JSON(http.StatusOK, notify.Surface{
			UnreadCount:  agg.UnreadCount(),
			RecentEvents: agg.RecentEvents(limit),
		})
	}
	return c.JSON(http.StatusOK, agg.Surface())
}

// Open handles POST /v1/portals/:portal/notifications/open: it returns the
// surface as shown and clears the unread count.
func (h *NotificationHandler) Open(c echo.Context) error {
	agg, err := h.aggregator(c)
	if agg == nil {
		return err
	}
	return c.JSON(http.StatusOK, agg.Open())
}

// MarkAllRead handles POST /v1/portals/:portal/notifications/read.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	agg, err := h.aggregator(c)
	if agg == nil {
		return err
	}
	agg.MarkAllRead()
	return c.NoContent(http.StatusNoContent)
}
