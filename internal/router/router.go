// Package router registers the HTTP routes of the portal API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/temple-portals/internal/handler"
	"github.com/iliyamo/temple-portals/internal/middleware"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// RegisterRoutes registers the unauthenticated probes and the metrics
// endpoint.
func RegisterRoutes(e *echo.Echo, m *syncengine.Manager, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(m))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterPortal registers the per-portal read and notification routes.
// A caller only reaches the portal named in its token.
func RegisterPortal(e *echo.Echo, p *handler.PortalHandler, n *handler.NotificationHandler, jwtSecret string) {
	g := e.Group("/v1/portals/:portal", middleware.JWTAuth(jwtSecret), middleware.SamePortal())
	g.GET("/status", p.Status)
	g.GET("/weather", p.Weather)
	g.GET("/announcements", p.Announcements)
	g.GET("/ticket-prices", p.TicketPrices)
	g.GET("/route-maps", p.RouteMaps)
	g.GET("/gallery", p.Gallery)
	g.GET("/pending-accounts", p.PendingAccounts)

	g.GET("/notifications", n.Surface)
	g.POST("/notifications/open", n.Open)
	g.POST("/notifications/read", n.MarkAllRead)
	g.GET("/notifications/stream", n.Stream)
}

// RegisterManagement registers the management write routes. limiter may be
// nil to disable rate limiting.
func RegisterManagement(e *echo.Echo, h *handler.ManagementHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mws := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret), middleware.RequirePortal(model.PortalManagement)}
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := e.Group("/v1/management", mws...)
	g.POST("/weather", h.PostWeather)
	g.POST("/announcements", h.PostAnnouncement)
	g.GET("/ticket-prices", h.ListTicketPrices)
	g.PUT("/ticket-prices/:id", h.UpdateTicketPrice)
	g.POST("/route-maps", h.PostRouteMap)
	g.POST("/gallery", h.PostGalleryItem)
	g.GET("/accounts/pending", h.ListPendingAccounts)
	g.POST("/accounts/:id/approve", h.ApproveAccount)
	g.POST("/accounts/:id/reject", h.RejectAccount)
}
