package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/approval"
	"github.com/iliyamo/temple-portals/internal/middleware"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
)

// ManagementHandler serves the management portal's writes. Every write is a
// synchronous store round trip; the other portals learn about it from the
// change feed, never from this handler.
type ManagementHandler struct {
	Weather       *repository.WeatherRepo
	Announcements *repository.AnnouncementRepo
	Prices        *repository.TicketPriceRepo
	Routes        *repository.RouteMapRepo
	Gallery       *repository.GalleryRepo
	Approvals     *approval.Workflow
}

// NewManagementHandler panics if any dependency is nil.
func NewManagementHandler(weather *repository.WeatherRepo, ann *repository.AnnouncementRepo, prices *repository.TicketPriceRepo,
	routes *repository.RouteMapRepo, gallery *repository.GalleryRepo, approvals *approval.Workflow) *ManagementHandler {
	if weather == nil || ann == nil || prices == nil || routes == nil || gallery == nil || approvals == nil {
		panic("nil dependency passed to NewManagementHandler")
	}
	return &ManagementHandler{
		Weather:       weather,
		Announcements: ann,
		Prices:        prices,
		Routes:        routes,
		Gallery:       gallery,
		Approvals:     approvals,
	}
}

// PostWeather handles POST /v1/management/weather.
func (h *ManagementHandler) PostWeather(c echo.Context) error {
	var body struct {
		ReportText string `json:"report_text"`
	}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c)
	}
	w := model.WeatherReport{ReportText: body.ReportText}
	err := h.Weather.Insert(c.Request().Context(), &w)
	return written(c, http.StatusCreated, w.ID, w, err)
}

// PostAnnouncement handles POST /v1/management/announcements.
func (h *ManagementHandler) PostAnnouncement(c echo.Context) error {
	var body struct {
		PortalType string `json:"portal_type"`
		Title      string `json:"title"`
		Body       string `json:"body"`
	}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c)
	}
	a := model.Announcement{PortalType: model.PortalType(body.PortalType), Title: body.Title, Body: body.Body}
	err := h.Announcements.Insert(c.Request().Context(), &a)
	if err == nil {
		middleware.Log(c).WithFields(logrus.Fields{
			"id":      a.ID,
			"portal":  a.PortalType,
			"subject": middleware.Subject(c),
		}).Info("announcement posted")
	}
	return written(c, http.StatusCreated, a.ID, a, err)
}

// ListTicketPrices handles GET /v1/management/ticket-prices. It reads the
// store directly so an editor always starts from the committed version.
func (h *ManagementHandler) ListTicketPrices(c echo.Context) error {
	prices, err := h.Prices.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": prices})
}

// UpdateTicketPrice handles PUT /v1/management/ticket-prices/:id.
func (h *ManagementHandler) UpdateTicketPrice(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return invalidID(c)
	}
	var body struct {
		Price           *decimal.Decimal `json:"price"`
		ExpectedVersion *uint64          `json:"expected_version"`
	}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c)
	}
	if body.Price == nil {
		return writeError(c, &repository.ValidationError{Fields: []repository.FieldError{{Field: "price", Reason: "required"}}})
	}
	p, err := h.Prices.UpdateByID(c.Request().Context(), id, model.TicketPricePatch{
		Price:           *body.Price,
		ExpectedVersion: body.ExpectedVersion,
	})
	return written(c, http.StatusOK, id, p, err)
}

// PostRouteMap handles POST /v1/management/route-maps.
func (h *ManagementHandler) PostRouteMap(c echo.Context) error {
	var m model.RouteMap
	if err := c.Bind(&m); err != nil {
		return invalidBody(c)
	}
	m.ID = 0
	err := h.Routes.Insert(c.Request().Context(), &m)
	return written(c, http.StatusCreated, m.ID, m, err)
}

// PostGalleryItem handles POST /v1/management/gallery.
func (h *ManagementHandler) PostGalleryItem(c echo.Context) error {
	var g model.GalleryItem
	if err := c.Bind(&g); err != nil {
		return invalidBody(c)
	}
	g.ID = 0
	err := h.Gallery.Insert(c.Request().Context(), &g)
	return written(c, http.StatusCreated, g.ID, g, err)
}

// ListPendingAccounts handles GET /v1/management/accounts/pending.
func (h *ManagementHandler) ListPendingAccounts(c echo.Context) error {
	accounts, err := h.Approvals.Pending(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": accounts})
}

// ApproveAccount handles POST /v1/management/accounts/:id/approve.
func (h *ManagementHandler) ApproveAccount(c echo.Context) error {
	return h.decide(c, h.Approvals.Approve)
}

// RejectAccount handles POST /v1/management/accounts/:id/reject.
func (h *ManagementHandler) RejectAccount(c echo.Context) error {
	return h.decide(c, h.Approvals.Reject)
}

func (h *ManagementHandler) decide(c echo.Context, fn func(ctx context.Context, id uint64) (*model.PendingAccount, error)) error {
	id, ok := parseID(c)
	if !ok {
		return invalidID(c)
	}
	acc, err := fn(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, acc)
}
