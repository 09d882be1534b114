package middleware

// identity.go holds the accessors for the identity JWTAuth stores in the
// Echo context. Requests that did not pass JWTAuth read as "anon" with no
// portal.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/temple-portals/internal/model"
)

// Subject returns the authenticated subject, or "anon".
func Subject(c echo.Context) string {
	if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// Portal returns the authenticated portal type and whether there is one.
func Portal(c echo.Context) (model.PortalType, bool) {
	p, ok := c.Get(CtxPortal).(model.PortalType)
	return p, ok && p.Valid()
}
