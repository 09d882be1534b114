package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // http package defines standard HTTP status codes

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/temple-portals/internal/model"
)

// RequirePortal returns a middleware that lets the request through only
// when the authenticated portal is one of portals. It assumes JWTAuth ran
// first; a missing portal is treated like a wrong one.
func RequirePortal(portals ...model.PortalType) echo.MiddlewareFunc {
	allowed := make(map[model.PortalType]bool, len(portals))
	for _, p := range portals {
		allowed[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := Portal(c)
			if !ok || !allowed[p] {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// SamePortal rejects requests whose :portal path parameter differs from the
// authenticated portal.
func SamePortal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			target, err := model.ParsePortalType(c.Param("portal"))
			if err != nil {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
			}
			p, ok := Portal(c)
			if !ok || p != target {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
