package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// Health is the liveness probe used by load balancers.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 200 once every portal session is live and 503 while any
// session is still connecting, reconnecting or stopped. The body carries
// every session's status either way.
func Ready(m *syncengine.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		statuses := m.Statuses()
		code := http.StatusOK
		for _, st := range statuses {
			if st.State != syncengine.Live.String() {
				code = http.StatusServiceUnavailable
			}
		}
		return c.JSON(code, map[string]any{"sessions": statuses})
	}
}
