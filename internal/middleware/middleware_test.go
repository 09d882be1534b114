package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-portals/internal/config"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/utils"
)

const secret = "test-secret"

func token(t *testing.T, subject string, p model.PortalType) string {
	t.Helper()
	tok, err := utils.NewPortalToken(secret, subject, string(p), time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func newEcho() *echo.Echo {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret))
	g.GET("/whoami", func(c echo.Context) error {
		p, _ := Portal(c)
		return c.String(http.StatusOK, Subject(c)+"@"+string(p))
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		RequirePortal(model.PortalManagement))
	g.GET("/portals/:portal/feed", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		SamePortal())
	return e
}

func do(e *echo.Echo, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newEcho()

	rec := do(e, "/v1/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing bearer token")

	rec = do(e, "/v1/whoami", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad, err := utils.NewPortalToken(secret, "X1", "temple-office", time.Hour)
	require.NoError(t, err)
	rec = do(e, "/v1/whoami", bad.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid claims")

	rec = do(e, "/v1/whoami", token(t, "SEVA001", model.PortalSeva))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SEVA001@seva", rec.Body.String())

	rec = do(e, "/v1/whoami?access_token="+token(t, "D1", model.PortalDevotee), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "D1@devotee", rec.Body.String())
}

func TestRequirePortal(t *testing.T) {
	e := newEcho()
	assert.Equal(t, http.StatusForbidden, do(e, "/v1/admin", token(t, "SEVA001", model.PortalSeva)).Code)
	assert.Equal(t, http.StatusNoContent, do(e, "/v1/admin", token(t, "MGMT001", model.PortalManagement)).Code)
}

func TestSamePortal(t *testing.T) {
	e := newEcho()
	devotee := token(t, "D1", model.PortalDevotee)
	assert.Equal(t, http.StatusNoContent, do(e, "/v1/portals/devotee/feed", devotee).Code)
	assert.Equal(t, http.StatusForbidden, do(e, "/v1/portals/seva/feed", devotee).Code)
	assert.Equal(t, http.StatusNotFound, do(e, "/v1/portals/cinema/feed", devotee).Code)
}

func TestTokenBucketWithoutRedisPassesThrough(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	mw := NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, logger)

	called := false
	h := mw(func(c echo.Context) error { called = true; return nil })
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	require.NoError(t, h(c))
	assert.True(t, called)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/v1/management/ticket-prices/3", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/management/ticket-prices/:id")
	c.Set(CtxSubject, "MGMT001")
	c.Set(CtxPortal, model.PortalManagement)

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:portal:management:sub:MGMT001:route:PUT /v1/management/ticket-prices/:id", buildRateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.7", buildRateKey(cfg, c))
}

func TestRequestLoggerTagsEntries(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/v1/things/:id", func(c echo.Context) error {
		Log(c).WithField("id", c.Param("id")).Warn("thing missing")
		return echo.NewHTTPError(http.StatusNotFound, "gone")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/things/9", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(echo.HeaderXRequestID))
	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "thing missing", entries[0].Message)
	assert.Equal(t, "req-42", entries[0].Data["request_id"])
	assert.Equal(t, "/v1/things/:id", entries[0].Data["route"])
	assert.Equal(t, "request", entries[1].Message)
	assert.Equal(t, http.StatusNotFound, entries[1].Data["status"])
	assert.Equal(t, "anon", entries[1].Data["subject"])
}
