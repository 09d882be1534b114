package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/temple-portals/internal/approval"
	"github.com/iliyamo/temple-portals/internal/middleware"
	"github.com/iliyamo/temple-portals/internal/repository"
)

// writeError maps a domain error to its status code and error code. Each
// failure class gets a distinct pair so front-ends can tell them apart.
func writeError(c echo.Context, err error) error {
	var verr *repository.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":  "validation_error",
			"fields": verr.Fields,
		})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, approval.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, approval.ErrInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": "approval_in_progress"})
	case errors.Is(err, repository.ErrVersionConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": "version_conflict"})
	case errors.Is(err, repository.ErrDuplicate):
		return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate"})
	case errors.Is(err, repository.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
	}
	middleware.Log(c).WithError(err).Error("request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
}

// written answers a write. A failed read-back still means the row was
// committed, so the client gets 202 with the id rather than an error it
// might retry into a duplicate.
func written(c echo.Context, status int, id uint64, v any, err error) error {
	if errors.Is(err, repository.ErrReadBack) {
		middleware.Log(c).WithError(err).WithField("id", id).Warn("write committed, read-back failed")
		return c.JSON(http.StatusAccepted, map[string]any{"id": id, "error": "read_back_failed"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(status, v)
}

func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func invalidID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
}
