// README: Base handler utilities (JSON helpers, error mapping, query parsing).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts uuid-shaped ids: alphanumerics and dashes, at most 64 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeMessage(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrBadRequest), errors.Is(err, apperr.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrOrderNotOpen),
		errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeMessage(c, status, "internal error")
		return
	}
	writeMessage(c, status, err.Error())
}

func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeMessage(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// queryPoint reads lat/lng query parameters.
func queryPoint(c *gin.Context) (types.Point, bool) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	p := types.Point{Lat: lat, Lng: lng}
	if err1 != nil || err2 != nil || !p.Valid() {
		writeMessage(c, http.StatusBadRequest, "lat and lng are required")
		return types.Point{}, false
	}
	return p, true
}

func queryFloat(c *gin.Context, key string) float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

var (
	errInvalidLocation = apperr.BadRequest("location out of range")
	errMissingPickup   = apperr.BadRequest("pickup is required")
	errUnknownAction   = apperr.BadRequest("unknown action")
)
