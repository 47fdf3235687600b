// README: Tests for the bearer auth middleware.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridecore/internal/auth"
	"ridecore/internal/http/middleware"
)

// stubVerifier is a test double for auth.TokenVerifier.
type stubVerifier struct {
	id  auth.Identity
	err error
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (auth.Identity, error) {
	return s.id, s.err
}

func newTestRouter(verifier auth.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		id := middleware.Identity(c)
		c.JSON(http.StatusOK, gin.H{"uid": id.UserID, "role": id.Role})
	})
	r.GET("/drivers-only", middleware.RequireRole(auth.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: auth.Identity{UserID: "user1", Role: auth.RolePassenger}})
	if w := do(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: auth.Identity{UserID: "user1", Role: auth.RolePassenger}})
	if w := do(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := do(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_IdentityPopulated(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: auth.Identity{UserID: "driver123", Role: auth.RoleDriver}})
	w := do(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "driver123") || !strings.Contains(body, `"driver"`) {
		t.Errorf("expected uid and role in body, got %s", body)
	}
}

func TestAuth_QueryTokenFallback(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: auth.Identity{UserID: "p1", Role: auth.RolePassenger}})
	if w := do(r, "/test?access_token=abc", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: auth.Identity{UserID: "p1", Role: auth.RolePassenger}})
	if w := do(r, "/drivers-only", "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	r = newTestRouter(&stubVerifier{id: auth.Identity{UserID: "d1", Role: auth.RoleDriver}})
	if w := do(r, "/drivers-only", "Bearer t"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}
