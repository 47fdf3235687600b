package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridecore/internal/apperr"
)

func TestJWTRoundTrip(t *testing.T) {
	iss := NewJWTIssuer("secret", "ridecore", time.Hour)
	p := NewJWTProvider(iss)

	if _, ok := p.CurrentIdentity(); ok {
		t.Fatalf("expected no identity before sign in")
	}
	id, err := p.SignIn(context.Background(), RoleDriver)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	got, err := iss.Verify(context.Background(), p.Token())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != id {
		t.Fatalf("expected %+v, got %+v", id, got)
	}
	if err := p.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, ok := p.CurrentIdentity(); ok {
		t.Fatalf("expected identity cleared")
	}
}

func TestJWTRejectsForeignSecretAndExpiry(t *testing.T) {
	iss := NewJWTIssuer("secret", "ridecore", time.Minute)
	token, err := iss.Issue(Identity{UserID: "u1", Role: RolePassenger})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewJWTIssuer("other", "ridecore", time.Minute)
	if _, err := other.Verify(context.Background(), token); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := iss.Verify(context.Background(), token); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	if err := (Identity{}).RequireRole(RoleDriver); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	p := Identity{UserID: "p1", Role: RolePassenger}
	if err := p.RequireRole(RoleDriver); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := p.RequireRole(RolePassenger); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsDriver(t *testing.T) {
	cases := []struct {
		id   Identity
		want bool
	}{
		{Identity{UserID: "d1", Role: RoleDriver}, true},
		{Identity{UserID: "p1", Role: RolePassenger}, false},
		{Identity{Role: RoleDriver}, false},
		{Identity{UserID: "x", Role: Role("admin")}, false},
	}
	for _, tc := range cases {
		if got := tc.id.IsDriver(); got != tc.want {
			t.Errorf("%+v.IsDriver() = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestSignInRejectsUnknownRole(t *testing.T) {
	p := NewJWTProvider(NewJWTIssuer("secret", "ridecore", 0))
	if _, err := p.SignIn(context.Background(), Role("admin")); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
