// README: Actor identity and the provider/verifier contracts used by sessions and HTTP.
package auth

import (
	"context"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

func (r Role) Valid() bool {
	return r == RolePassenger || r == RoleDriver
}

// Identity is the authenticated actor carried into every command.
type Identity struct {
	UserID types.ID `json:"user_id"`
	Role   Role     `json:"role"`
}

func (i Identity) Authenticated() bool {
	return i.UserID != "" && i.Role.Valid()
}

func (i Identity) IsDriver() bool { return i.Authenticated() && i.Role == RoleDriver }

// RequireRole returns ErrNotAuthenticated for an anonymous identity and
// ErrForbidden when the role does not match.
func (i Identity) RequireRole(role Role) error {
	if !i.Authenticated() {
		return apperr.ErrNotAuthenticated
	}
	if i.Role != role {
		return apperr.Forbidden("requires role " + string(role))
	}
	return nil
}

// Provider manages the identity of the local actor.
type Provider interface {
	CurrentIdentity() (Identity, bool)
	SignIn(ctx context.Context, role Role) (Identity, error)
	SignOut(ctx context.Context) error
}

// TokenVerifier resolves a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
