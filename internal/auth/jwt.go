// README: HS256 JWT issuing and verification; JWTProvider keeps the signed-in identity of one client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

const defaultTokenTTL = 24 * time.Hour

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIssuer(secret, issuer string, ttl time.Duration) *JWTIssuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (j *JWTIssuer) Issue(id Identity) (string, error) {
	if !id.Authenticated() {
		return "", apperr.ErrNotAuthenticated
	}
	now := j.now()
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify implements TokenVerifier.
func (j *JWTIssuer) Verify(_ context.Context, token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.now))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrNotAuthenticated, err)
	}
	id := Identity{UserID: types.ID(claims.Subject), Role: claims.Role}
	if !id.Authenticated() {
		return Identity{}, apperr.ErrNotAuthenticated
	}
	return id, nil
}

// JWTProvider signs a client in anonymously under a fresh user id.
type JWTProvider struct {
	issuer *JWTIssuer

	mu      sync.RWMutex
	current *Identity
	token   string
}

func NewJWTProvider(issuer *JWTIssuer) *JWTProvider {
	return &JWTProvider{issuer: issuer}
}

func (p *JWTProvider) CurrentIdentity() (Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return Identity{}, false
	}
	return *p.current, true
}

// Token returns the bearer token of the signed-in identity, if any.
func (p *JWTProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *JWTProvider) SignIn(_ context.Context, role Role) (Identity, error) {
	if !role.Valid() {
		return Identity{}, apperr.BadRequest("unknown role " + string(role))
	}
	id := Identity{UserID: types.ID(uuid.NewString()), Role: role}
	token, err := p.issuer.Issue(id)
	if err != nil {
		return Identity{}, err
	}
	p.mu.Lock()
	p.current = &id
	p.token = token
	p.mu.Unlock()
	return id, nil
}

func (p *JWTProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return errors.New("not signed in")
	}
	p.current = nil
	p.token = ""
	return nil
}
