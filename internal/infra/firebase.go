// README: Firebase Admin SDK initialisation and ID-token verifier producing auth identities.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/types"
)

// roleClaim is the custom claim holding the actor's role.
const roleClaim = "role"

// FirebaseVerifier implements auth.TokenVerifier with the Firebase Admin SDK.
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier creates a verifier using the Firebase Admin SDK.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (auth.Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", apperr.ErrNotAuthenticated, err)
	}
	return identityFromClaims(token.UID, token.Claims)
}

func identityFromClaims(uid string, claims map[string]interface{}) (auth.Identity, error) {
	role, _ := claims[roleClaim].(string)
	id := auth.Identity{UserID: types.ID(uid), Role: auth.Role(role)}
	if !id.Authenticated() {
		return auth.Identity{}, fmt.Errorf("%w: token has no valid role claim", apperr.ErrNotAuthenticated)
	}
	return id, nil
}
