// Package auth renews the session's access token. The Refresher performs at
// most one refresh round-trip at a time no matter how many callers ask for
// one, and clears the session when renewal is impossible.
package auth

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/d-kuro/sessionclient/pkg/transport"
	"github.com/d-kuro/sessionclient/pkg/types"
)

// CredentialStore is the part of storage.CredentialStore the Refresher needs.
type CredentialStore interface {
	// AccessToken returns the stored access token or "".
	AccessToken() string

	// RefreshToken returns the stored refresh token or "".
	RefreshToken() string

	// Set stores credentials in the durable or session backend.
	Set(creds types.Credentials, persistent bool)

	// Clear removes all stored credentials.
	Clear()

	// ShouldPersist reports the recorded persistence mode.
	ShouldPersist() bool
}

// Publisher signals that the session can no longer be salvaged.
type Publisher interface {
	Publish()
}

// Doer sends one raw request without any 401 handling.
type Doer interface {
	Do(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error)
}

// TokenRefresher renews the access token.
type TokenRefresher interface {
	// Refresh returns a new access token, or an error when the session
	// is over.
	Refresh(ctx context.Context) (string, error)
}

var _ TokenRefresher = (*Refresher)(nil)
