// Package types provides the data structures shared by the session client
// packages: stored credentials, persistence mode and the identity endpoint
// wire formats.
package types

// RefreshRequest is the body sent to the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
