package types

// TokenResponse is the body returned by the refresh and login endpoints.
// RefreshToken is optional: when omitted the previous refresh token stays valid.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Credentials converts the response into credentials, keeping previous as
// the refresh token when the server did not rotate it.
func (r *TokenResponse) Credentials(previous string) Credentials {
	refresh := r.RefreshToken
	if refresh == "" {
		refresh = previous
	}
	return Credentials{AccessToken: r.AccessToken, RefreshToken: refresh}
}
