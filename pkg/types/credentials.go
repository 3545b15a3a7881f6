package types

// Credentials holds the bearer tokens of the current session.
// An empty RefreshToken means no refresh token was issued.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// HasRefreshToken reports whether the credentials can be renewed.
func (c Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// PersistenceMode selects which storage backend receives credential writes.
type PersistenceMode string

const (
	// ModeDurable keeps credentials across restarts.
	ModeDurable PersistenceMode = "durable"
	// ModeSession keeps credentials for the lifetime of the process only.
	ModeSession PersistenceMode = "session"
)

// ModeFor returns the mode matching the persistent flag.
func ModeFor(persistent bool) PersistenceMode {
	if persistent {
		return ModeDurable
	}
	return ModeSession
}

// Persistent reports whether the mode is durable. Unknown values count as
// durable.
func (m PersistenceMode) Persistent() bool {
	return m != ModeSession
}

// ActivitySnapshot is the observable state of the request activity tracker.
type ActivitySnapshot struct {
	ActiveRequests int `json:"activeRequests"`
}

// Busy reports whether at least one request is in flight.
func (s ActivitySnapshot) Busy() bool {
	return s.ActiveRequests > 0
}
