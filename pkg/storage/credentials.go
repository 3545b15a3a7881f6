package storage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"

	"github.com/d-kuro/sessionclient/pkg/constants"
	"github.com/d-kuro/sessionclient/pkg/logging"
	"github.com/d-kuro/sessionclient/pkg/types"
)

var credentialKeys = []string{
	constants.KeyAccessToken,
	constants.KeyRefreshToken,
	constants.KeyPersistenceMode,
}

// CredentialStore keeps the session tokens in one of two backends: a durable
// one and a session-scoped one. After every Set or Clear at most one backend
// holds live tokens. Reads prefer the durable backend.
//
// Backend failures never reach the caller. They are logged and treated as
// "nothing stored".
type CredentialStore struct {
	durable Backend
	session Backend
	logger  logging.Logger
	mu      sync.RWMutex
}

// CredentialStoreOption configures a CredentialStore.
type CredentialStoreOption func(*CredentialStore)

// WithLogger sets the logger used to report degraded storage.
func WithLogger(logger logging.Logger) CredentialStoreOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCredentialStore creates a store over the given backends.
// A nil backend is treated as unavailable storage.
func NewCredentialStore(durable, session Backend, opts ...CredentialStoreOption) *CredentialStore {
	if durable == nil {
		durable = NopBackend{}
	}
	if session == nil {
		session = NopBackend{}
	}
	s := &CredentialStore{
		durable: durable,
		session: session,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "credential_store")
	return s
}

// Get returns the stored credentials. ok is false when no access token is stored.
func (s *CredentialStore) Get() (creds types.Credentials, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	access := s.read(constants.KeyAccessToken)
	if access == "" {
		return types.Credentials{}, false
	}
	return types.Credentials{
		AccessToken:  access,
		RefreshToken: s.read(constants.KeyRefreshToken),
	}, true
}

// AccessToken returns the stored access token or "".
func (s *CredentialStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(constants.KeyAccessToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *CredentialStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(constants.KeyRefreshToken)
}

// Set writes creds to the durable backend when persistent is true, to the
// session backend otherwise, and removes every trace from the other one.
// If the selected backend rejects the write the other backend is used, so the
// session keeps working for the current process.
func (s *CredentialStore) Set(creds types.Credentials, persistent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.backends(persistent)
	mode := types.ModeFor(persistent)

	if err := s.write(target, creds, mode); err != nil {
		s.logger.Warn(context.Background(), "credential write failed, using fallback backend",
			"backend", target.Name(), "fallback", other.Name(), "error", err)
		s.erase(target)
		if err := s.write(other, creds, mode); err != nil {
			s.logger.Warn(context.Background(), "credential fallback write failed",
				"backend", other.Name(), "error", err)
			s.erase(other)
		}
		return
	}
	s.erase(other)
}

// Clear removes tokens and mode flag from both backends.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.erase(s.durable)
	s.erase(s.session)
}

// ShouldPersist reports the last written persistence mode, defaulting to
// durable when none is recorded.
func (s *CredentialStore) ShouldPersist() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.PersistenceMode(s.read(constants.KeyPersistenceMode)).Persistent()
}

// Mode returns the recorded persistence mode.
func (s *CredentialStore) Mode() types.PersistenceMode {
	if s.ShouldPersist() {
		return types.ModeDurable
	}
	return types.ModeSession
}

// Token implements oauth2.TokenSource over the stored credentials.
func (s *CredentialStore) Token() (*oauth2.Token, error) {
	creds, ok := s.Get()
	if !ok {
		return nil, ErrStorageNotFound
	}
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}

var _ oauth2.TokenSource = (*CredentialStore)(nil)

func (s *CredentialStore) backends(persistent bool) (target, other Backend) {
	if persistent {
		return s.durable, s.session
	}
	return s.session, s.durable
}

// read returns the first value found for key, durable backend first.
func (s *CredentialStore) read(key string) string {
	for _, b := range []Backend{s.durable, s.session} {
		v, err := b.Get(key)
		if err == nil && v != "" {
			return v
		}
		if err != nil && !errors.Is(err, ErrStorageNotFound) {
			s.logger.Debug(context.Background(), "credential read failed", "backend", b.Name(), "key", key, "error", err)
		}
	}
	return ""
}

func (s *CredentialStore) write(b Backend, creds types.Credentials, mode types.PersistenceMode) error {
	if err := b.Set(constants.KeyAccessToken, creds.AccessToken); err != nil {
		return err
	}
	if creds.RefreshToken != "" {
		if err := b.Set(constants.KeyRefreshToken, creds.RefreshToken); err != nil {
			return err
		}
	} else if err := b.Delete(constants.KeyRefreshToken); err != nil {
		return err
	}
	return b.Set(constants.KeyPersistenceMode, string(mode))
}

func (s *CredentialStore) erase(b Backend) {
	for _, key := range credentialKeys {
		if err := b.Delete(key); err != nil {
			s.logger.Debug(context.Background(), "credential delete failed", "backend", b.Name(), "key", key, "error", err)
		}
	}
}
