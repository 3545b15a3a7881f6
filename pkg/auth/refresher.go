package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/d-kuro/sessionclient/pkg/constants"
	"github.com/d-kuro/sessionclient/pkg/logging"
	"github.com/d-kuro/sessionclient/pkg/transport"
	"github.com/d-kuro/sessionclient/pkg/types"
)

// There is exactly one session per Refresher, so every caller shares one flight.
const refreshKey = "session"

// Refresher renews the access token with single-flight semantics: while a
// refresh is in progress every caller waits for that same round-trip instead
// of starting another one. The flight is released when it returns, whatever
// the outcome, so the next caller starts a fresh attempt.
type Refresher struct {
	store   CredentialStore
	events  Publisher
	doer    Doer
	path    string
	timeout time.Duration
	logger  logging.Logger

	group singleflight.Group
	calls atomic.Int64
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshPath sets the refresh endpoint path (default "/auth/refresh").
func WithRefreshPath(path string) RefresherOption {
	return func(r *Refresher) {
		r.path = path
	}
}

// WithRefreshTimeout bounds a single refresh round-trip.
func WithRefreshTimeout(timeout time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRefresher creates a Refresher. doer must be the raw transport, never a
// client that itself reacts to 401 responses.
func NewRefresher(store CredentialStore, events Publisher, doer Doer, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:   store,
		events:  events,
		doer:    doer,
		path:    constants.DefaultRefreshPath,
		timeout: constants.TokenRefreshTimeout,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "refresher")
	return r
}

// Refresh returns a renewed access token. Concurrent callers share one
// network round-trip. On failure the credentials are cleared, one
// unauthorized event is published and an *AuthError is returned. Asking to
// renew when nothing is stored returns ErrNoRefreshToken without publishing.
//
// Cancelling ctx only abandons this caller's wait: the round-trip keeps
// running for the other callers and its result is still stored.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Calls reports how many refresh round-trips have been started.
func (r *Refresher) Calls() int64 {
	return r.calls.Load()
}

func (r *Refresher) refresh(ctx context.Context) (token string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &AuthError{Op: "refresh_token", Message: "refresh aborted", Err: fmt.Errorf("panic: %v", rec)}
			r.fail(ctx, err)
		}
	}()

	refreshToken := r.store.RefreshToken()
	if refreshToken == "" {
		err := &AuthError{Op: "refresh_token", Message: "session cannot be renewed", Err: ErrNoRefreshToken}
		// An empty store means the session already ended and was announced.
		if r.store.AccessToken() != "" {
			r.fail(ctx, err)
		}
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.calls.Add(1)
	start := time.Now()
	r.logger.Debug(ctx, "refreshing access token")

	tokens, err := Exchange(ctx, r.doer, r.path, types.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &AuthError{Op: "refresh_token", Message: "token refresh timeout", Err: err}
		} else {
			err = &AuthError{Op: "refresh_token", Message: "failed to refresh token", Err: err}
		}
		r.fail(ctx, err)
		return "", err
	}

	creds := tokens.Credentials(refreshToken)
	r.store.Set(creds, r.store.ShouldPersist())

	r.logger.Info(ctx, "access token refreshed",
		"rotated", tokens.RefreshToken != "",
		"duration", time.Since(start))
	return creds.AccessToken, nil
}

func (r *Refresher) fail(ctx context.Context, err error) {
	attrs := []any{"error", err}
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		attrs = append(attrs, "status", httpErr.StatusCode)
	}
	r.logger.Warn(ctx, "session renewal failed, clearing credentials", attrs...)

	r.store.Clear()
	r.events.Publish()
}
