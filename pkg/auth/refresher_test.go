package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/d-kuro/sessionclient/pkg/events"
	"github.com/d-kuro/sessionclient/pkg/storage"
	"github.com/d-kuro/sessionclient/pkg/transport"
	"github.com/d-kuro/sessionclient/pkg/types"
)

type refreshFixture struct {
	store     *storage.CredentialStore
	bus       *events.Bus
	refresher *Refresher
	hits      atomic.Int32
	published atomic.Int32
}

// newRefreshFixture starts an identity server whose /auth/refresh handler is
// given by handler and wires a Refresher to it over in-memory storage.
func newRefreshFixture(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest)) *refreshFixture {
	t.Helper()
	f := &refreshFixture{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f.hits.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"), "refresh must not carry the expired bearer token")
		var body types.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	cfg := transport.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.HTTPClient = srv.Client()
	doer, err := transport.NewClient(cfg)
	require.NoError(t, err)

	f.store = storage.NewCredentialStore(storage.NewMemoryBackend(), storage.NewMemoryBackend())
	f.bus = events.NewBus(nil)
	f.bus.Subscribe(func() { f.published.Add(1) })
	f.refresher = NewRefresher(f.store, f.bus, doer)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRefresh_RetainsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		assert.Equal(t, "r1", body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a2"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	token, err := f.refresher.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a2", token)

	creds, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, types.Credentials{AccessToken: "a2", RefreshToken: "r1"}, creds)
	assert.True(t, f.store.ShouldPersist())
	assert.Equal(t, int32(0), f.published.Load())
	assert.Equal(t, int64(1), f.refresher.Calls())
}

func TestRefresh_StoresRotatedTokenInRecordedMode(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		writeJSON(w, http.StatusOK, types.TokenResponse{AccessToken: "a2", RefreshToken: "r2"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, false)

	token, err := f.refresher.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a2", token)

	creds, _ := f.store.Get()
	assert.Equal(t, "r2", creds.RefreshToken)
	assert.False(t, f.store.ShouldPersist(), "session mode is kept across refresh")
}

func TestRefresh_NoRefreshTokenSkipsNetwork(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		t.Error("refresh endpoint must not be called")
	})
	f.store.Set(types.Credentials{AccessToken: "a1"}, true)

	_, err := f.refresher.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "refresh_token", authErr.Op)

	_, ok := f.store.Get()
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.hits.Load())
	assert.Equal(t, int64(0), f.refresher.Calls())
	assert.Equal(t, int32(1), f.published.Load())
}

func TestRefresh_EmptyStoreDoesNotPublishAgain(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	_, err := f.refresher.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), f.published.Load())

	// A late caller whose request was rejected after the session ended.
	_, err = f.refresher.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Equal(t, int32(1), f.published.Load())
}

func TestRefresh_FailuresClearAndPublishOnce(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "refresh token rejected",
			handler: func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "missing access token",
			handler: func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
				writeJSON(w, http.StatusOK, map[string]string{"refreshToken": "r2"})
			},
		},
		{
			name: "header injection in token",
			handler: func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
				writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a2\r\nX-Evil: 1"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRefreshFixture(t, tt.handler)
			f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

			token, err := f.refresher.Refresh(context.Background())
			require.Error(t, err)
			assert.Empty(t, token)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)

			_, ok := f.store.Get()
			assert.False(t, ok, "credentials cleared")
			assert.Empty(t, f.store.RefreshToken())
			assert.Equal(t, int32(1), f.published.Load())
			assert.Equal(t, int32(1), f.hits.Load())
		})
	}
}

func TestRefresh_TransportFailure(t *testing.T) {
	store := storage.NewCredentialStore(storage.NewMemoryBackend(), storage.NewMemoryBackend())
	store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)
	bus := events.NewBus(nil)
	var published atomic.Int32
	bus.Subscribe(func() { published.Add(1) })

	doer := doerFunc(func(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error) {
		return nil, &transport.TransportError{Op: "send", Err: errors.New("connection refused")}
	})
	r := NewRefresher(store, bus, doer)

	_, err := r.Refresh(context.Background())
	var tErr *transport.TransportError
	require.ErrorAs(t, err, &tErr)
	_, ok := store.Get()
	assert.False(t, ok)
	assert.Equal(t, int32(1), published.Load())
}

type doerFunc func(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error)

func (f doerFunc) Do(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error) {
	return f(ctx, req, token)
}

func TestRefresh_PanicReleasesFlight(t *testing.T) {
	store := storage.NewCredentialStore(storage.NewMemoryBackend(), storage.NewMemoryBackend())
	store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)
	bus := events.NewBus(nil)

	var calls atomic.Int32
	doer := doerFunc(func(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"accessToken":"a3"}`)}, nil
	})
	r := NewRefresher(store, bus, doer)

	_, err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")

	// The flight was released: a new login followed by a refresh works.
	store.Set(types.Credentials{AccessToken: "a2", RefreshToken: "r2"}, true)
	token, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a3", token)
}

func TestRefresh_SingleFlight(t *testing.T) {
	const callers = 25

	release := make(chan struct{})
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a2"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	var wg, started sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			tokens[i], errs[i] = f.refresher.Refresh(context.Background())
		}(i)
	}

	// Hold the round-trip until every caller has joined it.
	started.Wait()
	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "a2", tokens[i])
	}
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Equal(t, int64(1), f.refresher.Calls())
}

func TestRefresh_SequentialCallsStartNewFlights(t *testing.T) {
	var n atomic.Int32
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		if n.Add(1) == 1 {
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a2", "refreshToken": "r2"})
			return
		}
		assert.Equal(t, "r2", body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a3"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	first, err := f.refresher.Refresh(context.Background())
	require.NoError(t, err)
	second, err := f.refresher.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "a2", first)
	assert.Equal(t, "a3", second)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestRefresh_CallerCancelDoesNotCancelFlight(t *testing.T) {
	release := make(chan struct{})
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "a2"})
	})
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := f.refresher.Refresh(ctx)
		cancelled <- err
	}()

	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	waiter := make(chan string, 1)
	go func() {
		token, _ := f.refresher.Refresh(context.Background())
		waiter <- token
	}()

	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	close(release)
	assert.Equal(t, "a2", <-waiter)
	assert.Equal(t, "a2", f.store.AccessToken())
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestRefresh_Timeout(t *testing.T) {
	release := make(chan struct{})
	f := newRefreshFixture(t, func(w http.ResponseWriter, r *http.Request, body types.RefreshRequest) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	f.refresher.timeout = 50 * time.Millisecond
	f.store.Set(types.Credentials{AccessToken: "a1", RefreshToken: "r1"}, true)

	_, err := f.refresher.Refresh(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "token refresh timeout")
	assert.Equal(t, int32(1), f.published.Load())
}
