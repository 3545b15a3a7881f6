// Package sessionclient provides an authenticated HTTP client for a remote
// JSON API.
//
// Every request carries the current access token as a bearer credential.
// When the server answers 401 the client renews the token through the
// refresh endpoint and resends the request once. Concurrent requests that
// are rejected at the same time share a single renewal round-trip. When the
// session cannot be renewed the stored credentials are cleared and the
// listeners registered with OnUnauthorized are notified.
//
// Example usage:
//
//	client, err := sessionclient.NewClient(sessionclient.FromEnv())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	unsubscribe := client.OnUnauthorized(func() {
//		fmt.Println("session ended, please log in again")
//	})
//	defer unsubscribe()
//
//	if err := client.Login(ctx, credentials, true); err != nil {
//		log.Fatal(err)
//	}
//
//	var items []Item
//	if err := client.DoJSON(ctx, http.MethodGet, "/api/items", nil, &items); err != nil {
//		log.Fatal(err)
//	}
package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/d-kuro/sessionclient/pkg/activity"
	"github.com/d-kuro/sessionclient/pkg/auth"
	"github.com/d-kuro/sessionclient/pkg/constants"
	"github.com/d-kuro/sessionclient/pkg/events"
	"github.com/d-kuro/sessionclient/pkg/logging"
	"github.com/d-kuro/sessionclient/pkg/storage"
	"github.com/d-kuro/sessionclient/pkg/transport"
	"github.com/d-kuro/sessionclient/pkg/types"
)

// Request describes one logical API call.
type Request = transport.Request

// Response is a fully read 2xx response.
type Response = transport.Response

// NewRequest creates a request without a body.
func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path}
}

// NewJSONRequest creates a request whose body is body encoded as JSON.
// A nil body sends no payload.
func NewJSONRequest(method, path string, body any) (*Request, error) {
	req := NewRequest(method, path)
	if body == nil {
		return req, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req.Body = data
	return req, nil
}

// Client sends authenticated requests for exactly one session.
type Client struct {
	config    *Config
	transport *transport.Client
	doer      *trackedDoer
	store     *storage.CredentialStore
	refresher *auth.Refresher
	tracker   *activity.Tracker
	events    *events.Bus
	logger    logging.Logger
}

// NewClient creates a new client with the provided configuration options.
// If no options are provided, default configuration will be used.
func NewClient(opts ...ConfigOption) (*Client, error) {
	config := NewConfig(opts...)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	durable := config.DurableBackend
	if durable == nil {
		fs, err := storage.NewFileSystemBackend("")
		if err != nil {
			logger.Warn(context.Background(), "durable credential storage unavailable", "error", err)
			durable = storage.NopBackend{}
		} else {
			durable = fs
		}
	}

	tc, err := transport.NewClient(&transport.Config{
		BaseURL:         config.BaseURL,
		Timeout:         config.Timeout,
		MaxResponseSize: config.MaxResponseSize,
		UserAgent:       config.UserAgent,
		HTTPClient:      config.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	tracker := activity.NewTracker(logger)
	bus := events.NewBus(logger)
	store := storage.NewCredentialStore(durable, config.SessionBackend, storage.WithLogger(logger))
	doer := &trackedDoer{next: tc, tracker: tracker}

	refresher := auth.NewRefresher(store, bus, doer,
		auth.WithRefreshPath(config.RefreshPath),
		auth.WithRefreshTimeout(config.RefreshTimeout),
		auth.WithLogger(logger))

	return &Client{
		config:    config,
		transport: tc,
		doer:      doer,
		store:     store,
		refresher: refresher,
		tracker:   tracker,
		events:    bus,
		logger:    logger.With("component", "client"),
	}, nil
}

// Send performs req with the stored access token. A 401 response triggers
// one token renewal and one resend of the same request.
//
// Errors are *TransportError, *UnauthorizedError or *ServerError.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	req = withRequestID(req)

	var sent string
	if tok, err := c.store.Token(); err == nil {
		sent = tok.AccessToken
	}

	resp, err := c.doer.Do(ctx, req, bearer(sent))
	rejected, ok := unauthorized(err)
	if !ok {
		return resp, classify(err)
	}

	next := c.store.AccessToken()
	switch {
	case sent != "" && next == "":
		// Ended by a failed renewal or a logout after ours was sent.
		return nil, &UnauthorizedError{StatusCode: rejected.StatusCode, Body: rejected.Body, Err: ErrSessionEnded}
	case next != "" && next != sent:
		// Renewed by a concurrent request after ours was sent.
		c.logger.Debug(ctx, "retrying with access token renewed elsewhere",
			"request_id", req.Header.Get(constants.HeaderRequestID))
	default:
		next, err = c.refresher.Refresh(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, &TransportError{Op: "refresh_wait", Method: req.Method, URL: req.Path, Err: err}
			}
			return nil, &UnauthorizedError{StatusCode: rejected.StatusCode, Body: rejected.Body, Err: err}
		}
	}

	c.logger.Debug(ctx, "retrying request after token renewal",
		"request_id", req.Header.Get(constants.HeaderRequestID),
		"method", req.Method, "path", req.Path)

	resp, err = c.doer.Do(ctx, req, bearer(next))
	if rejected, ok := unauthorized(err); ok {
		c.logger.Warn(ctx, "request rejected after token renewal",
			"request_id", req.Header.Get(constants.HeaderRequestID),
			"method", req.Method, "path", req.Path)
		return nil, &UnauthorizedError{Retried: true, StatusCode: rejected.StatusCode, Body: rejected.Body}
	}
	return resp, classify(err)
}

// DoJSON sends in as a JSON body and decodes the response into out.
// in and out may be nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.DecodeJSON(out)
}

// Login posts body to the login endpoint and stores the returned tokens in
// durable storage when persistent is true, in session storage otherwise.
// The login call never triggers a token renewal.
func (c *Client) Login(ctx context.Context, body any, persistent bool) error {
	tokens, err := auth.Exchange(ctx, c.doer, c.config.LoginPath, body)
	if err != nil {
		c.logger.Warn(ctx, "login failed", "error", err)
		return classify(err)
	}
	creds := tokens.Credentials("")
	c.store.Set(creds, persistent)
	c.logger.Info(ctx, "logged in",
		"mode", c.store.Mode(),
		"refreshable", creds.HasRefreshToken())
	return nil
}

// SetCredentials stores credentials obtained elsewhere.
func (c *Client) SetCredentials(creds types.Credentials, persistent bool) {
	c.store.Set(creds, persistent)
}

// Credentials returns the stored credentials.
func (c *Client) Credentials() (types.Credentials, bool) {
	return c.store.Get()
}

// Logout removes the stored credentials. No unauthorized event is published.
func (c *Client) Logout() {
	c.store.Clear()
	c.logger.Info(context.Background(), "logged out")
}

// IsAuthenticated reports whether an access token is stored.
func (c *Client) IsAuthenticated() bool {
	_, ok := c.store.Get()
	return ok
}

// OnUnauthorized registers listener for the end of the session.
// The returned func removes it.
func (c *Client) OnUnauthorized(listener func()) (unsubscribe func()) {
	return c.events.Subscribe(listener)
}

// Activity subscribes to the number of in-flight requests.
func (c *Client) Activity() (<-chan types.ActivitySnapshot, func()) {
	return c.tracker.Subscribe()
}

// ActiveRequests returns the number of in-flight requests.
func (c *Client) ActiveRequests() int {
	return c.tracker.Snapshot().ActiveRequests
}

// RefreshCalls reports how many token renewal round-trips have been started.
func (c *Client) RefreshCalls() int64 {
	return c.refresher.Calls()
}

// BaseURL returns the API base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL().String()
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// trackedDoer counts every physical send in the activity tracker.
type trackedDoer struct {
	next    auth.Doer
	tracker *activity.Tracker
}

func (d *trackedDoer) Do(ctx context.Context, req *transport.Request, token *oauth2.Token) (*transport.Response, error) {
	d.tracker.Increment()
	defer d.tracker.Decrement()
	return d.next.Do(ctx, req, token)
}

func bearer(accessToken string) *oauth2.Token {
	if accessToken == "" {
		return nil
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
}

// withRequestID returns a copy of req carrying an X-Request-ID, so the
// original and the retried send share one id.
func withRequestID(req *Request) *Request {
	r := *req
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if r.Header.Get(constants.HeaderRequestID) == "" {
		r.Header.Set(constants.HeaderRequestID, uuid.NewString())
	}
	return &r
}
