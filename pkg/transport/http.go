// Package transport is the raw HTTP layer of the session client. It sends a
// single request and classifies the outcome as a response, a *HTTPError or a
// *TransportError. It knows nothing about refreshing credentials.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/d-kuro/sessionclient/pkg/constants"
)

// Config contains configuration for the transport.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxResponseSize int64
	UserAgent       string

	// HTTPClient replaces the pooled client, e.g. in tests.
	HTTPClient *http.Client
}

// DefaultConfig returns a default transport configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         constants.DefaultBaseURL,
		Timeout:         constants.DefaultHTTPTimeout,
		MaxResponseSize: constants.MaxAPIResponseSize,
		UserAgent:       constants.DefaultUserAgent,
	}
}

// Request describes one logical API call. It is never mutated by the
// transport, so the same Request can be sent again on retry.
type Request struct {
	Method string
	// Path is resolved against the base URL. An absolute URL is used as is.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("failed to decode response: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ClientPool manages a pool of reusable HTTP clients for different configurations.
type ClientPool struct {
	clients map[string]*http.Client
	mutex   sync.RWMutex
}

// Global client pool so every session client shares connections.
var globalClientPool = &ClientPool{
	clients: make(map[string]*http.Client),
}

// getOrCreateClient retrieves or creates an HTTP client from the pool.
func (cp *ClientPool) getOrCreateClient(timeout time.Duration) *http.Client {
	key := timeout.String()

	cp.mutex.RLock()
	if client, exists := cp.clients[key]; exists {
		cp.mutex.RUnlock()
		return client
	}
	cp.mutex.RUnlock()

	cp.mutex.Lock()
	defer cp.mutex.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cp.clients[key]; exists {
		return client
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        constants.MaxIdleConns,
		MaxIdleConnsPerHost: constants.MaxIdleConnsPerHost,
		MaxConnsPerHost:     constants.MaxConnsPerHost,
		IdleConnTimeout:     constants.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialerTimeout,
			KeepAlive: constants.KeepAliveTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
		ExpectContinueTimeout: constants.ExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
	}

	client := &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}

	cp.clients[key] = client
	return client
}

// checkRedirect limits redirects and refuses scheme downgrades, which would
// leak the bearer token in clear text.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= constants.MaxRedirects {
		return fmt.Errorf("too many redirects (max: %d)", constants.MaxRedirects)
	}
	if len(via) > 0 {
		originalScheme := via[0].URL.Scheme
		if req.URL.Scheme != originalScheme && (originalScheme != constants.SchemeHTTP || req.URL.Scheme != constants.SchemeHTTPS) {
			return fmt.Errorf("scheme change not allowed: %s -> %s", originalScheme, req.URL.Scheme)
		}
	}
	return nil
}

// Client sends requests against a base URL.
type Client struct {
	client  *http.Client
	config  *Config
	baseURL *url.URL
}

// NewClient creates a transport client. The base URL is parsed once here.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != constants.SchemeHTTP && base.Scheme != constants.SchemeHTTPS {
		return nil, fmt.Errorf("unsupported scheme: %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid base URL: missing host")
	}

	client := config.HTTPClient
	if client == nil {
		client = globalClientPool.getOrCreateClient(config.Timeout)
	}

	return &Client{
		client:  client,
		config:  config,
		baseURL: base,
	}, nil
}

// BaseURL returns the parsed base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// ResolveURL builds the absolute URL for a path and query.
func (c *Client) ResolveURL(path string, query url.Values) (string, error) {
	u, err := c.resolve(path, query)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	var u *url.URL
	if strings.HasPrefix(path, constants.SchemeHTTP+"://") || strings.HasPrefix(path, constants.SchemeHTTPS+"://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		u = parsed
	} else {
		rel, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		// JoinPath unescapes its arguments, so pass the escaped form to keep
		// %2F and %25 intact.
		u = c.baseURL.JoinPath(rel.EscapedPath())
		if rel.RawQuery != "" {
			u.RawQuery = rel.RawQuery
		}
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// sameOrigin reports whether u points at the base URL's scheme and host.
func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.baseURL.Scheme) && strings.EqualFold(u.Host, c.baseURL.Host)
}

// Do sends req once. A non-nil token is attached as the Authorization
// header when the URL is on the base URL's origin. A 2xx response is
// returned fully read; any other status yields *HTTPError and a failure
// without a response yields *TransportError.
func (c *Client) Do(ctx context.Context, req *Request, token *oauth2.Token) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, &TransportError{Op: "build_request", Method: method, Err: err}
	}
	target := u.String()

	if len(req.Body) > constants.MaxAPIRequestSize {
		return nil, &TransportError{
			Op: "build_request", Method: method, URL: target,
			Err: fmt.Errorf("request payload too large: %d bytes (max: %d)", len(req.Body), constants.MaxAPIRequestSize),
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &TransportError{Op: "build_request", Method: method, URL: target, Err: err}
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set(constants.HeaderUserAgent, c.config.UserAgent)
	}
	if httpReq.Header.Get(constants.HeaderAccept) == "" {
		httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	}
	if len(req.Body) > 0 && httpReq.Header.Get(constants.HeaderContentType) == "" {
		httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	if token != nil && token.AccessToken != "" && c.sameOrigin(u) {
		token.SetAuthHeader(httpReq)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, &TransportError{Op: "send", Method: method, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	maxSize := c.config.MaxResponseSize
	if maxSize <= 0 {
		maxSize = constants.MaxAPIResponseSize
	}

	// +1 to detect truncation
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, &TransportError{Op: "read_response", Method: method, URL: target, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(data)) > maxSize {
		return nil, &TransportError{Op: "read_response", Method: method, URL: target, Err: fmt.Errorf("response exceeded maximum size of %d bytes", maxSize)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
			Message:    SummarizeBody(resp.Header.Get(constants.HeaderContentType), data),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
