package transport

import (
	"fmt"
	"net/http"
)

// TransportError reports a request that produced no usable response:
// connection failures, timeouts, cancellation or an unreadable body.
type TransportError struct {
	Op     string // The step that failed: build_request, send, read_response
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport %s %s %s: %v", e.Op, e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError reports a response with a non-2xx status code.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Message is a short human-readable summary of Body.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsUnauthorized reports whether the server rejected the credentials.
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
