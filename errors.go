package sessionclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/d-kuro/sessionclient/pkg/transport"
)

// ErrSessionEnded is wrapped by an UnauthorizedError when the session was
// cleared while the rejected request was in flight.
var ErrSessionEnded = errors.New("session already ended")

// TransportError reports a request that received no response.
type TransportError = transport.TransportError

// UnauthorizedError reports that the session is over: the server kept
// rejecting the request after a renewal, or the session could not be renewed.
type UnauthorizedError struct {
	// Retried is true when the request was resent with a renewed token and
	// rejected again.
	Retried    bool
	StatusCode int
	Body       []byte
	// Err is the renewal failure, if any.
	Err error
}

func (e *UnauthorizedError) Error() string {
	switch {
	case e.Retried:
		return "unauthorized: request rejected after token renewal"
	case e.Err != nil:
		return fmt.Sprintf("unauthorized: session could not be renewed: %v", e.Err)
	default:
		return "unauthorized"
	}
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// ServerError reports any other non-2xx response.
type ServerError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Message is a short summary of Body.
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// classify maps transport outcomes onto the caller-facing error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.IsUnauthorized() {
			return &UnauthorizedError{StatusCode: httpErr.StatusCode, Body: httpErr.Body}
		}
		return &ServerError{
			StatusCode: httpErr.StatusCode,
			Header:     httpErr.Header,
			Body:       httpErr.Body,
			Message:    httpErr.Message,
		}
	}
	return err
}

// unauthorized returns the 401 rejection carried by err, if any.
func unauthorized(err error) (*transport.HTTPError, bool) {
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsUnauthorized() {
		return httpErr, true
	}
	return nil, false
}
