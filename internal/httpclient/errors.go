package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned for any failed exchange. Response is set when the
// server answered with a non-2xx status, Err when no usable answer was received.
type HTTPError struct {
	Method   string
	URL      string
	Response *Response
	Err      error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Response != nil {
		body := string(e.Response.Body)
		if len(body) > 256 {
			body = body[:256] + "..."
		}
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Response.Status, body)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying network error, if any.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusCode returns the response status, or 0 when no response was received.
func (e *HTTPError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.Status
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable returns true for rate limiting, server errors and timeouts.
func IsRetryable(err error) bool {
	if IsTimeout(err) {
		return true
	}
	status := StatusOf(err)
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}
