package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error reports a network failure or an HTTP error status.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 && e.Err == nil {
		return fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cancelled reports whether the request was abandoned because its context
// ended, as opposed to a timeout or a server-side failure.
func (e *Error) Cancelled() bool {
	return errors.Is(e.Err, context.Canceled)
}
