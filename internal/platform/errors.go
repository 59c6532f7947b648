package platform

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication is returned when a logon is rejected or times out.
	ErrAuthentication = errors.New("authentication failed")
	// ErrConference is returned when joining or leaving a conference is refused.
	ErrConference = errors.New("conference operation failed")
	// ErrNotOnline is returned when a click-to-call target device is not logged on.
	ErrNotOnline = errors.New("target device not online")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the Circuit REST API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP error %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps status codes onto the package sentinels so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}
