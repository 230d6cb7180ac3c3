package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// Fetch failure categories. A *FetchError matches its category with errors.Is.
var (
	ErrTimeout     = errors.New("timeout")
	ErrConnection  = errors.New("connection")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not_found")
	ErrRateLimited = errors.New("rate_limited")
	ErrHTTPStatus  = errors.New("http_status")
)

// FetchError is a single failed attempt: a transport error or a non-200 status.
type FetchError struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: %d %s", e.Kind, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

// ErrRetriesExhausted is returned when every attempt for a URL ended without a 200.
type ErrRetriesExhausted struct {
	URL      string
	Attempts int
	Err      error
}

func (e ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e ErrRetriesExhausted) Unwrap() error {
	return e.Err
}

// errorTypeLabel maps err to the error_type metric label.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind != nil {
		return fe.Kind.Error()
	}
	return "other"
}
