package scraper

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	// ErrPageMalformed is returned when a page lacks the expected table structure
	ErrPageMalformed = errors.New("upstream page malformed")
	// ErrNetworkTimeout is returned when a single fetch exceeds its timeout
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrNetworkFailure is returned for transport errors and non-200 responses
	ErrNetworkFailure = errors.New("network failure")
)

// StatusError reports an unexpected HTTP status code
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.URL)
}

// Unwrap lets errors.Is match ErrNetworkFailure
func (e *StatusError) Unwrap() error {
	return ErrNetworkFailure
}

// UnitError is the failure of one independent unit of work: a station during a
// refresh, or a month during an observation query.
type UnitError struct {
	Unit string `json:"unit"`
	Err  error  `json:"-"`
}

func (e UnitError) Error() string {
	return e.Unit + ": " + e.Err.Error()
}

func (e UnitError) Unwrap() error {
	return e.Err
}

// CombineUnitErrors merges unit failures into one error, or nil if there are none
func CombineUnitErrors(units []UnitError) error {
	var err error
	for _, u := range units {
		err = multierr.Append(err, u)
	}
	return err
}

// retryable reports whether a failed fetch is worth another attempt. Malformed pages
// and client errors are not.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrNetworkFailure)
}
