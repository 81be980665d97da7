package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when the local limiter denies a submission.
	// No network call is made.
	ErrRateLimited = errors.New("delivery: too many requests")
	// ErrTimeout marks an attempt aborted by the request timeout
	ErrTimeout = errors.New("request timeout - please try again")
)

// AttemptError describes one failed POST
type AttemptError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *AttemptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("POST %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("POST %s: status %d", e.Endpoint, e.StatusCode)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// DeliveryError is the terminal failure after both endpoints failed. The
// caller should offer AlternateURL; nothing retries automatically.
type DeliveryError struct {
	Primary      *AttemptError
	Fallback     *AttemptError
	AlternateURL string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery: all endpoints failed (primary: %v; fallback: %v)", e.Primary, e.Fallback)
}

func (e *DeliveryError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}
