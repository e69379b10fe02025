package client

import (
	"errors"
	"fmt"
)

// Outcome classifies the result of a page fetch.
type Outcome string

const (
	// OutcomeSuccess is a 2xx response with a readable body.
	OutcomeSuccess Outcome = "success"

	// OutcomeRateLimited is a 429 response.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeHardFailure is any other status, or a transport error.
	OutcomeHardFailure Outcome = "hard_failure"
)

// FetchError describes a page fetch that did not succeed.
type FetchError struct {
	// StatusCode is zero for transport errors.
	StatusCode int
	Outcome    Outcome
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s (status %d): %s: %v",
			e.Outcome, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s (status %d): %s",
		e.Outcome, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// OutcomeOf returns the outcome carried by err. A nil error is a success;
// errors that are not a FetchError count as hard failures.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Outcome
	}
	return OutcomeHardFailure
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return OutcomeOf(err) == OutcomeRateLimited
}
