package planner

import (
	"errors"
	"fmt"
)

// PlanError is a planning failure that ends a sequence.
type PlanError struct {
	Code    PlanErrorCode
	Message string
	// Index is the call position being generated, -1 when none.
	Index int
	// API is the last API attempted at Index.
	API string
	Err error
}

// PlanErrorCode categorizes planning failures.
type PlanErrorCode string

const (
	// ErrCodeNoEligibleAPI means block and limit lists exclude every API.
	ErrCodeNoEligibleAPI PlanErrorCode = "NO_ELIGIBLE_API"

	// ErrCodeAttemptsExceeded means no call could be generated for a
	// position within MaxCallAttempts selections.
	ErrCodeAttemptsExceeded PlanErrorCode = "ATTEMPTS_EXCEEDED"

	// ErrCodeCanceled means the context ended mid-sequence.
	ErrCodeCanceled PlanErrorCode = "CANCELED"
)

func (e *PlanError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Index >= 0 {
		msg += fmt.Sprintf(" (index=%d", e.Index)
		if e.API != "" {
			msg += ", api=" + e.API
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlanError) Unwrap() error { return e.Err }

// IsAttemptsExceeded reports whether err is an exhausted call position.
// Matches both PlanError and AttemptsExceededError.
func IsAttemptsExceeded(err error) bool {
	var pe *PlanError
	if errors.As(err, &pe) && pe.Code == ErrCodeAttemptsExceeded {
		return true
	}
	var ae *AttemptsExceededError
	return errors.As(err, &ae)
}

// IsNoEligibleAPI reports whether err means nothing can ever be selected.
func IsNoEligibleAPI(err error) bool {
	var pe *PlanError
	return errors.As(err, &pe) && pe.Code == ErrCodeNoEligibleAPI
}

// callError is a single failed call attempt; the planner retries it.
type callError struct {
	api string
	err error
}

func (e *callError) Error() string { return fmt.Sprintf("call %s: %v", e.api, e.err) }
func (e *callError) Unwrap() error { return e.err }
