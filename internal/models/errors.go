package models

import "fmt"

// AuthError means an external service rejected our credentials. It is
// fatal for the call and flips the integration to error status.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s rejected credentials: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError wraps a network error, timeout, or 5xx after retries
// were exhausted.
type TransientError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError means the request violated a precondition. It maps
// to a 400 and is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ConflictError means a job of this kind (or an excluded kind) is
// already running for the owner. It carries the running snapshot so
// callers can surface current progress.
type ConflictError struct {
	Kind     JobKind
	Snapshot *JobSnapshot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already running", e.Kind)
}

// SafetyError means a selection exceeds the configured share of the
// catalog and requires an explicit force flag.
type SafetyError struct {
	Selected int
	Total    int
	Percent  float64
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("selection of %d items is %.1f%% of a %d-item catalog; pass force to proceed",
		e.Selected, e.Percent, e.Total)
}

// IntegrityError means a row would violate a mirror invariant. The
// item is skipped and counted as failed; the job continues.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return e.Reason }
