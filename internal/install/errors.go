package install

import (
	"errors"

	"github.com/mattjoyce/wearpkg/internal/stage"
)

// Early-exit causes. Each is terminal for its request and never retried.
var (
	ErrQueryFailed           = errors.New("existing package query failed")
	ErrStagingFailed         = stage.ErrStagingFailed
	ErrParseFailed           = errors.New("package parse failed")
	ErrNameMismatch          = errors.New("package name mismatch")
	ErrVersionSkipped        = errors.New("same version already installed")
	ErrPermissionUnavailable = errors.New("permissions unavailable")
	ErrFeatureMissing        = errors.New("required feature missing")
	ErrSubmissionFailed      = errors.New("submission to package authority failed")
)

// Admission errors, returned to the submitter.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrStopped        = errors.New("install worker stopped")
)

// Outcome labels used in logs and metrics.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
	OutcomePanic       = "panic"
	OutcomeDropped     = "dropped"
	OutcomeInvalid     = "invalid"
	OutcomeUnsubmitted = "unsubmitted"
)

// outcomeFor maps an early-exit cause to its outcome label.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrVersionSkipped):
		return OutcomeSkipped
	case errors.Is(err, ErrNameMismatch),
		errors.Is(err, ErrPermissionUnavailable),
		errors.Is(err, ErrFeatureMissing):
		return OutcomeRejected
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, ErrSubmissionFailed):
		return OutcomeUnsubmitted
	default:
		return OutcomeError
	}
}
