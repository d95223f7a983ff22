package media

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOperation    = errors.New("unknown credited operation")
	ErrCollaboratorFailure = errors.New("media generation failed")
	ErrRefundFailed        = errors.New("refund failed")
	ErrAbandoned           = errors.New("caller abandoned operation")
	ErrShuttingDown        = errors.New("orchestrator is shutting down")
	ErrNotReserved         = errors.New("reservation already resolved")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidStyle        = errors.New("invalid media style")
	ErrInvalidImageIndex   = errors.New("image index must be between 1 and 6")
	ErrSubmissionNotScored = errors.New("submission must be analyzed before generating media")
	ErrInternal            = errors.New("internal error")
)

// Failure kinds reported on CollaboratorError.
const (
	FailureFailed  = "failed"
	FailureTimeout = "timeout"
	FailureError   = "error"
)

// CollaboratorError describes a credited operation whose collaborator did not
// deliver. The reserved credits have been refunded when this is returned.
// It matches ErrCollaboratorFailure with errors.Is.
type CollaboratorError struct {
	Kind      string
	Operation OperationKind
	Reason    string
	Err       error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", ErrCollaboratorFailure, e.Operation, e.Kind, e.Reason)
}

func (e *CollaboratorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCollaboratorFailure}
	}
	return []error{ErrCollaboratorFailure, e.Err}
}
