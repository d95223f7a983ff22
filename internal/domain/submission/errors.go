package submission

import "errors"

var (
	ErrNotFound            = errors.New("submission not found")
	ErrNotOwner            = errors.New("submission belongs to another user")
	ErrContentBlocked      = errors.New("submission content blocked by safety check")
	ErrCollaboratorFailure = errors.New("writing analysis failed")
	ErrInternal            = errors.New("internal error")
)
