package scoring

import "errors"

var (
	ErrInvalidScore       = errors.New("score must be between 0 and 100")
	ErrAlreadyScored      = errors.New("submission already has a score; use revise")
	ErrNotScored          = errors.New("submission has no score to revise")
	ErrScoreConflict      = errors.New("stored score does not match the expected previous score")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInternal           = errors.New("internal error")
)
