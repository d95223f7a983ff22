package achievement

import "errors"

var (
	ErrUnknownAchievement = errors.New("unknown achievement")
	ErrUserNotFound       = errors.New("user not found")
	ErrInternal           = errors.New("internal error")
)
