package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when the balance cannot cover a debit
	ErrInsufficientFunds = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrUserNotFound is returned when user doesn't exist
	ErrUserNotFound = errors.New("user not found")

	ErrInternal = errors.New("internal error")
)

// InsufficientFundsError carries the amounts involved in a rejected debit.
// It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Required  int
	Available int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: required %d, available %d", ErrInsufficientFunds, e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
