package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorizedBorrower is returned when a borrow or repay targets an unknown borrower
	ErrUnauthorizedBorrower = errors.New("unauthorized borrower")

	// ErrBorrowLimitReached matches every *BorrowLimitReachedError
	ErrBorrowLimitReached = errors.New("borrow limit reached")

	// ErrUnderflow is returned by a checked share subtraction that would go negative
	ErrUnderflow = errors.New("share subtraction underflow")

	// ErrNotFound is the generic not-found error
	ErrNotFound = errors.New("not found")

	// ErrDelegateNotFound is returned when a (borrower, delegate) pair has no entry
	ErrDelegateNotFound = fmt.Errorf("delegate %w", ErrNotFound)

	// ErrBorrowerNotFound is returned by the migration when a borrower record is missing
	ErrBorrowerNotFound = fmt.Errorf("borrower %w", ErrNotFound)

	// ErrInvalidShares is returned for negative share amounts or limits
	ErrInvalidShares = errors.New("shares must be non-negative")

	// ErrShareOverflow is returned when a share total would not fit in an int64
	ErrShareOverflow = errors.New("share total overflow")

	// ErrInvalidAddress is returned for empty identities or identities containing NUL
	ErrInvalidAddress = errors.New("invalid address")
)

// BorrowLimitReachedError reports the limit a borrow would have exceeded
type BorrowLimitReachedError struct {
	Limit int64
}

func (e *BorrowLimitReachedError) Error() string {
	return fmt.Sprintf("borrow limit reached: limit %d", e.Limit)
}

// Is lets errors.Is match ErrBorrowLimitReached
func (e *BorrowLimitReachedError) Is(target error) bool {
	return target == ErrBorrowLimitReached
}
