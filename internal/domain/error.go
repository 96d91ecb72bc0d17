package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Persistence unavailable; fatal to the request, never to the process.
	ErrStorage = errors.New("storage unavailable")

	// Referral errors
	ErrUnknownReferralCode = errors.New("unknown referral code")
	ErrSelfReferral        = errors.New("cannot use own referral code")
	ErrChatNotAllowed      = errors.New("chat is not allowed")

	// Reward errors
	ErrAlreadyClaimed = errors.New("reward already claimed")
	ErrNotEligible    = errors.New("not eligible for reward")
)

// StorageError describes a failed persistence operation on one table.
type StorageError struct {
	Table string
	Op    string
	Err   error
}

func NewStorageError(table, op string, err error) *StorageError {
	return &StorageError{Table: table, Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets callers match any StorageError with errors.Is(err, ErrStorage).
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
