package domain

import "errors"

var (
	// ErrStorageUnavailable means the ledger could not be queried. Fatal for an analysis run.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedRow marks a fetched row that was skipped.
	ErrMalformedRow = errors.New("malformed row")

	// ErrAlertWriteFailed marks a single alert insert that failed.
	ErrAlertWriteFailed = errors.New("alert write failed")

	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountBlocked    = errors.New("account blocked")
	ErrAccountInactive   = errors.New("account inactive")

	// ErrRunInProgress is returned when another analysis run holds the lock.
	ErrRunInProgress = errors.New("analysis run in progress")
)
