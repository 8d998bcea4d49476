// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of ledger error.
type ErrorCode int

const (
	// ErrDatabase indicates an error with the underlying store.  The
	// Err field carries the store's error.
	ErrDatabase ErrorCode = iota

	// ErrAccountNotFound indicates the requested account record does
	// not exist.
	ErrAccountNotFound

	// ErrDepositNotFound indicates the requested deposit record does
	// not exist.
	ErrDepositNotFound

	// ErrRequestNotFound indicates the requested withdraw request
	// record does not exist.
	ErrRequestNotFound

	// ErrConflict indicates a record update was based on a stale
	// version.  The operation is safe to retry from a fresh read.
	ErrConflict

	// ErrInsufficientShare indicates an account's share of a deposit,
	// or its total balance, cannot cover a requested move.
	ErrInsufficientShare

	// ErrUnbalancedBatch indicates a batch transfer's deltas do not sum
	// to zero.
	ErrUnbalancedBatch

	// ErrInvalidRecord indicates a record fails a structural check,
	// e.g. shares exceeding a deposit's total value.
	ErrInvalidRecord
)

// Map of ErrorCode values back to their constant names for pretty
// printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:          "ErrDatabase",
	ErrAccountNotFound:   "ErrAccountNotFound",
	ErrDepositNotFound:   "ErrDepositNotFound",
	ErrRequestNotFound:   "ErrRequestNotFound",
	ErrConflict:          "ErrConflict",
	ErrInsufficientShare: "ErrInsufficientShare",
	ErrUnbalancedBatch:   "ErrUnbalancedBatch",
	ErrInvalidRecord:     "ErrInvalidRecord",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during ledger
// operation.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// errorf creates a new Error from a format string.
func errorf(c ErrorCode, format string, args ...interface{}) Error {
	return Error{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is a ledger Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}
