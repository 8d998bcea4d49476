// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/ledger"
)

// ErrorCode identifies a kind of wallet failure.  These are the
// discriminated reasons surfaced to callers; business failures are
// returned as values of this type, never panics.
type ErrorCode int

const (
	// ErrInternal is an unexpected failure.
	ErrInternal ErrorCode = iota

	// ErrInvalidIdentifier indicates a malformed account reference or
	// request argument.
	ErrInvalidIdentifier

	// ErrInvalidAddress indicates a destination that failed wallet
	// validation or the suspicious-character check.
	ErrInvalidAddress

	// ErrInsufficientFunds indicates a sender balance too low for a
	// transfer or debit.
	ErrInsufficientFunds

	// ErrUnaccountedFunds indicates batch transfer deltas that do not
	// sum to zero.
	ErrUnaccountedFunds

	// ErrCannotAffordFees indicates coin selection could not cover the
	// target plus its own fees.
	ErrCannotAffordFees

	// ErrNotEnoughWithdrawable indicates a withdrawable balance below
	// the requested amount; locked deposits do not count.
	ErrNotEnoughWithdrawable

	// ErrRequestAlreadyExists indicates a withdraw was initiated while
	// another is still pending for the account.
	ErrRequestAlreadyExists

	// ErrRequestNotFound indicates a cancel or complete with no
	// pending request.
	ErrRequestNotFound

	// ErrWalletUnavailable indicates the wallet node could not be
	// reached.  It is distinct from node-reported rejections.
	ErrWalletUnavailable

	// ErrConflict indicates a concurrent mutation of the same records.
	// The operation is always safe to retry from scratch.
	ErrConflict
)

// Map of ErrorCode values back to their constant names for pretty
// printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInternal:              "ErrInternal",
	ErrInvalidIdentifier:     "ErrInvalidIdentifier",
	ErrInvalidAddress:        "ErrInvalidAddress",
	ErrInsufficientFunds:     "ErrInsufficientFunds",
	ErrUnaccountedFunds:      "ErrUnaccountedFunds",
	ErrCannotAffordFees:      "ErrCannotAffordFees",
	ErrNotEnoughWithdrawable: "ErrNotEnoughWithdrawable",
	ErrRequestAlreadyExists:  "ErrRequestAlreadyExists",
	ErrRequestNotFound:       "ErrRequestNotFound",
	ErrWalletUnavailable:     "ErrWalletUnavailable",
	ErrConflict:              "ErrConflict",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for failures crossing the wallet's
// public boundary.
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

// IsError reports whether err is a wallet Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}

// convertErr translates collaborator failures into the public failure
// kinds.  Wallet errors pass through untouched.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	var walletErr Error
	if errors.As(err, &walletErr) {
		return walletErr
	}

	if chain.IsUnavailable(err) {
		return Error{
			ErrorCode:   ErrWalletUnavailable,
			Description: "wallet node unreachable",
			Err:         err,
		}
	}
	if code, ok := chain.RPCErrorCode(err); ok {
		if code == btcjson.ErrRPCInvalidAddressOrKey {
			return Error{
				ErrorCode:   ErrInvalidAddress,
				Description: "wallet node rejected address",
				Err:         err,
			}
		}
		return Error{
			ErrorCode:   ErrInternal,
			Description: "wallet node rejected request",
			Err:         err,
		}
	}

	var ledgerErr ledger.Error
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.ErrorCode {
		case ledger.ErrConflict:
			return Error{
				ErrorCode:   ErrConflict,
				Description: "ledger record changed concurrently",
				Err:         err,
			}
		case ledger.ErrInsufficientShare:
			return Error{
				ErrorCode:   ErrInsufficientFunds,
				Description: "balance too low",
				Err:         err,
			}
		case ledger.ErrUnbalancedBatch:
			return Error{
				ErrorCode:   ErrUnaccountedFunds,
				Description: "batch deltas do not sum to zero",
				Err:         err,
			}
		case ledger.ErrRequestNotFound:
			return Error{
				ErrorCode:   ErrRequestNotFound,
				Description: "no pending withdraw request",
				Err:         err,
			}
		}
	}

	return Error{
		ErrorCode:   ErrInternal,
		Description: "unexpected failure",
		Err:         err,
	}
}
