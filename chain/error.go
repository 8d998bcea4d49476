// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
)

// Error wraps a wallet node failure.  Node-reported rejections (a bad
// address, a rejected transaction) keep Unavailable false; transport and
// connectivity failures set it, and only those justify treating the node
// as down.
type Error struct {
	// Unavailable is true when the node could not be reached at all.
	Unavailable bool

	// Err is the underlying failure.
	Err error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Unavailable {
		return "wallet node unavailable: " + e.Err.Error()
	}
	return "wallet node rejected request: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapRPC classifies an rpcclient failure: server-sent JSON-RPC errors
// are node rejections, anything else did not make it to the node.
func wrapRPC(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return &Error{Err: err}
	}
	return &Error{Unavailable: true, Err: err}
}

// IsUnavailable reports whether err represents a connectivity failure
// with the wallet node.
func IsUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Unavailable
}

// RPCErrorCode extracts the node's JSON-RPC error code, if any.  The
// second return is false for connectivity failures and local errors.
func RPCErrorCode(err error) (btcjson.RPCErrorCode, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}
