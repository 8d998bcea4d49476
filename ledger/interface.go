// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"github.com/btcsuite/btcd/wire"
)

// DB is the persistence collaborator.  Every public core operation runs
// inside exactly one View or Update call; implementations supply the
// atomicity boundary, rolling an Update back entirely when its function
// returns an error.
//
// Records returned by a transaction are private copies: mutating one has
// no effect until it is passed back to a Put method.  Put methods enforce
// optimistic concurrency: the record's Version must match the stored
// version (zero for a record not yet stored) or the put fails with
// ErrConflict.  On success both the stored version and the passed
// record's Version advance by one, so the same record instance can be
// mutated and put again within the transaction.
type DB interface {
	// View runs f in a read-only transaction.
	View(f func(tx ReadTx) error) error

	// Update runs f in a read-write transaction, committing when f
	// returns nil and discarding every staged write otherwise.
	Update(f func(tx ReadWriteTx) error) error

	// Close releases the store.
	Close() error
}

// ReadTx provides read access to the ledger records.
type ReadTx interface {
	// Account fetches an account by id.  Returns ErrAccountNotFound if
	// no such record exists.
	Account(id AccountID) (*Account, error)

	// Deposit fetches a deposit by outpoint.  Returns
	// ErrDepositNotFound if no such record exists.
	Deposit(op wire.OutPoint) (*Deposit, error)

	// Deposits returns every deposit, sorted ascending by total value
	// with ties broken by outpoint.
	Deposits() ([]*Deposit, error)

	// Request fetches a withdraw request by id.  Returns
	// ErrRequestNotFound if no such record exists.
	Request(id string) (*WithdrawRequest, error)

	// Requests returns every withdraw request that has not yet been
	// fully settled, broadcast or not.
	Requests() ([]*WithdrawRequest, error)
}

// ReadWriteTx provides read and write access to the ledger records.
type ReadWriteTx interface {
	ReadTx

	// FetchOrCreateAccount fetches an account, creating an empty record
	// if none exists yet.  Accounts are created lazily on first
	// reference.
	FetchOrCreateAccount(id AccountID) (*Account, error)

	// PutAccount stores an account record, subject to the version
	// check.
	PutAccount(a *Account) error

	// PutDeposit stores a deposit record, subject to the version check.
	PutDeposit(d *Deposit) error

	// DeleteDeposit removes a deposit record.  Deleting an absent
	// record is a no-op.
	DeleteDeposit(op wire.OutPoint) error

	// PutRequest stores a withdraw request record, subject to the
	// version check.
	PutRequest(r *WithdrawRequest) error

	// DeleteRequest removes a withdraw request record.  Deleting an
	// absent record is a no-op.
	DeleteRequest(id string) error
}
