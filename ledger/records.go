// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger implements the share-based accounting model of the
// pooled wallet: many logical accounts own fractions of the wallet's
// on-chain outputs.  Records reference each other by plain ids, never by
// pointer, so the object graph stays acyclic and every record can be
// persisted independently.  Each mutable record carries a version used by
// the store for optimistic conflict detection.
package ledger

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/txsizes"
)

// AccountID is the opaque identifier of one logical account.
type AccountID string

// Account is one logical owner of shares.  It stores no balance: balance
// is always derived from the share maps of the deposits it appears in,
// with Deposits acting as the reverse index into those records.
type Account struct {
	// ID is the account's opaque unique identifier.
	ID AccountID `json:"id"`

	// Version increases by one on every stored update.
	Version uint64 `json:"version"`

	// PendingBalance is the last observed sum of this account's
	// not-yet-confirmed deposit amounts.  It is set by deposit ingest,
	// never derived from shares.
	PendingBalance btcutil.Amount `json:"pending_balance"`

	// ActiveRequest is the id of the account's pending withdraw
	// request, or empty.  At most one request exists per account.
	ActiveRequest string `json:"active_request,omitempty"`

	// Deposits is the set of deposit outpoints (in String form) this
	// account holds a share of.  It is maintained in the same step as
	// the deposit share maps and must never diverge from them.
	Deposits map[string]struct{} `json:"deposits,omitempty"`

	// ProcessedOutputs is the set of wallet-reported outpoints already
	// credited to this account by deposit ingest.
	ProcessedOutputs map[string]struct{} `json:"processed_outputs,omitempty"`
}

// NewAccount returns an empty account record for the given id.
func NewAccount(id AccountID) *Account {
	return &Account{
		ID:               id,
		Deposits:         make(map[string]struct{}),
		ProcessedOutputs: make(map[string]struct{}),
	}
}

// Deposit is the ledger's record of one spendable on-chain output, split
// into per-account shares.  The share map is the single source of truth
// for ownership; the sum of all shares never exceeds Value and a zero
// share is never stored.
type Deposit struct {
	// OutPoint is the originating transaction id and output index.  It
	// is the deposit's immutable identity.
	OutPoint wire.OutPoint `json:"outpoint"`

	// Value is the output's total value.
	Value btcutil.Amount `json:"value"`

	// Type is the output's script class, which fixes its spend cost.
	Type txsizes.OutputType `json:"type"`

	// Shares maps each owning account to its non-negative share.
	Shares map[AccountID]btcutil.Amount `json:"shares"`

	// LockedBy is the id of the withdraw request holding this deposit
	// as an input, or empty.  A locked deposit is excluded from any
	// other withdrawal's selection and from withdrawable balances, but
	// its shares remain transferable.
	LockedBy string `json:"locked_by,omitempty"`

	// Version increases by one on every stored update.
	Version uint64 `json:"version"`
}

// Locked reports whether the deposit is held by a pending withdrawal.
func (d *Deposit) Locked() bool {
	return d.LockedBy != ""
}

// SumShares returns the total value currently attributed to accounts.
func (d *Deposit) SumShares() btcutil.Amount {
	var sum btcutil.Amount
	for _, s := range d.Shares {
		sum += s
	}
	return sum
}

// WithdrawRequest is a signed, not-yet-broadcast withdrawal.  Its id is
// the transaction id of the constructed transaction.
type WithdrawRequest struct {
	// ID is the txid of the signed transaction.
	ID string `json:"id"`

	// Account is the withdrawing account.
	Account AccountID `json:"account"`

	// Inputs are the outpoints of the deposits this request locks.
	Inputs []wire.OutPoint `json:"inputs"`

	// Held records, parallel to Inputs, the exact share amount moved
	// from the withdrawing account into the holding account per input,
	// so cancellation restores precisely what initiation took.
	Held []btcutil.Amount `json:"held"`

	// Amount is the value paid to the destination, excluding the fee.
	Amount btcutil.Amount `json:"amount"`

	// Fee is the transaction fee.
	Fee btcutil.Amount `json:"fee"`

	// SignedTx is the hex encoded signed transaction payload.
	SignedTx string `json:"signed_tx"`

	// CreatedAt is when the request was initiated.
	CreatedAt time.Time `json:"created_at"`

	// Completed is set once the transaction has been broadcast and the
	// request only awaits change settlement.
	Completed bool `json:"completed"`

	// Version increases by one on every stored update.
	Version uint64 `json:"version"`
}
