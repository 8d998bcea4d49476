// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet is the accounting core of the pooled wallet.  It
// orchestrates the share ledger, the coin selectors and the on-chain
// wallet node to expose balances, internal transfers and the withdraw
// request lifecycle to callers.  Every public operation is one atomic
// unit of work against the ledger store.
package wallet

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/ledger"
)

const (
	// DefaultConfTarget is the confirmation target used for fee
	// estimates.
	DefaultConfTarget uint32 = 6

	// DefaultMinConf is the confirmation depth an output needs before
	// ingest credits it.
	DefaultMinConf int64 = 1

	// DefaultRequestExpiry is how long an unbroadcast withdraw request
	// may linger before the expiry sweep cancels it.
	DefaultRequestExpiry = time.Hour

	// DefaultHoldingAccount is the internal account holding withdrawn
	// value until broadcast and the wallet's share of change deposits.
	DefaultHoldingAccount ledger.AccountID = "holding"

	// changeAddressLabel tags change addresses requested from the
	// wallet node.
	changeAddressLabel = "poolwallet-change"
)

// Config supplies the wallet's collaborators and tunables.  DB and
// Chain are required; the rest default sensibly.
type Config struct {
	// DB is the persistence collaborator.
	DB ledger.DB

	// Chain is the on-chain wallet node.
	Chain chain.Interface

	// Clock stamps requests and drives expiry.  Defaults to the wall
	// clock.
	Clock clock.Clock

	// HoldingAccount is the internal holding account id.
	HoldingAccount ledger.AccountID

	// ConfTarget is the fee estimation confirmation target.
	ConfTarget uint32

	// MinConf is the depth an output needs before it is credited.
	MinConf int64

	// RequestExpiry bounds a pending request's age.
	RequestExpiry time.Duration
}

// Wallet implements the accounting core.
type Wallet struct {
	db            ledger.DB
	chain         chain.Interface
	clock         clock.Clock
	holding       ledger.AccountID
	confTarget    uint32
	minConf       int64
	requestExpiry time.Duration
}

// New returns a Wallet over the given collaborators.
func New(cfg Config) (*Wallet, error) {
	if cfg.DB == nil {
		return nil, errorf(ErrInternal, "wallet requires a ledger store")
	}
	if cfg.Chain == nil {
		return nil, errorf(ErrInternal, "wallet requires a chain client")
	}
	w := &Wallet{
		db:            cfg.DB,
		chain:         cfg.Chain,
		clock:         cfg.Clock,
		holding:       cfg.HoldingAccount,
		confTarget:    cfg.ConfTarget,
		minConf:       cfg.MinConf,
		requestExpiry: cfg.RequestExpiry,
	}
	if w.clock == nil {
		w.clock = clock.NewDefaultClock()
	}
	if w.holding == "" {
		w.holding = DefaultHoldingAccount
	}
	if w.confTarget == 0 {
		w.confTarget = DefaultConfTarget
	}
	if w.minConf == 0 {
		w.minConf = DefaultMinConf
	}
	if w.requestExpiry == 0 {
		w.requestExpiry = DefaultRequestExpiry
	}
	return w, nil
}

// HoldingAccount returns the internal holding account id.
func (w *Wallet) HoldingAccount() ledger.AccountID {
	return w.holding
}

// checkAccountID rejects empty ids and direct use of the internal
// holding account.
func (w *Wallet) checkAccountID(id ledger.AccountID) error {
	if id == "" {
		return errorf(ErrInvalidIdentifier, "empty account id")
	}
	if id == w.holding {
		return errorf(ErrInvalidIdentifier,
			"account %v is reserved", id)
	}
	return nil
}

// Balance returns the sum of the account's shares over all deposits.
func (w *Wallet) Balance(id ledger.AccountID) (btcutil.Amount, error) {
	if err := w.checkAccountID(id); err != nil {
		return 0, err
	}
	var balance btcutil.Amount
	err := w.db.View(func(tx ledger.ReadTx) error {
		var err error
		balance, err = ledger.Balance(tx, id)
		return err
	})
	return balance, convertErr(err)
}

// WithdrawableBalance returns the account's balance excluding deposits
// locked by pending withdrawals.
func (w *Wallet) WithdrawableBalance(id ledger.AccountID) (btcutil.Amount,
	error) {

	if err := w.checkAccountID(id); err != nil {
		return 0, err
	}
	var balance btcutil.Amount
	err := w.db.View(func(tx ledger.ReadTx) error {
		var err error
		balance, err = ledger.WithdrawableBalance(tx, id)
		return err
	})
	return balance, convertErr(err)
}

// PendingBalance returns the last observed sum of the account's
// unconfirmed deposits.
func (w *Wallet) PendingBalance(id ledger.AccountID) (btcutil.Amount, error) {
	if err := w.checkAccountID(id); err != nil {
		return 0, err
	}
	var pending btcutil.Amount
	err := w.db.View(func(tx ledger.ReadTx) error {
		acct, err := tx.Account(id)
		if ledger.IsError(err, ledger.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		pending = acct.PendingBalance
		return nil
	})
	return pending, convertErr(err)
}

// Request returns the account's pending withdraw request.
func (w *Wallet) Request(id ledger.AccountID) (*ledger.WithdrawRequest,
	error) {

	if err := w.checkAccountID(id); err != nil {
		return nil, err
	}
	var req *ledger.WithdrawRequest
	err := w.db.View(func(tx ledger.ReadTx) error {
		acct, err := tx.Account(id)
		if ledger.IsError(err, ledger.ErrAccountNotFound) {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", id)
		}
		if err != nil {
			return err
		}
		if acct.ActiveRequest == "" {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", id)
		}
		req, err = tx.Request(acct.ActiveRequest)
		return err
	})
	return req, convertErr(err)
}

// Transfer moves amount from sender to receiver with no on-chain
// effect.
func (w *Wallet) Transfer(sender, receiver ledger.AccountID,
	amount btcutil.Amount) error {

	if err := w.checkAccountID(sender); err != nil {
		return err
	}
	if err := w.checkAccountID(receiver); err != nil {
		return err
	}
	if sender == receiver {
		return errorf(ErrInvalidIdentifier,
			"cannot transfer from %v to itself", sender)
	}
	if amount <= 0 {
		return errorf(ErrInvalidIdentifier,
			"transfer amount must be positive, got %v", amount)
	}
	err := w.db.Update(func(tx ledger.ReadWriteTx) error {
		return ledger.Transfer(tx, sender, receiver, amount)
	})
	if err != nil {
		return convertErr(err)
	}
	log.Debugf("Transferred %v from %v to %v", amount, sender, receiver)
	return nil
}

// BatchTransfer applies a zero-sum set of balance deltas atomically.
func (w *Wallet) BatchTransfer(deltas map[ledger.AccountID]btcutil.Amount) error {
	for id := range deltas {
		if err := w.checkAccountID(id); err != nil {
			return err
		}
	}
	err := w.db.Update(func(tx ledger.ReadWriteTx) error {
		return ledger.BatchTransfer(tx, deltas)
	})
	if err != nil {
		return convertErr(err)
	}
	log.Debugf("Applied batch transfer across %d accounts", len(deltas))
	return nil
}
