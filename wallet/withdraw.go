// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"regexp"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"

	"github.com/poolwallet/poolwallet/coinselect"
	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/txsizes"
)

// destPattern is the strict whitelist destination addresses must match
// before they are forwarded to the wallet node.  Every supported address
// encoding is alphanumeric; anything else is treated as an injection
// attempt.
var destPattern = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// Initiate builds and signs a withdrawal for the account.  All wallet
// node calls happen before any ledger mutation, so a node failure leaves
// the ledger untouched.  On success the selected deposits are locked to
// the new request and the withdrawing account's share of amount plus fee
// is parked in the holding account until broadcast or cancellation.
//
// With wantsAll set the amount argument is ignored and the account's
// whole withdrawable balance, less fees, is withdrawn.
func (w *Wallet) Initiate(account ledger.AccountID, destination string,
	wantsAll bool, amount btcutil.Amount) (*ledger.WithdrawRequest, error) {

	if err := w.checkAccountID(account); err != nil {
		return nil, err
	}
	if !destPattern.MatchString(destination) {
		return nil, errorf(ErrInvalidAddress,
			"destination contains forbidden characters")
	}
	if !wantsAll && amount <= 0 {
		return nil, errorf(ErrInvalidIdentifier,
			"withdraw amount must be positive, got %v", amount)
	}

	// Snapshot the account's unlocked deposits.  The mutation phase
	// below re-reads and re-validates everything it touches.
	var pool []*ledger.Deposit
	err := w.db.View(func(tx ledger.ReadTx) error {
		acct, err := tx.Account(account)
		if ledger.IsError(err, ledger.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if acct.ActiveRequest != "" {
			return errorf(ErrRequestAlreadyExists,
				"account %v already has request %v", account,
				acct.ActiveRequest)
		}
		deps, err := ledger.AccountDeposits(tx, acct)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if !d.Locked() && d.Shares[account] > 0 {
				pool = append(pool, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, convertErr(err)
	}
	var withdrawable btcutil.Amount
	for _, d := range pool {
		withdrawable += d.Shares[account]
	}
	if !wantsAll && withdrawable < amount {
		return nil, errorf(ErrNotEnoughWithdrawable,
			"account %v can withdraw %v, wants %v", account,
			withdrawable, amount)
	}
	if withdrawable <= 0 {
		return nil, errorf(ErrNotEnoughWithdrawable,
			"account %v has nothing to withdraw", account)
	}

	valid, err := w.chain.ValidateAddress(destination)
	if err != nil {
		return nil, convertErr(err)
	}
	if !valid {
		return nil, errorf(ErrInvalidAddress,
			"destination %q is not a valid address", destination)
	}

	feeRate, err := w.chain.EstimateFeeRate(w.confTarget)
	if err != nil {
		return nil, convertErr(err)
	}
	baseSize := txsizes.BaseTxSize(2)
	baseFee := feeRate.FeeForVSize(baseSize)

	// Select inputs, pricing each deposit's spend cost in currency at
	// the estimated rate.
	ev := ledger.NewShareEvaluator(pool, account, feeRate, false)
	ops := make([]wire.OutPoint, 0, len(pool))
	for _, d := range pool {
		ops = append(ops, d.OutPoint)
	}
	var selected []wire.OutPoint
	if wantsAll {
		var maxCost float64
		for _, d := range pool {
			c := txsizes.InputSize(d.Type) +
				txsizes.WitnessItemCountSize
			if c > maxCost {
				maxCost = c
			}
		}
		sel := &coinselect.MaxAmountSelector{
			InputCost: feeRate.FeeForVSize(maxCost),
			MinTotal:  baseFee,
		}
		selected, err = sel.Select(ev, ops, 0)
	} else {
		sel := coinselect.NewBinarySearchSelector()
		selected, err = sel.Select(ev, ops, amount+baseFee)
	}
	if err != nil {
		return nil, Error{
			ErrorCode: ErrCannotAffordFees,
			Description: "cannot select inputs covering amount " +
				"plus fees",
			Err: err,
		}
	}

	var (
		totalIn btcutil.Amount
		owned   btcutil.Amount
		vsize   = baseSize
	)
	for i, op := range selected {
		d := ev.Deposit(op)
		totalIn += d.Value
		owned += d.Shares[account]
		vsize += ev.Cost(op) + ev.MarginalCost(i)
	}
	fee := feeRate.FeeForVSize(vsize)

	withdrawAmount := amount
	if wantsAll {
		withdrawAmount = owned - fee
	}
	if withdrawAmount <= 0 || owned < withdrawAmount+fee {
		return nil, errorf(ErrCannotAffordFees,
			"account %v owns %v of the selection, cannot cover "+
				"%v plus %v fee", account, owned, withdrawAmount, fee)
	}
	hold := withdrawAmount + fee

	outputs := map[string]btcutil.Amount{destination: withdrawAmount}
	if change := totalIn - hold; change > 0 {
		changeAddr, err := w.chain.NewAddress(changeAddressLabel)
		if err != nil {
			return nil, convertErr(err)
		}
		outputs[changeAddr] = change
	}

	unsignedHex, err := w.chain.BuildTransaction(selected, outputs)
	if err != nil {
		return nil, convertErr(err)
	}
	signedHex, complete, err := w.chain.SignTransaction(unsignedHex)
	if err != nil {
		return nil, convertErr(err)
	}
	if !complete {
		return nil, errorf(ErrInternal,
			"wallet node could not fully sign the transaction")
	}
	txid, err := w.chain.DecodeTransaction(signedHex)
	if err != nil {
		return nil, convertErr(err)
	}

	// Mutation phase: lock the inputs, park the withdrawn value with
	// the holding account and persist the request, all in one unit of
	// work re-validated against fresh records.
	req := &ledger.WithdrawRequest{
		ID:        txid,
		Account:   account,
		Amount:    withdrawAmount,
		Fee:       fee,
		SignedTx:  signedHex,
		CreatedAt: w.clock.Now(),
	}
	err = w.db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount(account)
		if err != nil {
			return err
		}
		if acct.ActiveRequest != "" {
			return errorf(ErrRequestAlreadyExists,
				"account %v already has request %v", account,
				acct.ActiveRequest)
		}
		holding, err := tx.FetchOrCreateAccount(w.holding)
		if err != nil {
			return err
		}
		remaining := hold
		for _, op := range selected {
			dep, err := tx.Deposit(op)
			if ledger.IsError(err, ledger.ErrDepositNotFound) {
				return errorf(ErrConflict,
					"deposit %v vanished since selection", op)
			}
			if err != nil {
				return err
			}
			if dep.Locked() {
				return errorf(ErrConflict,
					"deposit %v locked since selection", op)
			}
			dep.LockedBy = txid
			mv := dep.Shares[account]
			if mv > remaining {
				mv = remaining
			}
			if mv > 0 {
				err = ledger.MoveShare(tx, dep, acct, holding, mv)
			} else {
				err = tx.PutDeposit(dep)
			}
			if err != nil {
				return err
			}
			remaining -= mv
			req.Inputs = append(req.Inputs, op)
			req.Held = append(req.Held, mv)
		}
		if remaining > 0 {
			return errorf(ErrConflict, "account %v shares shrank "+
				"by %v since selection", account, remaining)
		}
		if err := tx.PutRequest(req); err != nil {
			return err
		}
		acct.ActiveRequest = txid
		return tx.PutAccount(acct)
	})
	if err != nil {
		return nil, convertErr(err)
	}

	log.Infof("Initiated withdraw request %v for account %v: %v to %v, "+
		"%v fee, %d inputs", txid, account, withdrawAmount,
		destination, fee, len(req.Inputs))
	return req, nil
}

// Cancel aborts the account's pending withdraw request, restoring every
// held share and unlocking every input.
func (w *Wallet) Cancel(account ledger.AccountID) error {
	if err := w.checkAccountID(account); err != nil {
		return err
	}
	err := w.db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.Account(account)
		if ledger.IsError(err, ledger.ErrAccountNotFound) {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", account)
		}
		if err != nil {
			return err
		}
		if acct.ActiveRequest == "" {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", account)
		}
		req, err := tx.Request(acct.ActiveRequest)
		if err != nil {
			return err
		}
		if req.Completed {
			return errorf(ErrRequestNotFound,
				"request %v already broadcast", req.ID)
		}
		holding, err := tx.FetchOrCreateAccount(w.holding)
		if err != nil {
			return err
		}
		return cancelRequest(tx, req, acct, holding)
	})
	if err != nil {
		return convertErr(err)
	}
	log.Infof("Canceled withdraw request for account %v", account)
	return nil
}

// cancelRequest reverses a pending request inside the caller's
// transaction: held shares flow back from holding to the owner, locks
// clear, and the record is deleted.
func cancelRequest(tx ledger.ReadWriteTx, req *ledger.WithdrawRequest,
	acct, holding *ledger.Account) error {

	for i, op := range req.Inputs {
		dep, err := tx.Deposit(op)
		if err != nil {
			return err
		}
		dep.LockedBy = ""
		if req.Held[i] > 0 {
			err = ledger.MoveShare(tx, dep, holding, acct,
				req.Held[i])
		} else {
			err = tx.PutDeposit(dep)
		}
		if err != nil {
			return err
		}
	}
	if err := tx.DeleteRequest(req.ID); err != nil {
		return err
	}
	acct.ActiveRequest = ""
	return tx.PutAccount(acct)
}

// Complete broadcasts the account's pending request.  A broadcast
// failure leaves the request pending so it can be retried or canceled.
// On success the account is released; inputs fully consumed by the
// withdrawal are deleted outright, and the request either goes with
// them or stays behind marked completed until its change settles.
func (w *Wallet) Complete(account ledger.AccountID) (string, error) {
	if err := w.checkAccountID(account); err != nil {
		return "", err
	}

	var req *ledger.WithdrawRequest
	err := w.db.View(func(tx ledger.ReadTx) error {
		acct, err := tx.Account(account)
		if ledger.IsError(err, ledger.ErrAccountNotFound) {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", account)
		}
		if err != nil {
			return err
		}
		if acct.ActiveRequest == "" {
			return errorf(ErrRequestNotFound,
				"account %v has no pending request", account)
		}
		req, err = tx.Request(acct.ActiveRequest)
		return err
	})
	if err != nil {
		return "", convertErr(err)
	}

	log.Tracef("Broadcasting withdraw request: %v",
		newLogClosure(func() string { return spew.Sdump(req) }))
	if _, err := w.chain.Broadcast(req.SignedTx); err != nil {
		// The request stays pending: the caller may retry or cancel.
		return "", convertErr(err)
	}

	err = w.db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.Account(account)
		if err != nil {
			return err
		}
		fresh, err := tx.Request(req.ID)
		if err != nil {
			return err
		}
		holding, err := tx.FetchOrCreateAccount(w.holding)
		if err != nil {
			return err
		}
		accounts := map[ledger.AccountID]*ledger.Account{
			acct.ID:    acct,
			holding.ID: holding,
		}

		// Inputs whose value was entirely absorbed by the holding
		// account carry no residual ownership and can go at once.
		var (
			keepInputs []wire.OutPoint
			keepHeld   []btcutil.Amount
		)
		for i, op := range fresh.Inputs {
			dep, err := tx.Deposit(op)
			if err != nil {
				return err
			}
			if dep.Shares[w.holding] == dep.Value {
				err := ledger.RemoveDeposit(tx, dep, accounts)
				if err != nil {
					return err
				}
				continue
			}
			keepInputs = append(keepInputs, op)
			keepHeld = append(keepHeld, fresh.Held[i])
		}

		if len(keepInputs) == 0 {
			if err := tx.DeleteRequest(fresh.ID); err != nil {
				return err
			}
		} else {
			fresh.Inputs = keepInputs
			fresh.Held = keepHeld
			fresh.Completed = true
			if err := tx.PutRequest(fresh); err != nil {
				return err
			}
		}

		acct.ActiveRequest = ""
		return tx.PutAccount(acct)
	})
	if err != nil {
		return "", convertErr(err)
	}

	log.Infof("Completed withdraw request %v for account %v", req.ID,
		account)
	return req.ID, nil
}

// ExpireSweep cancels every pending request whose age falls outside the
// configured expiry window and returns the owning accounts.  It is safe
// to run concurrently with user operations and on an unchanged ledger
// it does nothing.
func (w *Wallet) ExpireSweep() ([]ledger.AccountID, error) {
	var expired []ledger.AccountID
	err := w.db.Update(func(tx ledger.ReadWriteTx) error {
		reqs, err := tx.Requests()
		if err != nil {
			return err
		}
		now := w.clock.Now()
		for _, req := range reqs {
			if req.Completed {
				continue
			}
			age := now.Sub(req.CreatedAt)
			if age >= 0 && age < w.requestExpiry {
				continue
			}
			acct, err := tx.Account(req.Account)
			if err != nil {
				return err
			}
			holding, err := tx.FetchOrCreateAccount(w.holding)
			if err != nil {
				return err
			}
			if err := cancelRequest(tx, req, acct, holding); err != nil {
				return err
			}
			log.Warnf("Expired withdraw request %v for account %v "+
				"after %v", req.ID, req.Account, age)
			expired = append(expired, req.Account)
		}
		return nil
	})
	if err != nil {
		return nil, convertErr(err)
	}
	return expired, nil
}
