// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/txsizes"
)

// MoveShare moves amount of dep's value from one account to another.  It
// is the only share mutation path: the deposit's share map and both
// accounts' reverse deposit indexes change in the same step and are
// stored before it returns.  The from and to records must be the caller's
// live instances for this transaction so their versions stay coherent.
func MoveShare(tx ReadWriteTx, dep *Deposit, from, to *Account,
	amount btcutil.Amount) error {

	if amount <= 0 {
		return errorf(ErrInvalidRecord, "cannot move %v of deposit %v",
			amount, dep.OutPoint)
	}
	have := dep.Shares[from.ID]
	if have < amount {
		return errorf(ErrInsufficientShare, "account %v holds %v of "+
			"deposit %v, cannot move %v", from.ID, have,
			dep.OutPoint, amount)
	}

	key := dep.OutPoint.String()

	// A share entry of zero is never stored; the account drops out of
	// the map and the deposit out of the account's index instead.
	if have == amount {
		delete(dep.Shares, from.ID)
		delete(from.Deposits, key)
	} else {
		dep.Shares[from.ID] = have - amount
	}
	dep.Shares[to.ID] += amount
	if to.Deposits == nil {
		to.Deposits = make(map[string]struct{})
	}
	to.Deposits[key] = struct{}{}

	if err := tx.PutDeposit(dep); err != nil {
		return err
	}
	if err := tx.PutAccount(from); err != nil {
		return err
	}
	return tx.PutAccount(to)
}

// CreateDeposit records a newly observed output wholly owned by one
// account and links it into the owner's deposit index.
func CreateDeposit(tx ReadWriteTx, op wire.OutPoint, value btcutil.Amount,
	typ txsizes.OutputType, owner *Account) (*Deposit, error) {

	if value <= 0 {
		return nil, errorf(ErrInvalidRecord,
			"deposit %v must carry positive value, got %v", op, value)
	}
	dep := &Deposit{
		OutPoint: op,
		Value:    value,
		Type:     typ,
		Shares:   map[AccountID]btcutil.Amount{owner.ID: value},
	}
	if err := tx.PutDeposit(dep); err != nil {
		return nil, err
	}
	if owner.Deposits == nil {
		owner.Deposits = make(map[string]struct{})
	}
	owner.Deposits[op.String()] = struct{}{}
	if err := tx.PutAccount(owner); err != nil {
		return nil, err
	}
	return dep, nil
}

// RemoveDeposit deletes a deposit record and unlinks it from every
// shareholder's deposit index.  Shareholder records passed in accounts
// are reused; any other shareholder is fetched from the store.
func RemoveDeposit(tx ReadWriteTx, dep *Deposit,
	accounts map[AccountID]*Account) error {

	key := dep.OutPoint.String()
	for id := range dep.Shares {
		acct := accounts[id]
		if acct == nil {
			var err error
			acct, err = tx.Account(id)
			if err != nil {
				return err
			}
		}
		delete(acct.Deposits, key)
		if err := tx.PutAccount(acct); err != nil {
			return err
		}
		if accounts != nil {
			accounts[id] = acct
		}
	}
	return tx.DeleteDeposit(dep.OutPoint)
}

// Balance returns the sum of the account's shares over every deposit it
// appears in.  An account that was never stored has a zero balance.
func Balance(tx ReadTx, id AccountID) (btcutil.Amount, error) {
	return balance(tx, id, true)
}

// WithdrawableBalance is Balance restricted to deposits not currently
// locked by a pending withdrawal.
func WithdrawableBalance(tx ReadTx, id AccountID) (btcutil.Amount, error) {
	return balance(tx, id, false)
}

func balance(tx ReadTx, id AccountID, includeLocked bool) (btcutil.Amount,
	error) {

	acct, err := tx.Account(id)
	if IsError(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var sum btcutil.Amount
	for key := range acct.Deposits {
		op, err := parseOutPoint(key)
		if err != nil {
			return 0, err
		}
		dep, err := tx.Deposit(op)
		if err != nil {
			return 0, err
		}
		if !includeLocked && dep.Locked() {
			continue
		}
		sum += dep.Shares[id]
	}
	return sum, nil
}

// AccountDeposits returns the deposit records the account holds a share
// of, sorted ascending by the account's share with ties broken by
// outpoint.
func AccountDeposits(tx ReadTx, acct *Account) ([]*Deposit, error) {
	deps := make([]*Deposit, 0, len(acct.Deposits))
	for key := range acct.Deposits {
		op, err := parseOutPoint(key)
		if err != nil {
			return nil, err
		}
		dep, err := tx.Deposit(op)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	sortDepositsByShare(deps, acct.ID)
	return deps, nil
}
