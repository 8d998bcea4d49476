// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/coinselect"
)

// transferRewindBound keeps the selector fallback cheap: transfers care
// about touching few records, not about fee-optimal subsets.
const transferRewindBound = 5

// Transfer moves amount from sender to receiver across the sender's
// deposits with no on-chain effect.  Deposits where the receiver already
// holds a share are preferred, so the transfer tends to reuse existing
// share entries instead of growing new ones; any shortfall is covered by
// coin selection over the sender's remaining deposits.  Locked deposits
// participate: a lock guards on-chain double spends, not ownership.
func Transfer(tx ReadWriteTx, sender, receiver AccountID,
	amount btcutil.Amount) error {

	if amount <= 0 {
		return errorf(ErrInvalidRecord,
			"transfer amount must be positive, got %v", amount)
	}
	if sender == receiver {
		return errorf(ErrInvalidRecord,
			"cannot transfer from %v to itself", sender)
	}

	from, err := tx.FetchOrCreateAccount(sender)
	if err != nil {
		return err
	}
	deps, err := AccountDeposits(tx, from)
	if err != nil {
		return err
	}
	var balance btcutil.Amount
	for _, d := range deps {
		balance += d.Shares[sender]
	}
	if balance < amount {
		return errorf(ErrInsufficientShare, "account %v holds %v, "+
			"cannot transfer %v", sender, balance, amount)
	}

	to, err := tx.FetchOrCreateAccount(receiver)
	if err != nil {
		return err
	}

	// Preselect deposits both parties already appear in, smallest
	// sender share first, consuming whole shares until the target is
	// met.  AccountDeposits already sorted by sender share.
	var (
		selected []*Deposit
		preTotal btcutil.Amount
		chosen   = make(map[wire.OutPoint]struct{})
	)
	for _, d := range deps {
		if preTotal >= amount {
			break
		}
		if d.Shares[receiver] <= 0 {
			continue
		}
		selected = append(selected, d)
		chosen[d.OutPoint] = struct{}{}
		preTotal += d.Shares[sender]
	}

	// Cover any shortfall from the sender's remaining deposits.  A
	// zero fee rate makes effective value the raw share.
	if preTotal < amount {
		ev := NewShareEvaluator(deps, sender, 0, true)
		pool := make([]wire.OutPoint, 0, len(deps))
		for _, d := range deps {
			if _, ok := chosen[d.OutPoint]; ok {
				ev.Exclude(d.OutPoint)
				continue
			}
			pool = append(pool, d.OutPoint)
		}
		sel := &coinselect.BinarySearchSelector{
			MaxRewind: transferRewindBound,
		}
		picks, err := sel.Select(ev, pool, amount-preTotal)
		if err != nil {
			return errorf(ErrInsufficientShare, "account %v cannot "+
				"cover transfer of %v: %v", sender, amount, err)
		}
		for _, op := range picks {
			selected = append(selected, ev.Deposit(op))
		}
	}

	owed := amount
	for _, d := range selected {
		if owed == 0 {
			break
		}
		mv := d.Shares[sender]
		if mv > owed {
			mv = owed
		}
		if mv == 0 {
			continue
		}
		if err := MoveShare(tx, d, from, to, mv); err != nil {
			return err
		}
		owed -= mv
	}
	if owed > 0 {
		return errorf(ErrInsufficientShare, "selection for account %v "+
			"fell %v short of %v", sender, owed, amount)
	}
	return nil
}

// BatchTransfer applies a set of signed balance deltas, every unit
// removed from one account landing in another.  The deltas must sum to
// exactly zero and every debited account must be able to cover its debit;
// any violation fails the whole batch with no effect, relying on the
// transaction rollback for atomicity.
func BatchTransfer(tx ReadWriteTx, deltas map[AccountID]btcutil.Amount) error {
	type entry struct {
		id     AccountID
		amount btcutil.Amount
	}

	var (
		sum       btcutil.Amount
		debtors   []entry
		creditors []entry
	)
	for id, delta := range deltas {
		sum += delta
		switch {
		case delta < 0:
			debtors = append(debtors, entry{id, -delta})
		case delta > 0:
			creditors = append(creditors, entry{id, delta})
		}
	}
	if sum != 0 {
		return errorf(ErrUnbalancedBatch,
			"batch deltas sum to %v, want 0", sum)
	}

	// Deterministic application order regardless of map iteration.
	sort.Slice(debtors, func(i, j int) bool {
		return debtors[i].id < debtors[j].id
	})
	sort.Slice(creditors, func(i, j int) bool {
		return creditors[i].id < creditors[j].id
	})

	// Validate every debit up front against current balances.  Deltas
	// are per-account nets, so no debtor can depend on a credit from
	// the same batch.
	for _, d := range debtors {
		balance, err := Balance(tx, d.id)
		if err != nil {
			return err
		}
		if balance < d.amount {
			return errorf(ErrInsufficientShare, "account %v holds "+
				"%v, cannot debit %v", d.id, balance, d.amount)
		}
	}

	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		mv := debtors[i].amount
		if creditors[j].amount < mv {
			mv = creditors[j].amount
		}
		err := Transfer(tx, debtors[i].id, creditors[j].id, mv)
		if err != nil {
			return err
		}
		debtors[i].amount -= mv
		creditors[j].amount -= mv
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return nil
}
