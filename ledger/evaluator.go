// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/txsizes"
)

// ShareEvaluator implements coinselect.Evaluator over deposit records
// for one account at one fee rate.  A deposit's value is the account's
// share of it, and its cost is the vsize of spending an output of its
// type plus the weighted witness item count.
type ShareEvaluator struct {
	deposits      map[wire.OutPoint]*Deposit
	account       AccountID
	feeRate       txsizes.FeeRate
	includeLocked bool
	exclude       map[wire.OutPoint]struct{}
}

// NewShareEvaluator returns an evaluator over the given deposits for the
// account.  Locked deposits are invalid unless includeLocked is set;
// transfers opt in since locking only guards on-chain double spends.
func NewShareEvaluator(deposits []*Deposit, account AccountID,
	feeRate txsizes.FeeRate, includeLocked bool) *ShareEvaluator {

	m := make(map[wire.OutPoint]*Deposit, len(deposits))
	for _, d := range deposits {
		m[d.OutPoint] = d
	}
	return &ShareEvaluator{
		deposits:      m,
		account:       account,
		feeRate:       feeRate,
		includeLocked: includeLocked,
	}
}

// Exclude marks outpoints that must not be selected again, used when a
// selector runs after a partial preselection.
func (e *ShareEvaluator) Exclude(ops ...wire.OutPoint) {
	if e.exclude == nil {
		e.exclude = make(map[wire.OutPoint]struct{}, len(ops))
	}
	for _, op := range ops {
		e.exclude[op] = struct{}{}
	}
}

// Deposit returns the deposit record behind an outpoint the evaluator
// was built over.
func (e *ShareEvaluator) Deposit(op wire.OutPoint) *Deposit {
	return e.deposits[op]
}

// Valid implements coinselect.Evaluator.
func (e *ShareEvaluator) Valid(op wire.OutPoint) bool {
	if _, ok := e.exclude[op]; ok {
		return false
	}
	d, ok := e.deposits[op]
	if !ok {
		return false
	}
	if d.Locked() && !e.includeLocked {
		return false
	}
	return d.Shares[e.account] > 0
}

// Value implements coinselect.Evaluator.
func (e *ShareEvaluator) Value(op wire.OutPoint) btcutil.Amount {
	d, ok := e.deposits[op]
	if !ok {
		return 0
	}
	return d.Shares[e.account]
}

// Cost implements coinselect.Evaluator.
func (e *ShareEvaluator) Cost(op wire.OutPoint) float64 {
	d, ok := e.deposits[op]
	if !ok {
		return 0
	}
	return txsizes.InputSize(d.Type) + txsizes.WitnessItemCountSize
}

// MarginalCost implements coinselect.Evaluator.
func (e *ShareEvaluator) MarginalCost(position int) float64 {
	return txsizes.CounterMarginal(uint64(position))
}

// CostToValue implements coinselect.Evaluator.
func (e *ShareEvaluator) CostToValue(cost float64) btcutil.Amount {
	return e.feeRate.FeeForVSize(cost)
}
