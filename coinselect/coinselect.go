// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect implements input selection for withdrawal
// transactions.  Candidates are referenced by outpoint; an Evaluator
// supplies their value, validity and fee cost for the operation at hand,
// which keeps the selectors free of any ledger knowledge and lets tests
// drive them with synthetic evaluators.
package coinselect

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Evaluator prices and filters candidate inputs for one selection pass.
// Implementations are parameterized by the account and fee rate in play.
type Evaluator interface {
	// Valid reports whether the candidate may be selected at all.
	Valid(op wire.OutPoint) bool

	// Value returns the candidate's value relevant to the operation,
	// e.g. one account's share of a deposit.
	Value(op wire.OutPoint) btcutil.Amount

	// Cost returns the fee-relevant vbyte cost of including the
	// candidate as an input.
	Cost(op wire.OutPoint) float64

	// MarginalCost returns the additional vbyte cost incurred purely by
	// occupying the given zero-based input position.
	MarginalCost(position int) float64

	// CostToValue converts a vbyte cost into currency units at the
	// active fee rate, rounding up.
	CostToValue(cost float64) btcutil.Amount
}

// EffectiveValue returns a candidate's value net of the fee its inclusion
// costs.  It is the sort key for selection.
func EffectiveValue(ev Evaluator, op wire.OutPoint) btcutil.Amount {
	return ev.Value(op) - ev.CostToValue(ev.Cost(op))
}

// Selector chooses a subset of a candidate pool whose combined effective
// value covers a target amount plus the cumulative cost of selecting the
// subset itself.
type Selector interface {
	// Select returns the chosen outpoints in selection order, or an
	// ErrSelectFailed when no feasible subset exists.  A candidate
	// appearing more than once in the pool is considered only once.
	Select(ev Evaluator, pool []wire.OutPoint,
		target btcutil.Amount) ([]wire.OutPoint, error)
}

// ErrSelectFailed is returned when a selector cannot assemble a subset
// covering the target plus its own selection costs.
type ErrSelectFailed struct {
	Target    btcutil.Amount
	Available btcutil.Amount
}

// Error returns a human-readable string describing the failure.
func (e *ErrSelectFailed) Error() string {
	return fmt.Sprintf("no input subset covers %v, only %v available "+
		"after costs", e.Target, e.Available)
}

// candidate pairs an outpoint with its values so the selectors do not
// re-query the evaluator on every comparison.
type candidate struct {
	op    wire.OutPoint
	value btcutil.Amount
	eff   btcutil.Amount
}

// outPointLess orders outpoints by txid bytes, then output index.  It is
// the tie break everywhere a deterministic order is needed.
func outPointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

// filterCandidates drops invalid and duplicate pool entries and returns
// the rest sorted ascending by effective value, ties broken by outpoint.
func filterCandidates(ev Evaluator, pool []wire.OutPoint) []candidate {
	seen := make(map[wire.OutPoint]struct{}, len(pool))
	cands := make([]candidate, 0, len(pool))
	for _, op := range pool {
		if _, ok := seen[op]; ok {
			continue
		}
		seen[op] = struct{}{}
		if !ev.Valid(op) {
			continue
		}
		cands = append(cands, candidate{
			op:    op,
			value: ev.Value(op),
			eff:   EffectiveValue(ev, op),
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].eff != cands[j].eff {
			return cands[i].eff < cands[j].eff
		}
		return outPointLess(cands[i].op, cands[j].op)
	})
	return cands
}
