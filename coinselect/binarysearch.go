// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// RewindDefault picks a rewind bound from the pool size: the whole
	// pool below fifteen candidates, 25 below thirty, 35 otherwise.
	RewindDefault = -1

	// RewindUnbounded never limits rewinding, giving the selector its
	// full O(n^2 log n) worst case.
	RewindUnbounded = math.MaxInt
)

// defaultRewindBound returns the dynamic rewind bound for a pool of n
// candidates.
func defaultRewindBound(n int) int {
	switch {
	case n < 15:
		return n
	case n < 30:
		return 25
	default:
		return 35
	}
}

// BinarySearchSelector approximates a least-waste selection.  It keeps a
// LIFO stack of picks, repeatedly binary searching the value-sorted pool
// for the candidate closest to the amount still needed.  When a pick is
// larger than earlier stack entries it rewinds them back into the pool,
// letting one large input replace several small ones.  The result is a
// bounded approximation, not an optimal knapsack solve: with a pool of
// {4, 40, 70, 100} and a target of 45 it settles on {70} even though
// {4, 40} is closer.
type BinarySearchSelector struct {
	// MaxRewind bounds the total number of stack entries the selector
	// may undo over one run.  Zero disables rewinding entirely, turning
	// the selector into a greedy nearest-match pass.  RewindDefault
	// derives the bound from the pool size.
	MaxRewind int
}

// NewBinarySearchSelector returns a selector using the default dynamic
// rewind bound.
func NewBinarySearchSelector() *BinarySearchSelector {
	return &BinarySearchSelector{MaxRewind: RewindDefault}
}

// stackEntry records one selection along with the cost it was charged,
// so a rewind can undo its contribution exactly.
type stackEntry struct {
	cand candidate
	cost float64
}

// Select implements the Selector interface.
func (s *BinarySearchSelector) Select(ev Evaluator, pool []wire.OutPoint,
	target btcutil.Amount) ([]wire.OutPoint, error) {

	cands := filterCandidates(ev, pool)

	bound := s.MaxRewind
	if bound == RewindDefault {
		bound = defaultRewindBound(len(cands))
	}

	var (
		stack    []stackEntry
		selected btcutil.Amount
		cumCost  float64
		rewinds  int
	)
	for {
		needed := target + ev.CostToValue(cumCost) - selected
		if needed <= 0 {
			break
		}
		if len(cands) == 0 {
			return nil, &ErrSelectFailed{
				Target:    target,
				Available: selected,
			}
		}

		// Charge the counter growth for the position this pick will
		// occupy before searching for it.
		posCost := ev.MarginalCost(len(stack))
		needed = target + ev.CostToValue(cumCost+posCost) - selected

		idx := closestValue(cands, needed)
		pick := cands[idx]
		cands = append(cands[:idx], cands[idx+1:]...)

		// A pick larger than recent selections may be able to replace
		// them outright.  Pop smaller entries back into the pool until
		// the stack top is no longer smaller, the rewind budget runs
		// out, or the stack empties.
		for len(stack) > 0 && rewinds < bound {
			top := stack[len(stack)-1]
			if top.cand.value >= pick.value {
				break
			}
			stack = stack[:len(stack)-1]
			selected -= top.cand.value
			cumCost -= top.cost
			cands = insertSorted(cands, top.cand)
			rewinds++
		}

		cost := ev.Cost(pick.op) + ev.MarginalCost(len(stack))
		stack = append(stack, stackEntry{cand: pick, cost: cost})
		selected += pick.value
		cumCost += cost
	}

	out := make([]wire.OutPoint, len(stack))
	for i, e := range stack {
		out[i] = e.cand.op
	}
	return out, nil
}

// closestValue returns the index of the candidate whose raw value is
// closest to want, resolving ties toward the smaller candidate.
func closestValue(cands []candidate, want btcutil.Amount) int {
	i := sort.Search(len(cands), func(j int) bool {
		return cands[j].value >= want
	})
	switch {
	case i == 0:
		return 0
	case i == len(cands):
		return len(cands) - 1
	}
	if want-cands[i-1].value <= cands[i].value-want {
		return i - 1
	}
	return i
}

// insertSorted returns cands with c re-inserted at its sorted position.
func insertSorted(cands []candidate, c candidate) []candidate {
	i := sort.Search(len(cands), func(j int) bool {
		if cands[j].eff != c.eff {
			return cands[j].eff > c.eff
		}
		return outPointLess(c.op, cands[j].op)
	})
	cands = append(cands, candidate{})
	copy(cands[i+1:], cands[i:])
	cands[i] = c
	return cands
}
