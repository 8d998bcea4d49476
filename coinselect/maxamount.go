// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// MaxAmountSelector implements "withdraw everything": it selects every
// valid candidate whose value still exceeds a flat per-input cost, and
// fails when nothing qualifies or the combined cost-adjusted value cannot
// cover a caller-supplied floor (typically the fixed base cost of the
// transaction itself).
type MaxAmountSelector struct {
	// InputCost is the flat currency cost charged against every
	// candidate; candidates worth no more than this are left out.
	InputCost btcutil.Amount

	// MinTotal is the floor the summed cost-adjusted values must reach.
	MinTotal btcutil.Amount
}

// Select implements the Selector interface.  The target argument is
// ignored; this selector always takes everything profitable.
func (s *MaxAmountSelector) Select(ev Evaluator, pool []wire.OutPoint,
	_ btcutil.Amount) ([]wire.OutPoint, error) {

	cands := filterCandidates(ev, pool)

	var (
		out   []wire.OutPoint
		total btcutil.Amount
	)
	for _, c := range cands {
		adjusted := c.value - s.InputCost
		if adjusted <= 0 {
			continue
		}
		out = append(out, c.op)
		total += adjusted
	}
	if len(out) == 0 || total < s.MinTotal {
		return nil, &ErrSelectFailed{
			Target:    s.MinTotal,
			Available: total,
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return outPointLess(out[i], out[j])
	})
	return out, nil
}
