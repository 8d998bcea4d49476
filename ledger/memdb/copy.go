// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package memdb

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/poolwallet/poolwallet/ledger"
)

func copyAccount(a *ledger.Account) *ledger.Account {
	out := *a
	out.Deposits = copyStringSet(a.Deposits)
	out.ProcessedOutputs = copyStringSet(a.ProcessedOutputs)
	return &out
}

func copyDeposit(d *ledger.Deposit) *ledger.Deposit {
	out := *d
	out.Shares = make(map[ledger.AccountID]btcutil.Amount, len(d.Shares))
	for id, s := range d.Shares {
		out.Shares[id] = s
	}
	return &out
}

func copyRequest(r *ledger.WithdrawRequest) *ledger.WithdrawRequest {
	out := *r
	out.Inputs = append(out.Inputs[:0:0], r.Inputs...)
	out.Held = append(out.Held[:0:0], r.Held...)
	return &out
}

func copyStringSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func notFound(code ledger.ErrorCode, format string,
	args ...interface{}) error {

	return ledger.Error{
		ErrorCode:   code,
		Description: fmt.Sprintf(format, args...),
	}
}

func conflict(kind, id string, got, want uint64) error {
	return ledger.Error{
		ErrorCode: ledger.ErrConflict,
		Description: fmt.Sprintf("%s %s version %d is stale, "+
			"store has %d", kind, id, got, want),
	}
}
