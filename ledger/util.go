// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// parseOutPoint reverses wire.OutPoint.String, which is how outpoints are
// keyed inside account records.
func parseOutPoint(key string) (wire.OutPoint, error) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return wire.OutPoint{}, errorf(ErrInvalidRecord,
			"malformed outpoint key %q", key)
	}
	hash, err := chainhash.NewHashFromStr(key[:i])
	if err != nil {
		return wire.OutPoint{}, errorf(ErrInvalidRecord,
			"malformed outpoint hash in %q", key)
	}
	index, err := strconv.ParseUint(key[i+1:], 10, 32)
	if err != nil {
		return wire.OutPoint{}, errorf(ErrInvalidRecord,
			"malformed outpoint index in %q", key)
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

// OutPointLess orders outpoints by txid bytes, then output index.
func OutPointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

// sortDepositsByShare sorts deposits ascending by one account's share,
// ties broken by outpoint.
func sortDepositsByShare(deps []*Deposit, id AccountID) {
	sort.Slice(deps, func(i, j int) bool {
		si, sj := deps[i].Shares[id], deps[j].Shares[id]
		if si != sj {
			return si < sj
		}
		return OutPointLess(deps[i].OutPoint, deps[j].OutPoint)
	})
}

// SortDepositsByValue sorts deposits ascending by total value, ties
// broken by outpoint.  Store implementations use it to satisfy the
// Deposits ordering contract.
func SortDepositsByValue(deps []*Deposit) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Value != deps[j].Value {
			return deps[i].Value < deps[j].Value
		}
		return OutPointLess(deps[i].OutPoint, deps[j].OutPoint)
	})
}
