// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain abstracts the on-chain wallet node the accounting core
// collaborates with.  The node owns the keys and the UTXO set; the core
// only asks it to list, build, sign and broadcast.
package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/txsizes"
)

// Interface is the wallet node collaborator.  Every method may fail with
// an *Error whose Unavailable flag distinguishes connectivity failures
// from node-reported rejections.
type Interface interface {
	// EstimateFeeRate returns the node's fee estimate for confirmation
	// within the given number of blocks.
	EstimateFeeRate(confTarget uint32) (txsizes.FeeRate, error)

	// ListUnspent returns the node's unspent outputs paying to any of
	// the given addresses.
	ListUnspent(addrs []string) ([]Unspent, error)

	// BuildTransaction constructs an unsigned transaction spending the
	// given inputs to the given address-to-amount outputs, returned as
	// serialized hex.
	BuildTransaction(inputs []wire.OutPoint,
		outputs map[string]btcutil.Amount) (string, error)

	// SignTransaction signs the hex encoded transaction with the
	// node's keys, returning the signed hex and whether every input
	// was fully signed.
	SignTransaction(unsignedHex string) (string, bool, error)

	// DecodeTransaction returns the transaction id of the hex encoded
	// transaction.
	DecodeTransaction(txHex string) (string, error)

	// Broadcast submits the signed transaction to the network and
	// returns its transaction id.
	Broadcast(signedHex string) (string, error)

	// NewAddress returns a fresh receive address under the given label.
	NewAddress(label string) (string, error)

	// ValidateAddress reports whether the node considers the address
	// valid for the active network.
	ValidateAddress(addr string) (bool, error)
}

// Unspent is one unspent output as reported by the wallet node.
type Unspent struct {
	// TxID and Vout identify the output.
	TxID string
	Vout uint32

	// Address is the output's receive address.
	Address string

	// Amount is the output's value.
	Amount btcutil.Amount

	// Confirmations is the output's depth, zero for mempool.
	Confirmations int64

	// Spendable, Solvable and Safe are the node's own eligibility
	// flags; ingest only credits outputs carrying all three.
	Spendable bool
	Solvable  bool
	Safe      bool

	// Descriptor is the output script descriptor, used to classify the
	// output's type.
	Descriptor string
}

// OutPoint returns the unspent output's outpoint.
func (u *Unspent) OutPoint() (wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return wire.OutPoint{}, &Error{
			Err: fmt.Errorf("malformed txid %q: %w", u.TxID, err),
		}
	}
	return wire.OutPoint{Hash: *hash, Index: u.Vout}, nil
}
