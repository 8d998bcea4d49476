// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txsizes provides the virtual size arithmetic used to price
// transaction inputs and outputs for fee estimation.  All sizes are
// expressed in vbytes, with witness data weighted at a quarter byte, so
// several of the constants are fractional.  The per-type input constants
// are fixed contracts: changing any of them changes every fee this
// package ever quotes.
package txsizes

import (
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// TxVersionSize is the size of a transaction's version field.
	TxVersionSize = 4.0

	// TxLockTimeSize is the size of a transaction's locktime field.
	TxLockTimeSize = 4.0

	// SegwitMarkerSize is the weighted size of the segwit marker and
	// flag bytes.
	SegwitMarkerSize = 0.5

	// WitnessItemCountSize is the weighted size of the per-input
	// witness item count.
	WitnessItemCountSize = 0.25

	// OutputValueSize is the size of an output's value field.
	OutputValueSize = 8.0

	// P2WPKHOutputSize is the size of a pay-to-witness-pubkey-hash
	// output: the value field, a one byte script length, and the 22
	// byte version-0 witness program.
	P2WPKHOutputSize = OutputValueSize + 1 + 22

	// inputCoreSize is the size every input carries regardless of its
	// type: the 32 byte previous txid, 4 byte output index, and 4 byte
	// sequence number.
	inputCoreSize = 32 + 4 + 4

	// inputSafetyMargin pads every input constant by one byte to absorb
	// the one byte of uncertainty in DER signature lengths.
	inputSafetyMargin = 1.0

	// LegacyInputSize is the vsize of spending a pay-to-pubkey-hash
	// output: the input core, a one byte script length, and a 107 byte
	// signature script.
	LegacyInputSize = inputCoreSize + 1 + 107 + inputSafetyMargin

	// NestedWitnessInputSize is the vsize of spending a
	// p2sh-wrapped-p2wpkh output: the input core, a 24 byte signature
	// script pushing the redeem script, and a 107 byte witness weighted
	// at a quarter.
	NestedWitnessInputSize = inputCoreSize + 24 + 107.0/4 + inputSafetyMargin

	// WitnessInputSize is the vsize of spending a native p2wpkh output:
	// the input core, an empty signature script, and the weighted 107
	// byte witness.
	WitnessInputSize = inputCoreSize + 1 + 107.0/4 + inputSafetyMargin

	// TaprootInputSize is the vsize of a taproot key spend: the input
	// core, an empty signature script, and a weighted 65 byte witness
	// holding the 64 byte schnorr signature.
	TaprootInputSize = inputCoreSize + 1 + 65.0/4 + inputSafetyMargin
)

// OutputType describes the script class of a received output, which
// determines its spend cost.
type OutputType uint8

const (
	// OutputLegacy is a pay-to-pubkey-hash output.
	OutputLegacy OutputType = iota

	// OutputNestedWitness is a p2sh-wrapped pay-to-witness-pubkey-hash
	// output.
	OutputNestedWitness

	// OutputWitness is a native pay-to-witness-pubkey-hash output.
	OutputWitness

	// OutputTaproot is a pay-to-taproot output.
	OutputTaproot
)

// String returns the OutputType as a human-readable name.
func (t OutputType) String() string {
	switch t {
	case OutputLegacy:
		return "legacy"
	case OutputNestedWitness:
		return "nested"
	case OutputWitness:
		return "witness"
	case OutputTaproot:
		return "taproot"
	default:
		return "unknown"
	}
}

// InputSize returns the vsize of spending an output of the given type.
func InputSize(t OutputType) float64 {
	switch t {
	case OutputLegacy:
		return LegacyInputSize
	case OutputNestedWitness:
		return NestedWitnessInputSize
	case OutputTaproot:
		return TaprootInputSize
	default:
		return WitnessInputSize
	}
}

// OutputTypeFromDescriptor infers the output type from the prefix of an
// output script descriptor as reported by listunspent.  The second return
// value is false when the descriptor is not one this package knows how to
// price.
func OutputTypeFromDescriptor(desc string) (OutputType, bool) {
	switch {
	case strings.HasPrefix(desc, "pkh("):
		return OutputLegacy, true
	case strings.HasPrefix(desc, "sh(wpkh("):
		return OutputNestedWitness, true
	case strings.HasPrefix(desc, "wpkh("):
		return OutputWitness, true
	case strings.HasPrefix(desc, "tr("):
		return OutputTaproot, true
	default:
		return 0, false
	}
}

// HexSize returns the byte size of a hex encoded payload.
func HexSize(h string) float64 {
	return float64(len(h)) / 2
}

// CounterSize returns the serialized size of a compact size counter
// holding n items.
func CounterSize(n uint64) float64 {
	switch {
	case n <= 252:
		return 1
	case n <= 65535:
		return 3
	case n <= 4294967295:
		return 5
	default:
		return 9
	}
}

// CounterMarginal returns the additional counter bytes incurred purely by
// adding an item at the given zero-based position, which is nonzero only
// when the item count crosses a compact size breakpoint.
func CounterMarginal(position uint64) float64 {
	switch position {
	case 0:
		return 1
	case 252:
		return 2
	case 65535:
		return 2
	case 4294967295:
		return 4
	default:
		return 0
	}
}

// OutputSize returns the vsize of an output paying to the given hex
// encoded locking script.
func OutputSize(pkScriptHex string) float64 {
	n := uint64(len(pkScriptHex) / 2)
	return OutputValueSize + CounterSize(n) + float64(n)
}

// BaseTxSize returns the vsize of a transaction before any inputs are
// added: version, locktime, the segwit marker, the output counter, and
// numOutputs p2wpkh sized outputs.
func BaseTxSize(numOutputs int) float64 {
	return TxVersionSize + TxLockTimeSize + SegwitMarkerSize +
		CounterSize(uint64(numOutputs)) +
		float64(numOutputs)*P2WPKHOutputSize
}

// FeeRate expresses a fee rate in satoshis per 1000 vbytes.
type FeeRate btcutil.Amount

// FeeForVSize returns the fee payable on vbytes at this rate, rounding
// up so a quoted fee never undershoots the rate.
func (r FeeRate) FeeForVSize(vbytes float64) btcutil.Amount {
	return btcutil.Amount(math.Ceil(vbytes * float64(r) / 1000))
}

// String returns the rate in sat/kvB.
func (r FeeRate) String() string {
	return btcutil.Amount(r).String() + "/kvB"
}
