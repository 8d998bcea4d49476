// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/txsizes"
)

// DefaultFeeRate is the sat/kvB rate used when the node has no smart fee
// estimate yet, e.g. on a fresh regtest chain.
const DefaultFeeRate txsizes.FeeRate = 2000

// BitcoindClient implements Interface against a bitcoind wallet over
// JSON-RPC in HTTP POST mode.
type BitcoindClient struct {
	client      *rpcclient.Client
	chainParams *chaincfg.Params
}

// NewBitcoindClient returns a client for the bitcoind wallet at the
// given host.  The connection is established lazily on first use.
func NewBitcoindClient(chainParams *chaincfg.Params, host, user,
	pass string) (*BitcoindClient, error) {

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 host,
		User:                 user,
		Pass:                 pass,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &BitcoindClient{
		client:      client,
		chainParams: chainParams,
	}, nil
}

// Shutdown tears down the underlying RPC client.
func (c *BitcoindClient) Shutdown() {
	c.client.Shutdown()
}

// EstimateFeeRate implements Interface.
func (c *BitcoindClient) EstimateFeeRate(confTarget uint32) (txsizes.FeeRate,
	error) {

	res, err := c.client.EstimateSmartFee(
		int64(confTarget), &btcjson.EstimateModeConservative,
	)
	if err != nil {
		return 0, wrapRPC(err)
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		log.Warnf("No smart fee estimate for target %d (%v), using "+
			"default rate %d sat/kvB", confTarget, res.Errors,
			DefaultFeeRate)
		return DefaultFeeRate, nil
	}
	perKvB, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, &Error{Err: fmt.Errorf("bad fee estimate %v: %w",
			*res.FeeRate, err)}
	}
	return txsizes.FeeRate(perKvB), nil
}

// ListUnspent implements Interface.  The listunspent call is issued raw
// because the solvable, safe and descriptor fields are not carried by
// the typed btcjson result.
func (c *BitcoindClient) ListUnspent(addrs []string) ([]Unspent, error) {
	params := make([]json.RawMessage, 0, 3)
	for _, p := range []interface{}{0, 9999999, addrs} {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, &Error{Err: err}
		}
		params = append(params, raw)
	}
	res, err := c.client.RawRequest("listunspent", params)
	if err != nil {
		return nil, wrapRPC(err)
	}

	var raw []struct {
		TxID          string  `json:"txid"`
		Vout          uint32  `json:"vout"`
		Address       string  `json:"address"`
		Amount        float64 `json:"amount"`
		Confirmations int64   `json:"confirmations"`
		Spendable     bool    `json:"spendable"`
		Solvable      bool    `json:"solvable"`
		Safe          bool    `json:"safe"`
		Descriptor    string  `json:"desc"`
	}
	if err := json.Unmarshal(res, &raw); err != nil {
		return nil, &Error{Err: fmt.Errorf("decoding listunspent: %w",
			err)}
	}

	out := make([]Unspent, 0, len(raw))
	for _, u := range raw {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, &Error{Err: fmt.Errorf("bad amount %v on "+
				"%s:%d: %w", u.Amount, u.TxID, u.Vout, err)}
		}
		out = append(out, Unspent{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Address:       u.Address,
			Amount:        amount,
			Confirmations: u.Confirmations,
			Spendable:     u.Spendable,
			Solvable:      u.Solvable,
			Safe:          u.Safe,
			Descriptor:    u.Descriptor,
		})
	}
	return out, nil
}

// BuildTransaction implements Interface.
func (c *BitcoindClient) BuildTransaction(inputs []wire.OutPoint,
	outputs map[string]btcutil.Amount) (string, error) {

	txInputs := make([]btcjson.TransactionInput, 0, len(inputs))
	for _, op := range inputs {
		txInputs = append(txInputs, btcjson.TransactionInput{
			Txid: op.Hash.String(),
			Vout: op.Index,
		})
	}
	amounts := make(map[btcutil.Address]btcutil.Amount, len(outputs))
	for addr, amount := range outputs {
		decoded, err := btcutil.DecodeAddress(addr, c.chainParams)
		if err != nil {
			return "", &Error{Err: fmt.Errorf("bad output "+
				"address %q: %w", addr, err)}
		}
		amounts[decoded] = amount
	}

	tx, err := c.client.CreateRawTransaction(txInputs, amounts, nil)
	if err != nil {
		return "", wrapRPC(err)
	}
	return serializeTx(tx)
}

// SignTransaction implements Interface.
func (c *BitcoindClient) SignTransaction(unsignedHex string) (string, bool,
	error) {

	tx, err := deserializeTx(unsignedHex)
	if err != nil {
		return "", false, err
	}
	signed, complete, err := c.client.SignRawTransactionWithWallet(tx)
	if err != nil {
		return "", false, wrapRPC(err)
	}
	signedHex, err := serializeTx(signed)
	if err != nil {
		return "", false, err
	}
	return signedHex, complete, nil
}

// DecodeTransaction implements Interface.
func (c *BitcoindClient) DecodeTransaction(txHex string) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

// Broadcast implements Interface.
func (c *BitcoindClient) Broadcast(signedHex string) (string, error) {
	tx, err := deserializeTx(signedHex)
	if err != nil {
		return "", err
	}
	hash, err := c.client.SendRawTransaction(tx, false)
	if err != nil {
		return "", wrapRPC(err)
	}
	log.Infof("Broadcast transaction %v", hash)
	return hash.String(), nil
}

// NewAddress implements Interface.
func (c *BitcoindClient) NewAddress(label string) (string, error) {
	addr, err := c.client.GetNewAddress(label)
	if err != nil {
		return "", wrapRPC(err)
	}
	return addr.String(), nil
}

// ValidateAddress implements Interface.
func (c *BitcoindClient) ValidateAddress(addr string) (bool, error) {
	decoded, err := btcutil.DecodeAddress(addr, c.chainParams)
	if err != nil {
		return false, nil
	}
	res, err := c.client.ValidateAddress(decoded)
	if err != nil {
		return false, wrapRPC(err)
	}
	return res.IsValid, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", &Error{Err: fmt.Errorf("serializing tx: %w", err)}
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("bad tx hex: %w", err)}
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, &Error{Err: fmt.Errorf("deserializing tx: %w", err)}
	}
	return tx, nil
}
