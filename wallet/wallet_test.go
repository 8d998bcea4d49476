// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/ledger/memdb"
	"github.com/poolwallet/poolwallet/txsizes"
	"github.com/poolwallet/poolwallet/wallet"
)

const (
	alice = ledger.AccountID("alice")
	bob   = ledger.AccountID("bob")

	destAddr = "bc1qtestdestination0000000000000000000000"
)

// mockChain is a scripted chain.Interface.  When failWith is set every
// call fails with it, simulating an unreachable node.
type mockChain struct {
	feeRate        txsizes.FeeRate
	unspents       []chain.Unspent
	failWith       error
	invalidAddrs   map[string]struct{}
	signIncomplete bool
	broadcastErr   error

	txids       map[string]string
	lastOutputs map[string]btcutil.Amount
	broadcasts  []string
	newAddrs    int
}

func newMockChain() *mockChain {
	return &mockChain{
		feeRate:      1000,
		invalidAddrs: make(map[string]struct{}),
		txids:        make(map[string]string),
	}
}

func (m *mockChain) EstimateFeeRate(uint32) (txsizes.FeeRate, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	return m.feeRate, nil
}

func (m *mockChain) ListUnspent([]string) ([]chain.Unspent, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.unspents, nil
}

func (m *mockChain) BuildTransaction(inputs []wire.OutPoint,
	outputs map[string]btcutil.Amount) (string, error) {

	if m.failWith != nil {
		return "", m.failWith
	}
	m.lastOutputs = outputs
	return fmt.Sprintf("aa%02x", len(m.txids)), nil
}

func (m *mockChain) SignTransaction(unsignedHex string) (string, bool, error) {
	if m.failWith != nil {
		return "", false, m.failWith
	}
	return unsignedHex + "ff", !m.signIncomplete, nil
}

func (m *mockChain) DecodeTransaction(txHex string) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	txid, ok := m.txids[txHex]
	if !ok {
		txid = fmt.Sprintf("%064x", len(m.txids)+1)
		m.txids[txHex] = txid
	}
	return txid, nil
}

func (m *mockChain) Broadcast(signedHex string) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	if m.broadcastErr != nil {
		return "", m.broadcastErr
	}
	m.broadcasts = append(m.broadcasts, signedHex)
	return m.txids[signedHex], nil
}

func (m *mockChain) NewAddress(string) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	m.newAddrs++
	return fmt.Sprintf("bc1qchange%030d", m.newAddrs), nil
}

func (m *mockChain) ValidateAddress(addr string) (bool, error) {
	if m.failWith != nil {
		return false, m.failWith
	}
	_, bad := m.invalidAddrs[addr]
	return !bad, nil
}

func unavailable() error {
	return &chain.Error{Unavailable: true, Err: errors.New("refused")}
}

func newTestWallet(t *testing.T) (*wallet.Wallet, *memdb.DB, *mockChain,
	*clock.TestClock) {

	t.Helper()
	db := memdb.New()
	c := newMockChain()
	clk := clock.NewTestClock(time.Unix(1700000000, 0))
	w, err := wallet.New(wallet.Config{
		DB:    db,
		Chain: c,
		Clock: clk,
	})
	require.NoError(t, err)
	return w, db, c, clk
}

func outPoint(id byte) wire.OutPoint {
	var op wire.OutPoint
	op.Hash[0] = id
	return op
}

func seedDeposit(t *testing.T, db *memdb.DB, id byte,
	value btcutil.Amount, owner ledger.AccountID) wire.OutPoint {

	t.Helper()
	op := outPoint(id)
	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount(owner)
		if err != nil {
			return err
		}
		_, err = ledger.CreateDeposit(tx, op, value,
			txsizes.OutputWitness, acct)
		return err
	})
	require.NoError(t, err)
	return op
}

// rawBalance reads an account's balance straight from the store, usable
// for the holding account the public methods refuse to name.
func rawBalance(t *testing.T, db *memdb.DB,
	id ledger.AccountID) btcutil.Amount {

	t.Helper()
	var total btcutil.Amount
	err := db.View(func(tx ledger.ReadTx) error {
		var err error
		total, err = ledger.Balance(tx, id)
		return err
	})
	require.NoError(t, err)
	return total
}

func TestAccountIDValidation(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	_, err := w.Balance("")
	require.True(t, wallet.IsError(err, wallet.ErrInvalidIdentifier))

	_, err = w.Balance(w.HoldingAccount())
	require.True(t, wallet.IsError(err, wallet.ErrInvalidIdentifier))
}

func TestTransfer(t *testing.T) {
	w, db, _, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 1000, alice)

	require.NoError(t, w.Transfer(alice, bob, 250))

	aliceBal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(750), aliceBal)
	bobBal, err := w.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(250), bobBal)

	err = w.Transfer(alice, bob, 10000)
	require.True(t, wallet.IsError(err, wallet.ErrInsufficientFunds))
	err = w.Transfer(alice, alice, 10)
	require.True(t, wallet.IsError(err, wallet.ErrInvalidIdentifier))
}

func TestBatchTransfer(t *testing.T) {
	w, db, _, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 1000, alice)

	err := w.BatchTransfer(map[ledger.AccountID]btcutil.Amount{
		alice: -400,
		bob:   400,
	})
	require.NoError(t, err)

	err = w.BatchTransfer(map[ledger.AccountID]btcutil.Amount{
		alice: -100,
		bob:   99,
	})
	require.True(t, wallet.IsError(err, wallet.ErrUnaccountedFunds))

	aliceBal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(600), aliceBal)
}

func TestInitiateValidation(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)

	// Destinations are whitelisted to alphanumeric characters before
	// they reach the node.
	_, err := w.Initiate(alice, "addr;rm -rf", false, 1000)
	require.True(t, wallet.IsError(err, wallet.ErrInvalidAddress))

	c.invalidAddrs["badaddr"] = struct{}{}
	_, err = w.Initiate(alice, "badaddr", false, 1000)
	require.True(t, wallet.IsError(err, wallet.ErrInvalidAddress))

	_, err = w.Initiate(alice, destAddr, false, 0)
	require.True(t, wallet.IsError(err, wallet.ErrInvalidIdentifier))

	_, err = w.Initiate(alice, destAddr, false, 200000)
	require.True(t,
		wallet.IsError(err, wallet.ErrNotEnoughWithdrawable))

	// A node that cannot fully sign the transaction fails initiation
	// before any ledger mutation.
	c.signIncomplete = true
	_, err = w.Initiate(alice, destAddr, false, 1000)
	require.True(t, wallet.IsError(err, wallet.ErrInternal))
	c.signIncomplete = false

	withdrawable, err := w.WithdrawableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), withdrawable)
}

// TestInitiateCancelRoundTrip verifies cancellation restores the exact
// pre-initiation state, fees included.
func TestInitiateCancelRoundTrip(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	op := seedDeposit(t, db, 1, 100000, alice)

	req, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50000), req.Amount)

	// One input at 1 sat/vB: base 71.5 plus 69 input cost plus the one
	// byte input counter, rounded up.
	require.Equal(t, btcutil.Amount(142), req.Fee)
	require.Equal(t, []wire.OutPoint{op}, req.Inputs)
	require.Equal(t, []btcutil.Amount{50142}, req.Held)

	// A change output went to a fresh node address.
	require.Equal(t, 1, c.newAddrs)
	require.Equal(t, btcutil.Amount(100000-50142),
		c.lastOutputs[fmt.Sprintf("bc1qchange%030d", 1)])

	// The held amount sits with the holding account, the rest stays
	// with alice, and the locked deposit is not withdrawable.
	aliceBal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(49858), aliceBal)
	require.Equal(t, btcutil.Amount(50142),
		rawBalance(t, db, w.HoldingAccount()))
	withdrawable, err := w.WithdrawableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), withdrawable)

	// A second request is refused while one is pending.
	_, err = w.Initiate(alice, destAddr, false, 1000)
	require.True(t,
		wallet.IsError(err, wallet.ErrRequestAlreadyExists))

	require.NoError(t, w.Cancel(alice))

	aliceBal, err = w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), aliceBal)
	require.Equal(t, btcutil.Amount(0),
		rawBalance(t, db, w.HoldingAccount()))
	withdrawable, err = w.WithdrawableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), withdrawable)

	err = w.Cancel(alice)
	require.True(t, wallet.IsError(err, wallet.ErrRequestNotFound))
}

func TestInitiateCannotAffordFees(t *testing.T) {
	w, db, _, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 50, alice)

	_, err := w.Initiate(alice, destAddr, false, 40)
	require.True(t, wallet.IsError(err, wallet.ErrCannotAffordFees))

	// The failed attempt left the ledger untouched.
	bal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50), bal)
	_, err = w.Request(alice)
	require.True(t, wallet.IsError(err, wallet.ErrRequestNotFound))
}

func TestInitiateNodeDown(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)
	c.failWith = unavailable()

	_, err := w.Initiate(alice, destAddr, false, 50000)
	require.True(t,
		wallet.IsError(err, wallet.ErrWalletUnavailable))

	c.failWith = nil
	withdrawable, err := w.WithdrawableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), withdrawable)
}

// TestInitiateLedgerChecksFirst verifies a pending request and an
// insufficient balance are reported even with the wallet node down,
// since both are decided from the ledger alone.
func TestInitiateLedgerChecksFirst(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)

	_, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)

	c.failWith = unavailable()
	_, err = w.Initiate(alice, destAddr, false, 1000)
	require.True(t,
		wallet.IsError(err, wallet.ErrRequestAlreadyExists))
	_, err = w.Initiate(bob, destAddr, false, 1000)
	require.True(t,
		wallet.IsError(err, wallet.ErrNotEnoughWithdrawable))
}

// TestWithdrawAll verifies the wants-all path takes every profitable
// deposit and pays the whole balance less fees, with no change output.
func TestWithdrawAll(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 60000, alice)
	seedDeposit(t, db, 2, 40000, alice)

	req, err := w.Initiate(alice, destAddr, true, 0)
	require.NoError(t, err)

	// Base 71.5 plus two inputs at 69 each plus one counter byte.
	require.Equal(t, btcutil.Amount(211), req.Fee)
	require.Equal(t, btcutil.Amount(100000-211), req.Amount)
	require.Len(t, req.Inputs, 2)

	// Everything moved to holding and no change address was cut.
	require.Equal(t, btcutil.Amount(100000),
		rawBalance(t, db, w.HoldingAccount()))
	require.Equal(t, 0, c.newAddrs)
	require.Equal(t, btcutil.Amount(req.Amount),
		c.lastOutputs[destAddr])
}

// TestCompleteFullConsumption broadcasts a wants-all withdrawal: with no
// residual ownership the inputs and the request are deleted outright.
func TestCompleteFullConsumption(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	op := seedDeposit(t, db, 1, 60000, alice)

	req, err := w.Initiate(alice, destAddr, true, 0)
	require.NoError(t, err)

	txid, err := w.Complete(alice)
	require.NoError(t, err)
	require.Equal(t, req.ID, txid)
	require.Equal(t, []string{req.SignedTx}, c.broadcasts)

	require.Equal(t, btcutil.Amount(0),
		rawBalance(t, db, w.HoldingAccount()))
	_, err = w.Request(alice)
	require.True(t, wallet.IsError(err, wallet.ErrRequestNotFound))

	err = db.View(func(tx ledger.ReadTx) error {
		_, err := tx.Deposit(op)
		require.True(t,
			ledger.IsError(err, ledger.ErrDepositNotFound))
		_, err = tx.Request(req.ID)
		require.True(t,
			ledger.IsError(err, ledger.ErrRequestNotFound))
		return nil
	})
	require.NoError(t, err)
}

// TestCompleteWithChange broadcasts a partial withdrawal and then
// settles its change through a holding account ingest pass.
func TestCompleteWithChange(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	op := seedDeposit(t, db, 1, 100000, alice)

	req, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)
	change := btcutil.Amount(100000) - req.Amount - req.Fee

	_, err = w.Complete(alice)
	require.NoError(t, err)

	// The input still has alice's residual, so it and the request
	// linger until the change confirms.
	err = db.View(func(tx ledger.ReadTx) error {
		dep, err := tx.Deposit(op)
		require.NoError(t, err)
		require.Equal(t, change, dep.Shares[alice])

		stored, err := tx.Request(req.ID)
		require.NoError(t, err)
		require.True(t, stored.Completed)
		return nil
	})
	require.NoError(t, err)

	// A completed request no longer blocks new ones, and it cannot be
	// canceled anymore.
	err = w.Cancel(alice)
	require.True(t, wallet.IsError(err, wallet.ErrRequestNotFound))

	// The change confirms back to the wallet under the request's txid.
	c.unspents = []chain.Unspent{{
		TxID:          req.ID,
		Vout:          1,
		Amount:        change,
		Confirmations: 3,
		Spendable:     true,
		Solvable:      true,
		Safe:          true,
		Descriptor:    "wpkh([aabbccdd]xpub/0/7)#qqqqqqqq",
	}}
	require.NoError(t, w.IngestDeposits(w.HoldingAccount(), nil))

	// Alice's residual now lives on the change deposit; the consumed
	// input and the request are gone and holding holds nothing.
	aliceBal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, change, aliceBal)
	require.Equal(t, btcutil.Amount(0),
		rawBalance(t, db, w.HoldingAccount()))

	err = db.View(func(tx ledger.ReadTx) error {
		_, err := tx.Deposit(op)
		require.True(t,
			ledger.IsError(err, ledger.ErrDepositNotFound))
		_, err = tx.Request(req.ID)
		require.True(t,
			ledger.IsError(err, ledger.ErrRequestNotFound))
		return nil
	})
	require.NoError(t, err)
}

// TestCompleteAfterResidualTransfer moves part of the withdrawer's
// residual to a third account while the request is pending, then
// completes and settles.  Every residual owner, not just the
// withdrawer, must end up on the change deposit.
func TestCompleteAfterResidualTransfer(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)

	req, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)
	change := btcutil.Amount(100000) - req.Amount - req.Fee

	// Locks guard on-chain double spends, not ownership: the residual
	// is still transferable while the request is pending.
	require.NoError(t, w.Transfer(alice, bob, 20000))

	_, err = w.Complete(alice)
	require.NoError(t, err)

	c.unspents = []chain.Unspent{{
		TxID:          req.ID,
		Vout:          1,
		Amount:        change,
		Confirmations: 3,
		Spendable:     true,
		Solvable:      true,
		Safe:          true,
		Descriptor:    "wpkh([aabbccdd]xpub/0/9)#qqqqqqqq",
	}}
	require.NoError(t, w.IngestDeposits(w.HoldingAccount(), nil))

	aliceBal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, change-20000, aliceBal)
	bobBal, err := w.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(20000), bobBal)
	require.Equal(t, btcutil.Amount(0),
		rawBalance(t, db, w.HoldingAccount()))
}

// TestCompleteBroadcastFailure leaves the request pending when the node
// cannot be reached, so it can be retried or canceled.
func TestCompleteBroadcastFailure(t *testing.T) {
	w, db, c, _ := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)

	_, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)

	c.broadcastErr = unavailable()
	_, err = w.Complete(alice)
	require.True(t,
		wallet.IsError(err, wallet.ErrWalletUnavailable))

	// Still pending: cancel restores everything.
	_, err = w.Request(alice)
	require.NoError(t, err)
	require.NoError(t, w.Cancel(alice))

	bal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), bal)
	require.Equal(t, btcutil.Amount(0),
		rawBalance(t, db, w.HoldingAccount()))
}

func TestExpireSweep(t *testing.T) {
	w, db, _, clk := newTestWallet(t)
	seedDeposit(t, db, 1, 100000, alice)

	_, err := w.Initiate(alice, destAddr, false, 50000)
	require.NoError(t, err)

	// Too fresh to expire.
	expired, err := w.ExpireSweep()
	require.NoError(t, err)
	require.Empty(t, expired)

	clk.SetTime(clk.Now().Add(2 * time.Hour))
	expired, err = w.ExpireSweep()
	require.NoError(t, err)
	require.Equal(t, []ledger.AccountID{alice}, expired)

	bal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), bal)
	_, err = w.Request(alice)
	require.True(t, wallet.IsError(err, wallet.ErrRequestNotFound))
}

func TestIngestDeposits(t *testing.T) {
	w, _, c, _ := newTestWallet(t)

	confirmedTxID := strings.Repeat("ab", 32)
	pendingTxID := strings.Repeat("cd", 32)
	unknownTxID := strings.Repeat("ef", 32)
	c.unspents = []chain.Unspent{
		{
			TxID:          confirmedTxID,
			Vout:          0,
			Amount:        5000,
			Confirmations: 6,
			Spendable:     true,
			Solvable:      true,
			Safe:          true,
			Descriptor:    "wpkh([aabbccdd]xpub/0/1)#qqqqqqqq",
		},
		{
			TxID:       pendingTxID,
			Vout:       0,
			Amount:     3000,
			Spendable:  true,
			Solvable:   true,
			Descriptor: "wpkh([aabbccdd]xpub/0/2)#qqqqqqqq",
		},
		{
			TxID:          unknownTxID,
			Vout:          0,
			Amount:        7000,
			Confirmations: 6,
			Spendable:     true,
			Solvable:      true,
			Safe:          true,
			Descriptor:    "wsh(sortedmulti(2,xpub1,xpub2))",
		},
	}

	require.NoError(t, w.IngestDeposits(alice, []string{"bc1qalice"}))

	bal, err := w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(5000), bal)
	pending, err := w.PendingBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3000), pending)

	// A second pass changes nothing.
	require.NoError(t, w.IngestDeposits(alice, []string{"bc1qalice"}))
	bal, err = w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(5000), bal)

	// Once the pending output confirms it is credited and leaves the
	// pending balance.
	c.unspents[1].Confirmations = 2
	c.unspents[1].Safe = true
	require.NoError(t, w.IngestDeposits(alice, []string{"bc1qalice"}))
	bal, err = w.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(8000), bal)
	pending, err = w.PendingBalance(alice)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), pending)

	require.True(t,
		wallet.IsError(w.IngestDeposits("", nil),
			wallet.ErrInvalidIdentifier))
}

func TestIngestNodeDown(t *testing.T) {
	w, _, c, _ := newTestWallet(t)
	c.failWith = unavailable()

	err := w.IngestDeposits(alice, []string{"bc1qalice"})
	require.True(t,
		wallet.IsError(err, wallet.ErrWalletUnavailable))
}
