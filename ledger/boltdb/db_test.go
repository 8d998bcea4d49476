// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package boltdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/txsizes"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func testOutPoint() wire.OutPoint {
	var op wire.OutPoint
	op.Hash[0] = 0xaa
	op.Index = 1
	return op
}

// TestPersistence stores one record of each kind, reopens the database
// and checks everything survived intact.
func TestPersistence(t *testing.T) {
	db, path := openTestDB(t)
	op := testOutPoint()
	created := time.Unix(1700000000, 0).UTC()

	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount("alice")
		require.NoError(t, err)
		_, err = ledger.CreateDeposit(tx, op, 1000,
			txsizes.OutputTaproot, acct)
		require.NoError(t, err)

		return tx.PutRequest(&ledger.WithdrawRequest{
			ID:        "txid",
			Account:   "alice",
			Inputs:    []wire.OutPoint{op},
			Held:      []btcutil.Amount{900},
			Amount:    850,
			Fee:       50,
			SignedTx:  "beef",
			CreatedAt: created,
		})
	})
	require.NoError(t, err)

	require.NoError(t, db.Close())
	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	err = db2.View(func(tx ledger.ReadTx) error {
		acct, err := tx.Account("alice")
		require.NoError(t, err)
		require.Contains(t, acct.Deposits, op.String())

		dep, err := tx.Deposit(op)
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(1000), dep.Value)
		require.Equal(t, txsizes.OutputTaproot, dep.Type)
		require.Equal(t, btcutil.Amount(1000),
			dep.Shares["alice"])

		req, err := tx.Request("txid")
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{op}, req.Inputs)
		require.Equal(t, []btcutil.Amount{900}, req.Held)
		require.True(t, req.CreatedAt.Equal(created))
		return nil
	})
	require.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	db, _ := openTestDB(t)

	err := db.View(func(tx ledger.ReadTx) error {
		_, err := tx.Account("nobody")
		require.True(t,
			ledger.IsError(err, ledger.ErrAccountNotFound))
		_, err = tx.Deposit(testOutPoint())
		require.True(t,
			ledger.IsError(err, ledger.ErrDepositNotFound))
		_, err = tx.Request("nothing")
		require.True(t,
			ledger.IsError(err, ledger.ErrRequestNotFound))
		return nil
	})
	require.NoError(t, err)
}

// TestVersionCheck verifies puts reject stale versions and advance the
// passed record in place.
func TestVersionCheck(t *testing.T) {
	db, _ := openTestDB(t)

	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct := ledger.NewAccount("alice")
		require.NoError(t, tx.PutAccount(acct))
		require.Equal(t, uint64(1), acct.Version)
		require.NoError(t, tx.PutAccount(acct))
		require.Equal(t, uint64(2), acct.Version)

		stale := ledger.NewAccount("alice")
		err := tx.PutAccount(stale)
		require.True(t, ledger.IsError(err, ledger.ErrConflict))
		return nil
	})
	require.NoError(t, err)
}

// TestRollback verifies an update returning an error leaves the store
// untouched.
func TestRollback(t *testing.T) {
	db, _ := openTestDB(t)
	op := testOutPoint()

	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount("alice")
		require.NoError(t, err)
		_, err = ledger.CreateDeposit(tx, op, 1000,
			txsizes.OutputWitness, acct)
		require.NoError(t, err)
		return ledger.Error{
			ErrorCode:   ledger.ErrDatabase,
			Description: "forced failure",
		}
	})
	require.Error(t, err)

	err = db.View(func(tx ledger.ReadTx) error {
		_, err := tx.Account("alice")
		require.True(t,
			ledger.IsError(err, ledger.ErrAccountNotFound))
		_, err = tx.Deposit(op)
		require.True(t,
			ledger.IsError(err, ledger.ErrDepositNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestDeletes(t *testing.T) {
	db, _ := openTestDB(t)
	op := testOutPoint()

	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount("alice")
		require.NoError(t, err)
		_, err = ledger.CreateDeposit(tx, op, 1000,
			txsizes.OutputWitness, acct)
		require.NoError(t, err)

		require.NoError(t, tx.DeleteDeposit(op))
		_, err = tx.Deposit(op)
		require.True(t,
			ledger.IsError(err, ledger.ErrDepositNotFound))

		// Deleting absent records is a no-op.
		require.NoError(t, tx.DeleteDeposit(op))
		require.NoError(t, tx.DeleteRequest("nothing"))
		return nil
	})
	require.NoError(t, err)
}

func TestDepositsSorted(t *testing.T) {
	db, _ := openTestDB(t)

	err := db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount("alice")
		require.NoError(t, err)
		for i, v := range []btcutil.Amount{500, 100, 300} {
			var op wire.OutPoint
			op.Hash[0] = byte(i + 1)
			_, err := ledger.CreateDeposit(tx, op, v,
				txsizes.OutputWitness, acct)
			require.NoError(t, err)
		}
		return nil
	})
	require.NoError(t, err)

	err = db.View(func(tx ledger.ReadTx) error {
		deps, err := tx.Deposits()
		require.NoError(t, err)
		require.Len(t, deps, 3)
		values := make([]btcutil.Amount, len(deps))
		for i, d := range deps {
			values[i] = d.Value
		}
		require.Equal(t, []btcutil.Amount{100, 300, 500}, values)
		return nil
	})
	require.NoError(t, err)
}
