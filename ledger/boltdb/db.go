// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package boltdb provides a bbolt-backed ledger.DB.  One bucket per
// entity, JSON encoded records, with the optimistic version check done
// against the stored record on every put.  Atomicity and rollback come
// directly from the underlying bolt transaction.
package boltdb

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	bolt "go.etcd.io/bbolt"

	"github.com/poolwallet/poolwallet/ledger"
)

var (
	accountBucket = []byte("accounts")
	depositBucket = []byte("deposits")
	requestBucket = []byte("requests")
)

// DB is a bbolt-backed ledger.DB.
type DB struct {
	bolt *bolt.DB
}

// Open opens or creates the ledger database at the given path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dbError("opening %s", path, err)
	}
	err = bdb.Update(func(btx *bolt.Tx) error {
		for _, name := range [][]byte{
			accountBucket, depositBucket, requestBucket,
		} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, dbError("initializing %s", path, err)
	}
	return &DB{bolt: bdb}, nil
}

// View implements ledger.DB.
func (db *DB) View(f func(tx ledger.ReadTx) error) error {
	return db.bolt.View(func(btx *bolt.Tx) error {
		return f(&boltTx{btx: btx})
	})
}

// Update implements ledger.DB.
func (db *DB) Update(f func(tx ledger.ReadWriteTx) error) error {
	return db.bolt.Update(func(btx *bolt.Tx) error {
		return f(&boltTx{btx: btx})
	})
}

// Close implements ledger.DB.
func (db *DB) Close() error {
	return db.bolt.Close()
}

type boltTx struct {
	btx *bolt.Tx
}

// Account implements ledger.ReadTx.
func (tx *boltTx) Account(id ledger.AccountID) (*ledger.Account, error) {
	raw := tx.btx.Bucket(accountBucket).Get([]byte(id))
	if raw == nil {
		return nil, ledger.Error{
			ErrorCode:   ledger.ErrAccountNotFound,
			Description: fmt.Sprintf("account %v not found", id),
		}
	}
	a := new(ledger.Account)
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, dbError("decoding account %s", string(id), err)
	}
	return a, nil
}

// Deposit implements ledger.ReadTx.
func (tx *boltTx) Deposit(op wire.OutPoint) (*ledger.Deposit, error) {
	raw := tx.btx.Bucket(depositBucket).Get([]byte(op.String()))
	if raw == nil {
		return nil, ledger.Error{
			ErrorCode:   ledger.ErrDepositNotFound,
			Description: fmt.Sprintf("deposit %v not found", op),
		}
	}
	d := new(ledger.Deposit)
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, dbError("decoding deposit %s", op.String(), err)
	}
	return d, nil
}

// Deposits implements ledger.ReadTx.
func (tx *boltTx) Deposits() ([]*ledger.Deposit, error) {
	var out []*ledger.Deposit
	err := tx.btx.Bucket(depositBucket).ForEach(func(k, v []byte) error {
		d := new(ledger.Deposit)
		if err := json.Unmarshal(v, d); err != nil {
			return dbError("decoding deposit %s", string(k), err)
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ledger.SortDepositsByValue(out)
	return out, nil
}

// Request implements ledger.ReadTx.
func (tx *boltTx) Request(id string) (*ledger.WithdrawRequest, error) {
	raw := tx.btx.Bucket(requestBucket).Get([]byte(id))
	if raw == nil {
		return nil, ledger.Error{
			ErrorCode:   ledger.ErrRequestNotFound,
			Description: fmt.Sprintf("request %v not found", id),
		}
	}
	r := new(ledger.WithdrawRequest)
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, dbError("decoding request %s", id, err)
	}
	return r, nil
}

// Requests implements ledger.ReadTx.
func (tx *boltTx) Requests() ([]*ledger.WithdrawRequest, error) {
	var out []*ledger.WithdrawRequest
	err := tx.btx.Bucket(requestBucket).ForEach(func(k, v []byte) error {
		r := new(ledger.WithdrawRequest)
		if err := json.Unmarshal(v, r); err != nil {
			return dbError("decoding request %s", string(k), err)
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOrCreateAccount implements ledger.ReadWriteTx.
func (tx *boltTx) FetchOrCreateAccount(id ledger.AccountID) (*ledger.Account,
	error) {

	a, err := tx.Account(id)
	if err == nil {
		return a, nil
	}
	if !ledger.IsError(err, ledger.ErrAccountNotFound) {
		return nil, err
	}
	a = ledger.NewAccount(id)
	if err := tx.PutAccount(a); err != nil {
		return nil, err
	}
	return a, nil
}

// PutAccount implements ledger.ReadWriteTx.
func (tx *boltTx) PutAccount(a *ledger.Account) error {
	b := tx.btx.Bucket(accountBucket)
	key := []byte(a.ID)
	if err := checkVersion("account", string(a.ID), a.Version,
		b.Get(key)); err != nil {
		return err
	}
	a.Version++
	raw, err := json.Marshal(a)
	if err != nil {
		return dbError("encoding account %s", string(a.ID), err)
	}
	return b.Put(key, raw)
}

// PutDeposit implements ledger.ReadWriteTx.
func (tx *boltTx) PutDeposit(d *ledger.Deposit) error {
	b := tx.btx.Bucket(depositBucket)
	key := []byte(d.OutPoint.String())
	if err := checkVersion("deposit", d.OutPoint.String(), d.Version,
		b.Get(key)); err != nil {
		return err
	}
	d.Version++
	raw, err := json.Marshal(d)
	if err != nil {
		return dbError("encoding deposit %s", d.OutPoint.String(), err)
	}
	return b.Put(key, raw)
}

// DeleteDeposit implements ledger.ReadWriteTx.
func (tx *boltTx) DeleteDeposit(op wire.OutPoint) error {
	return tx.btx.Bucket(depositBucket).Delete([]byte(op.String()))
}

// PutRequest implements ledger.ReadWriteTx.
func (tx *boltTx) PutRequest(r *ledger.WithdrawRequest) error {
	b := tx.btx.Bucket(requestBucket)
	key := []byte(r.ID)
	if err := checkVersion("request", r.ID, r.Version,
		b.Get(key)); err != nil {
		return err
	}
	r.Version++
	raw, err := json.Marshal(r)
	if err != nil {
		return dbError("encoding request %s", r.ID, err)
	}
	return b.Put(key, raw)
}

// DeleteRequest implements ledger.ReadWriteTx.
func (tx *boltTx) DeleteRequest(id string) error {
	return tx.btx.Bucket(requestBucket).Delete([]byte(id))
}

// checkVersion compares a record's version against the stored raw
// record, decoding only the version field.
func checkVersion(kind, id string, got uint64, raw []byte) error {
	var want uint64
	if raw != nil {
		var v struct {
			Version uint64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return dbError("decoding %s %s", kind+" "+id, err)
		}
		want = v.Version
	}
	if got != want {
		return ledger.Error{
			ErrorCode: ledger.ErrConflict,
			Description: fmt.Sprintf("%s %s version %d is stale, "+
				"store has %d", kind, id, got, want),
		}
	}
	return nil
}

func dbError(format, arg string, err error) error {
	return ledger.Error{
		ErrorCode:   ledger.ErrDatabase,
		Description: fmt.Sprintf(format, arg),
		Err:         err,
	}
}
