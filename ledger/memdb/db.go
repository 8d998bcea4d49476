// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package memdb provides a purely in-memory ledger.DB.  It is the store
// used by the test suites and by deployments that accept losing the
// ledger on restart; it implements the same transactional and optimistic
// versioning contract as the persistent stores.
package memdb

import (
	"sync"

	"github.com/btcsuite/btcd/wire"

	"github.com/poolwallet/poolwallet/ledger"
)

// DB is an in-memory ledger.DB.  All records handed out are private
// copies, so nothing escapes a transaction by reference.
type DB struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]*ledger.Account
	deposits map[wire.OutPoint]*ledger.Deposit
	requests map[string]*ledger.WithdrawRequest
}

// New returns an empty in-memory store.
func New() *DB {
	return &DB{
		accounts: make(map[ledger.AccountID]*ledger.Account),
		deposits: make(map[wire.OutPoint]*ledger.Deposit),
		requests: make(map[string]*ledger.WithdrawRequest),
	}
}

// View implements ledger.DB.
func (db *DB) View(f func(tx ledger.ReadTx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return f(&memTx{db: db})
}

// Update implements ledger.DB.  Writes stage in the transaction and
// apply to the base maps only when f returns nil.
func (db *DB) Update(f func(tx ledger.ReadWriteTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &memTx{
		db:       db,
		writable: true,
		accounts: make(map[ledger.AccountID]*ledger.Account),
		deposits: make(map[wire.OutPoint]*ledger.Deposit),
		requests: make(map[string]*ledger.WithdrawRequest),
	}
	if err := f(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Close implements ledger.DB.
func (db *DB) Close() error {
	return nil
}

// memTx is a transaction over the base maps.  Staged writes shadow the
// base; a nil staged entry marks a deletion.
type memTx struct {
	db       *DB
	writable bool

	accounts map[ledger.AccountID]*ledger.Account
	deposits map[wire.OutPoint]*ledger.Deposit
	requests map[string]*ledger.WithdrawRequest
}

func (tx *memTx) commit() {
	for id, a := range tx.accounts {
		tx.db.accounts[id] = a
	}
	for op, d := range tx.deposits {
		if d == nil {
			delete(tx.db.deposits, op)
			continue
		}
		tx.db.deposits[op] = d
	}
	for id, r := range tx.requests {
		if r == nil {
			delete(tx.db.requests, id)
			continue
		}
		tx.db.requests[id] = r
	}
}

// Account implements ledger.ReadTx.
func (tx *memTx) Account(id ledger.AccountID) (*ledger.Account, error) {
	if tx.writable {
		if a, ok := tx.accounts[id]; ok {
			return copyAccount(a), nil
		}
	}
	a, ok := tx.db.accounts[id]
	if !ok {
		return nil, notFound(ledger.ErrAccountNotFound,
			"account %v not found", id)
	}
	return copyAccount(a), nil
}

// Deposit implements ledger.ReadTx.
func (tx *memTx) Deposit(op wire.OutPoint) (*ledger.Deposit, error) {
	if tx.writable {
		if d, ok := tx.deposits[op]; ok {
			if d == nil {
				return nil, notFound(ledger.ErrDepositNotFound,
					"deposit %v not found", op)
			}
			return copyDeposit(d), nil
		}
	}
	d, ok := tx.db.deposits[op]
	if !ok {
		return nil, notFound(ledger.ErrDepositNotFound,
			"deposit %v not found", op)
	}
	return copyDeposit(d), nil
}

// Deposits implements ledger.ReadTx.
func (tx *memTx) Deposits() ([]*ledger.Deposit, error) {
	out := make([]*ledger.Deposit, 0, len(tx.db.deposits))
	for op, d := range tx.db.deposits {
		if tx.writable {
			if staged, ok := tx.deposits[op]; ok {
				if staged != nil {
					out = append(out, copyDeposit(staged))
				}
				continue
			}
		}
		out = append(out, copyDeposit(d))
	}
	if tx.writable {
		for op, d := range tx.deposits {
			if d == nil {
				continue
			}
			if _, ok := tx.db.deposits[op]; !ok {
				out = append(out, copyDeposit(d))
			}
		}
	}
	ledger.SortDepositsByValue(out)
	return out, nil
}

// Request implements ledger.ReadTx.
func (tx *memTx) Request(id string) (*ledger.WithdrawRequest, error) {
	if tx.writable {
		if r, ok := tx.requests[id]; ok {
			if r == nil {
				return nil, notFound(ledger.ErrRequestNotFound,
					"request %v not found", id)
			}
			return copyRequest(r), nil
		}
	}
	r, ok := tx.db.requests[id]
	if !ok {
		return nil, notFound(ledger.ErrRequestNotFound,
			"request %v not found", id)
	}
	return copyRequest(r), nil
}

// Requests implements ledger.ReadTx.
func (tx *memTx) Requests() ([]*ledger.WithdrawRequest, error) {
	out := make([]*ledger.WithdrawRequest, 0, len(tx.db.requests))
	for id, r := range tx.db.requests {
		if tx.writable {
			if staged, ok := tx.requests[id]; ok {
				if staged != nil {
					out = append(out, copyRequest(staged))
				}
				continue
			}
		}
		out = append(out, copyRequest(r))
	}
	if tx.writable {
		for id, r := range tx.requests {
			if r == nil {
				continue
			}
			if _, ok := tx.db.requests[id]; !ok {
				out = append(out, copyRequest(r))
			}
		}
	}
	return out, nil
}

// FetchOrCreateAccount implements ledger.ReadWriteTx.
func (tx *memTx) FetchOrCreateAccount(id ledger.AccountID) (*ledger.Account,
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
func (tx *memTx) PutAccount(a *ledger.Account) error {
	cur := tx.storedAccountVersion(a.ID)
	if a.Version != cur {
		return conflict("account", string(a.ID), a.Version, cur)
	}
	a.Version++
	tx.accounts[a.ID] = copyAccount(a)
	return nil
}

// PutDeposit implements ledger.ReadWriteTx.
func (tx *memTx) PutDeposit(d *ledger.Deposit) error {
	cur := tx.storedDepositVersion(d.OutPoint)
	if d.Version != cur {
		return conflict("deposit", d.OutPoint.String(), d.Version, cur)
	}
	d.Version++
	tx.deposits[d.OutPoint] = copyDeposit(d)
	return nil
}

// DeleteDeposit implements ledger.ReadWriteTx.
func (tx *memTx) DeleteDeposit(op wire.OutPoint) error {
	tx.deposits[op] = nil
	return nil
}

// PutRequest implements ledger.ReadWriteTx.
func (tx *memTx) PutRequest(r *ledger.WithdrawRequest) error {
	cur := tx.storedRequestVersion(r.ID)
	if r.Version != cur {
		return conflict("request", r.ID, r.Version, cur)
	}
	r.Version++
	tx.requests[r.ID] = copyRequest(r)
	return nil
}

// DeleteRequest implements ledger.ReadWriteTx.
func (tx *memTx) DeleteRequest(id string) error {
	tx.requests[id] = nil
	return nil
}

func (tx *memTx) storedAccountVersion(id ledger.AccountID) uint64 {
	if a, ok := tx.accounts[id]; ok {
		if a == nil {
			return 0
		}
		return a.Version
	}
	if a, ok := tx.db.accounts[id]; ok {
		return a.Version
	}
	return 0
}

func (tx *memTx) storedDepositVersion(op wire.OutPoint) uint64 {
	if d, ok := tx.deposits[op]; ok {
		if d == nil {
			return 0
		}
		return d.Version
	}
	if d, ok := tx.db.deposits[op]; ok {
		return d.Version
	}
	return 0
}

func (tx *memTx) storedRequestVersion(id string) uint64 {
	if r, ok := tx.requests[id]; ok {
		if r == nil {
			return 0
		}
		return r.Version
	}
	if r, ok := tx.db.requests[id]; ok {
		return r.Version
	}
	return 0
}
