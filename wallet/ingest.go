// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/txsizes"
)

// IngestDeposits reconciles the account against the wallet node's
// unspent view of the given addresses.  Confirmed outputs the node
// flags spendable, solvable and safe are credited as deposits wholly
// owned by the account; everything else accumulates into the account's
// pending balance until a later pass.  Ingest is idempotent: outputs
// already credited are skipped, and outputs that have since been spent
// fall out of the processed set so their successors can be credited.
//
// Ingesting the holding account behaves differently: no output is
// blindly credited to it.  The pass settles the change of broadcast
// withdrawals instead, matching unspents against completed requests by
// transaction id, see settleChange.  Unconfirmed change counts toward
// the holding account's pending balance until it settles.
func (w *Wallet) IngestDeposits(account ledger.AccountID,
	addrs []string) error {

	if account == "" {
		return errorf(ErrInvalidIdentifier, "empty account id")
	}
	unspents, err := w.chain.ListUnspent(addrs)
	if err != nil {
		return convertErr(err)
	}

	err = w.db.Update(func(tx ledger.ReadWriteTx) error {
		acct, err := tx.FetchOrCreateAccount(account)
		if err != nil {
			return err
		}
		if account == w.holding {
			if err := w.settleChange(tx, acct, unspents); err != nil {
				return err
			}
			var pending btcutil.Amount
			for i := range unspents {
				u := &unspents[i]
				if w.eligible(u) {
					continue
				}
				req, err := tx.Request(u.TxID)
				if ledger.IsError(err,
					ledger.ErrRequestNotFound) {

					continue
				}
				if err != nil {
					return err
				}
				if req.Completed {
					pending += u.Amount
				}
			}
			acct.PendingBalance = pending
			return tx.PutAccount(acct)
		}

		processed := make(map[string]struct{})
		var pending btcutil.Amount
		for i := range unspents {
			u := &unspents[i]
			if !w.eligible(u) {
				pending += u.Amount
				continue
			}
			op, err := u.OutPoint()
			if err != nil {
				return err
			}
			key := op.String()
			if _, ok := acct.ProcessedOutputs[key]; ok {
				processed[key] = struct{}{}
				continue
			}
			_, err = tx.Deposit(op)
			if err == nil {
				// Credited through another path, e.g. change
				// settlement.
				processed[key] = struct{}{}
				continue
			}
			if !ledger.IsError(err, ledger.ErrDepositNotFound) {
				return err
			}
			typ, ok := txsizes.OutputTypeFromDescriptor(u.Descriptor)
			if !ok {
				log.Warnf("Skipping output %v with unsupported "+
					"descriptor %q", key, u.Descriptor)
				continue
			}
			_, err = ledger.CreateDeposit(tx, op, u.Amount, typ,
				acct)
			if err != nil {
				return err
			}
			processed[key] = struct{}{}
			log.Infof("Credited %v deposit %v (%v) to account %v",
				typ, key, u.Amount, account)
		}
		acct.ProcessedOutputs = processed
		acct.PendingBalance = pending
		return tx.PutAccount(acct)
	})
	return convertErr(err)
}

// eligible reports whether the node's view of the output allows
// crediting it.
func (w *Wallet) eligible(u *chain.Unspent) bool {
	return u.Confirmations >= w.minConf && u.Spendable && u.Solvable &&
		u.Safe
}

// settleChange finishes completed withdraw requests whose change has
// confirmed back to the holding account.  The change output becomes a
// deposit owned by the holding account, each residual owner's leftover
// share of the consumed inputs moves onto it, and the consumed inputs
// and the request itself are deleted.
//
// A request's change output pays txid:vout under the wallet node's
// change label, so the unspents listed for the holding account are
// matched against pending requests by transaction id.
func (w *Wallet) settleChange(tx ledger.ReadWriteTx,
	holding *ledger.Account, unspents []chain.Unspent) error {

	for i := range unspents {
		u := &unspents[i]
		if !w.eligible(u) {
			continue
		}
		req, err := tx.Request(u.TxID)
		if ledger.IsError(err, ledger.ErrRequestNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !req.Completed {
			continue
		}
		op, err := u.OutPoint()
		if err != nil {
			return err
		}
		_, err = tx.Deposit(op)
		if err == nil {
			continue
		}
		if !ledger.IsError(err, ledger.ErrDepositNotFound) {
			return err
		}
		typ, ok := txsizes.OutputTypeFromDescriptor(u.Descriptor)
		if !ok {
			log.Warnf("Change %v of request %v has unsupported "+
				"descriptor %q, retrying next pass", op, req.ID,
				u.Descriptor)
			continue
		}
		changeDep, err := ledger.CreateDeposit(tx, op, u.Amount, typ,
			holding)
		if err != nil {
			return err
		}

		accounts := map[ledger.AccountID]*ledger.Account{
			holding.ID: holding,
		}
		for _, in := range req.Inputs {
			dep, err := tx.Deposit(in)
			if err != nil {
				return err
			}
			for _, owner := range sortedShareholders(dep) {
				if owner == holding.ID {
					continue
				}
				ownerAcct := accounts[owner]
				if ownerAcct == nil {
					ownerAcct, err = tx.Account(owner)
					if err != nil {
						return err
					}
					accounts[owner] = ownerAcct
				}
				err = ledger.MoveShare(tx, changeDep, holding,
					ownerAcct, dep.Shares[owner])
				if err != nil {
					return err
				}
			}
			if err := ledger.RemoveDeposit(tx, dep, accounts); err != nil {
				return err
			}
		}
		if err := tx.DeleteRequest(req.ID); err != nil {
			return err
		}
		log.Infof("Settled %v change of request %v onto deposit %v",
			u.Amount, req.ID, op)
	}
	return nil
}

// sortedShareholders returns the deposit's shareholder ids in a stable
// order.
func sortedShareholders(dep *ledger.Deposit) []ledger.AccountID {
	ids := make([]ledger.AccountID, 0, len(dep.Shares))
	for id := range dep.Shares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
