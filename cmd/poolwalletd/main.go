// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/ledger/boltdb"
	"github.com/poolwallet/poolwallet/wallet"
)

const appName = "poolwalletd"

// version returns the application version as a properly formed string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

const (
	appMajor = 0
	appMinor = 1
	appPatch = 0
)

func main() {
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since
// deferred functions are not run when os.Exit() is called.
func walletMain() error {
	cfg, watches, err := loadConfig()
	if err != nil {
		return err
	}

	initLogRotator(filepath.Join(cfg.AppDataDir, defaultLogFilename))
	defer logRotator.Close()
	if !validLogLevel(cfg.DebugLevel) {
		fmt.Fprintf(os.Stderr, "invalid debuglevel %q, using %q\n",
			cfg.DebugLevel, defaultLogLevel)
		cfg.DebugLevel = defaultLogLevel
	}
	setLogLevels(cfg.DebugLevel)

	log.Infof("Version %s (Go version %s %s/%s)", version(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)

	params := &chaincfg.MainNetParams
	switch {
	case cfg.TestNet3:
		params = &chaincfg.TestNet3Params
	case cfg.SimNet:
		params = &chaincfg.SimNetParams
	case cfg.RegressionTest:
		params = &chaincfg.RegressionNetParams
	}

	dbPath := filepath.Join(cfg.AppDataDir, defaultDBFilename)
	db, err := boltdb.Open(dbPath)
	if err != nil {
		log.Errorf("Unable to open ledger database at %v: %v", dbPath,
			err)
		return err
	}
	defer db.Close()
	log.Infof("Opened ledger database at %v", dbPath)

	chainClient, err := chain.NewBitcoindClient(params, cfg.RPCConnect,
		cfg.RPCUser, cfg.RPCPass)
	if err != nil {
		log.Errorf("Unable to create wallet node client: %v", err)
		return err
	}
	defer chainClient.Shutdown()

	w, err := wallet.New(wallet.Config{
		DB:             db,
		Chain:          chainClient,
		HoldingAccount: ledger.AccountID(cfg.HoldingAccount),
		ConfTarget:     cfg.ConfTarget,
		MinConf:        cfg.MinConf,
		RequestExpiry:  cfg.RequestExpiry,
	})
	if err != nil {
		log.Errorf("Unable to create wallet: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestLoop(ctx, w, cfg.IngestInterval, watches)
	})
	g.Go(func() error {
		return sweepLoop(ctx, w, cfg.SweepInterval)
	})

	log.Infof("Watching %d accounts against wallet node %v on %v",
		len(watches), cfg.RPCConnect, params.Name)
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Errorf("Daemon exiting: %v", err)
		return err
	}
	log.Info("Shutdown complete")
	return nil
}

// ingestLoop periodically reconciles every watched account, and the
// holding account, against the wallet node's unspent view.  Node
// unavailability is logged and retried on the next tick.
func ingestLoop(ctx context.Context, w *wallet.Wallet,
	interval time.Duration, watches []watchEntry) error {

	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			for _, entry := range watches {
				err := w.IngestDeposits(entry.account,
					entry.addrs)
				if err != nil {
					log.Warnf("Ingest for account %v "+
						"failed: %v", entry.account, err)
				}
			}
			// The holding account pass only settles change of
			// broadcast withdrawals, matched by transaction id,
			// so it lists the node's whole unspent view.
			err := w.IngestDeposits(w.HoldingAccount(), nil)
			if err != nil {
				log.Warnf("Change settlement pass failed: %v",
					err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sweepLoop periodically cancels withdraw requests that have aged past
// the configured expiry.
func sweepLoop(ctx context.Context, w *wallet.Wallet,
	interval time.Duration) error {

	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			expired, err := w.ExpireSweep()
			if err != nil {
				log.Warnf("Expiry sweep failed: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Infof("Expired %d withdraw %s", len(expired),
					pickNoun(len(expired), "request", "requests"))
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pickNoun returns the singular or plural form of a noun depending on
// the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
