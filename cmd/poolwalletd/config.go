// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/poolwallet/poolwallet/ledger"
	"github.com/poolwallet/poolwallet/wallet"
)

const (
	defaultConfigFilename = "poolwalletd.conf"
	defaultLogFilename    = "poolwalletd.log"
	defaultDBFilename     = "poolwallet.db"
	defaultLogLevel       = "info"

	defaultIngestInterval = 30 * time.Second
	defaultSweepInterval  = time.Minute
)

var (
	defaultAppDataDir = btcutil.AppDataDir("poolwalletd", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir,
		defaultConfigFilename)
)

// config holds the daemon's settings, parsed from the command line and
// the configuration file.  Command line options take precedence.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir  string `short:"A" long:"appdata" description:"Application data directory for the ledger database and logs"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	TestNet3       bool `long:"testnet" description:"Use the test network"`
	SimNet         bool `long:"simnet" description:"Use the simulation test network"`
	RegressionTest bool `long:"regtest" description:"Use the regression test network"`

	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the bitcoind wallet node"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Wallet node RPC username"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Wallet node RPC password"`

	HoldingAccount string        `long:"holdingaccount" description:"Identifier of the internal holding account"`
	ConfTarget     uint32        `long:"conftarget" description:"Fee estimation confirmation target in blocks"`
	MinConf        int64         `long:"minconf" description:"Confirmations required before an output is credited"`
	RequestExpiry  time.Duration `long:"requestexpiry" description:"Age after which an unbroadcast withdraw request is canceled"`

	IngestInterval time.Duration `long:"ingestinterval" description:"Interval between deposit ingest passes"`
	SweepInterval  time.Duration `long:"sweepinterval" description:"Interval between withdraw request expiry sweeps"`

	Watch []string `long:"watch" description:"Account to ingest deposits for, as account:address[,address...]; may be repeated"`
}

// watchEntry is one parsed --watch option.
type watchEntry struct {
	account ledger.AccountID
	addrs   []string
}

// cleanAndExpandPath expands environment variables and a leading ~ in
// the passed path, cleaning the result.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			if u, err := user.Current(); err == nil {
				homeDir = u.HomeDir
			}
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a configuration
// file and command line options.
func loadConfig() (*config, []watchEntry, error) {
	cfg := config{
		ConfigFile:     defaultConfigFile,
		AppDataDir:     defaultAppDataDir,
		DebugLevel:     defaultLogLevel,
		RPCConnect:     "localhost:8332",
		HoldingAccount: string(wallet.DefaultHoldingAccount),
		ConfTarget:     wallet.DefaultConfTarget,
		MinConf:        wallet.DefaultMinConf,
		RequestExpiry:  wallet.DefaultRequestExpiry,
		IngestInterval: defaultIngestInterval,
		SweepInterval:  defaultSweepInterval,
	}

	// Pre-parse the command line to check for an alternative config
	// file so the final parse can overlay it.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		// A missing config file is only an error when one was given
		// explicitly.
		if preCfg.ConfigFile != defaultConfigFile {
			return nil, nil, err
		}
	}
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	numNets := 0
	for _, b := range []bool{cfg.TestNet3, cfg.SimNet, cfg.RegressionTest} {
		if b {
			numNets++
		}
	}
	if numNets > 1 {
		err := fmt.Errorf("the testnet, simnet and regtest options " +
			"may not be used together")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg.AppDataDir = cleanAndExpandPath(cfg.AppDataDir)
	if err := os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	watches, err := parseWatches(cfg.Watch)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	return &cfg, watches, nil
}

// parseWatches validates and splits the --watch options.
func parseWatches(raw []string) ([]watchEntry, error) {
	seen := make(map[ledger.AccountID]struct{}, len(raw))
	entries := make([]watchEntry, 0, len(raw))
	for _, w := range raw {
		account, addrList, ok := strings.Cut(w, ":")
		if !ok || account == "" || addrList == "" {
			return nil, fmt.Errorf("malformed watch option %q, "+
				"want account:address[,address...]", w)
		}
		id := ledger.AccountID(account)
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicate watch option for "+
				"account %v", id)
		}
		seen[id] = struct{}{}
		entries = append(entries, watchEntry{
			account: id,
			addrs:   strings.Split(addrList, ","),
		})
	}
	return entries, nil
}
