// Copyright (c) 2024-2025 The poolwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/poolwallet/poolwallet/chain"
	"github.com/poolwallet/poolwallet/wallet"
)

// logWriter implements an io.Writer that outputs to both standard
// output and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it will write to it.  The log rotator
// must be initialized before use.
var (
	backendLog = btclog.NewBackend(logWriter{})
	logRotator *rotator.Rotator

	log       = backendLog.Logger("PWLD")
	walletLog = backendLog.Logger("WLLT")
	chainLog  = backendLog.Logger("CHNS")
)

func init() {
	wallet.UseLogger(walletLog)
	chain.UseLogger(chainLog)
}

// subsystemLoggers maps each subsystem identifier to its associated
// logger.
var subsystemLoggers = map[string]btclog.Logger{
	"PWLD": log,
	"WLLT": walletLog,
	"CHNS": chainLog,
}

// initLogRotator initializes the logging rotater to write logs to
// logFile and create roll files in the same directory.  It must be
// called before the package-global log rotater variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// setLogLevels sets the log level for all subsystem loggers to the
// passed level.  Invalid levels default to info.
func setLogLevels(logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		level = btclog.LevelInfo
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// validLogLevel reports whether logLevel names a supported level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}
