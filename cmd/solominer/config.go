// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/toole-brendan/solominer/config"
)

const (
	defaultDataDirname = "solominer-data"
	defaultLogDirname  = "logs"
	defaultLogFilename = "solominer.log"
	defaultConfigDir   = "store"
	defaultDebugLevel  = "info"
)

// options defines the command line configuration of the miner binary.
type options struct {
	DataDir     string `short:"b" long:"datadir" description:"Directory holding the configuration store and logs"`
	Pool        string `long:"pool" description:"Pool address (host:port); written to pool slot 0 and activated"`
	Wallet      string `long:"wallet" description:"Wallet address used verbatim as the worker name; written to wallet slot 0 and activated"`
	Worker      string `long:"worker" description:"Optional worker suffix appended to the wallet as wallet.suffix"`
	Proxy       string `long:"proxy" description:"Connect to the pool via SOCKS5 proxy (host:port)"`
	ProxyUser   string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass   string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	BatchNonces uint32 `long:"batchnonces" description:"Nonces searched per batch before rechecking for new work"`
	NoFileLog   bool   `long:"nofilelog" description:"Disable file logging"`
}

// loadOptions parses the command line into an options struct with the
// defaults applied.
func loadOptions() (*options, error) {
	opts := &options{
		DataDir:    defaultDataDirname,
		DebugLevel: defaultDebugLevel,
	}

	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if opts.Wallet != "" {
		if err := config.ValidateWalletAddress(opts.Wallet); err != nil {
			return nil, err
		}
	}
	if opts.Pool != "" {
		if _, _, err := config.ParsePoolAddress(opts.Pool); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// logPath returns the rotated log file location under the data directory.
func (o *options) logPath() string {
	return filepath.Join(o.DataDir, defaultLogDirname, defaultLogFilename)
}

// storePath returns the configuration store location under the data
// directory.
func (o *options) storePath() string {
	return filepath.Join(o.DataDir, defaultConfigDir)
}
