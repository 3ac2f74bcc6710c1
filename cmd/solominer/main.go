// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// solominer is a long-lived Stratum v1 solo miner: it subscribes to a
// pool, searches the nonce space of each job over double-SHA-256 and
// submits shares that fall below the pool target.
package main

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/go-socks/socks"

	"github.com/toole-brendan/solominer/config"
	"github.com/toole-brendan/solominer/mining"
	"github.com/toole-brendan/solominer/stratum"
)

const (
	// tickInterval is the host-loop polling period driving the
	// coordinator.
	tickInterval = 100 * time.Millisecond

	// statusInterval is how often a status line is logged while mining.
	statusInterval = 30 * time.Second
)

func main() {
	if err := solominerMain(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// solominerMain wires the configuration store, the session dialer and the
// coordinator together and runs the host loop until interrupted.
func solominerMain() error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	if !opts.NoFileLog {
		if err := initLogRotator(opts.logPath()); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	if err := setLogLevels(opts.DebugLevel); err != nil {
		mainLog.Errorf("%v", err)
		return err
	}

	store, err := config.OpenStore(opts.storePath())
	if err != nil {
		mainLog.Errorf("Unable to open configuration store: %v", err)
		return err
	}
	defer store.Close()

	if err := applyOverrides(store, opts); err != nil {
		mainLog.Errorf("Unable to apply configuration: %v", err)
		return err
	}

	manager := mining.NewManager(mining.Config{
		FetchCredentials: credentialSource(store),
		Session: stratum.Config{
			Dial: dialFunc(opts),
		},
		BatchNonces: opts.BatchNonces,
	})

	if !manager.IsConfigured() {
		mainLog.Errorf("No active wallet and pool configured; supply " +
			"--wallet and --pool once to populate the store")
		return errors.New("miner not configured")
	}

	if err := manager.Start(); err != nil {
		mainLog.Errorf("Unable to start mining: %v", err)
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-interrupt:
			mainLog.Infof("Received shutdown signal")
			manager.Stop()
			return nil

		case <-tick.C:
			manager.Tick()
			if manager.State() == mining.StateError {
				message := manager.ErrorMessage()
				mainLog.Errorf("Mining halted: %s", message)
				manager.Stop()
				return errors.New(message)
			}

		case <-status.C:
			logStatus(manager.Stats())
		}
	}
}

// dialFunc selects the pool dialer: plain TCP, or SOCKS5 when a proxy is
// configured.
func dialFunc(opts *options) stratum.DialFunc {
	if opts.Proxy == "" {
		return net.DialTimeout
	}
	proxy := &socks.Proxy{
		Addr:     opts.Proxy,
		Username: opts.ProxyUser,
		Password: opts.ProxyPass,
	}
	return proxy.DialTimeout
}

// applyOverrides writes any command line wallet/pool values into slot 0 of
// the store and activates them, and stores any worker suffix as the worker
// name, so later runs need no flags.
func applyOverrides(store *config.Store, opts *options) error {
	if opts.Wallet != "" {
		if err := store.SetWalletSlot(0, opts.Wallet); err != nil {
			return err
		}
		if err := store.ActivateWallet(0); err != nil {
			return err
		}
	}
	if opts.Pool != "" {
		if err := store.SetPoolSlot(0, opts.Pool); err != nil {
			return err
		}
		if err := store.ActivatePool(0); err != nil {
			return err
		}
	}
	if opts.Worker != "" {
		if err := store.SetWorkerName(opts.Worker); err != nil {
			return err
		}
	}
	return nil
}

// credentialSource adapts the configuration store to the coordinator's
// credential lookup.
func credentialSource(store *config.Store) func() (*mining.Credentials, error) {
	return func() (*mining.Credentials, error) {
		wallet, ok, err := store.ActiveWallet()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("no active wallet configured")
		}

		pool, ok, err := store.ActivePool()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("no active pool configured")
		}

		host, port, err := config.ParsePoolAddress(pool)
		if err != nil {
			return nil, err
		}

		worker, err := store.WorkerName()
		if err != nil {
			return nil, err
		}

		return &mining.Credentials{
			Wallet:       wallet,
			WorkerSuffix: worker,
			Host:         host,
			Port:         port,
		}, nil
	}
}

// logStatus emits a periodic one-line mining summary.
func logStatus(stats mining.Stats) {
	hashrate := stats.HashrateHPS
	unit := "H/s"
	if hashrate >= 1000 {
		hashrate /= 1000
		unit = "kH/s"
	}
	if hashrate >= 1000 {
		hashrate /= 1000
		unit = "MH/s"
	}
	mainLog.Infof("Hash rate %.2f %s, %d hashes total, shares "+
		"%d/%d/%d (found/accepted/rejected), difficulty %g",
		hashrate, unit, stats.HashesTotal, stats.SharesFound,
		stats.SharesAccepted, stats.SharesRejected, stats.Difficulty)
}
