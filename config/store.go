// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config holds the miner's persistent configuration: a small
// key-value store of wallet and pool slots plus a handful of scalar
// settings, and the pool address parsing shared with the command line.
package config

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	// SlotCount is the number of wallet slots and pool slots.
	SlotCount = 4

	// DefaultWorkerName is used when no worker name has been stored.
	DefaultWorkerName = "solo"

	// MaxWalletAddressLen bounds a stored wallet address.
	MaxWalletAddressLen = 62
)

// Store is the persistent configuration blob, addressed by string keys and
// backed by leveldb.  The key layout mirrors the slot records the
// configuration screens write:
//
//	wallet<i>_act, wallet<i>_cfg, wallet<i>_addr
//	pool<i>_act,   pool<i>_cfg,   pool<i>_addr
//	worker_name, theme
type Store struct {
	db *leveldb.DB
}

// Slot is one wallet or pool record.
type Slot struct {
	Index      int
	Address    string
	Configured bool
	Active     bool
}

// OpenStore opens (creating if necessary) the configuration store at path.
func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// getString reads a string value, returning fallback when the key is
// absent.
func (s *Store) getString(key, fallback string) (string, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return string(value), nil
}

// getBool reads a boolean value, returning false when the key is absent.
func (s *Store) getBool(key string) (bool, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return len(value) == 1 && value[0] == 1, nil
}

// putString stores a string value.
func (s *Store) putString(key, value string) error {
	if err := s.db.Put([]byte(key), []byte(value), nil); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// putBool stores a boolean value.
func (s *Store) putBool(key string, value bool) error {
	b := []byte{0}
	if value {
		b[0] = 1
	}
	if err := s.db.Put([]byte(key), b, nil); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// slot reads one slot record of the given kind ("wallet" or "pool").
func (s *Store) slot(kind string, index int) (Slot, error) {
	slot := Slot{Index: index}
	var err error
	if slot.Address, err = s.getString(slotKey(kind, index, "addr"), ""); err != nil {
		return slot, err
	}
	if slot.Configured, err = s.getBool(slotKey(kind, index, "cfg")); err != nil {
		return slot, err
	}
	if slot.Active, err = s.getBool(slotKey(kind, index, "act")); err != nil {
		return slot, err
	}
	return slot, nil
}

// slots reads all slot records of the given kind.
func (s *Store) slots(kind string) ([]Slot, error) {
	out := make([]Slot, 0, SlotCount)
	for i := 0; i < SlotCount; i++ {
		slot, err := s.slot(kind, i)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, nil
}

// setSlot writes a slot's address and marks it configured.
func (s *Store) setSlot(kind string, index int, address string) error {
	if index < 0 || index >= SlotCount {
		return fmt.Errorf("%s slot %d out of range", kind, index)
	}
	if err := s.putString(slotKey(kind, index, "addr"), address); err != nil {
		return err
	}
	return s.putBool(slotKey(kind, index, "cfg"), address != "")
}

// activateSlot marks one slot active and clears the flag on its siblings.
func (s *Store) activateSlot(kind string, index int) error {
	if index < 0 || index >= SlotCount {
		return fmt.Errorf("%s slot %d out of range", kind, index)
	}
	for i := 0; i < SlotCount; i++ {
		if err := s.putBool(slotKey(kind, i, "act"), i == index); err != nil {
			return err
		}
	}
	return nil
}

// activeSlot returns the first slot that is both active and configured.
func (s *Store) activeSlot(kind string) (Slot, bool, error) {
	for i := 0; i < SlotCount; i++ {
		slot, err := s.slot(kind, i)
		if err != nil {
			return Slot{}, false, err
		}
		if slot.Active && slot.Configured && slot.Address != "" {
			return slot, true, nil
		}
	}
	return Slot{}, false, nil
}

// WalletSlots returns all wallet slot records.
func (s *Store) WalletSlots() ([]Slot, error) {
	return s.slots("wallet")
}

// PoolSlots returns all pool slot records.
func (s *Store) PoolSlots() ([]Slot, error) {
	return s.slots("pool")
}

// SetWalletSlot stores a wallet address in the given slot.
func (s *Store) SetWalletSlot(index int, address string) error {
	if len(address) > MaxWalletAddressLen {
		return fmt.Errorf("wallet address exceeds %d characters",
			MaxWalletAddressLen)
	}
	return s.setSlot("wallet", index, address)
}

// SetPoolSlot stores a pool host:port in the given slot.  The address must
// parse.
func (s *Store) SetPoolSlot(index int, address string) error {
	if _, _, err := ParsePoolAddress(address); err != nil {
		return err
	}
	return s.setSlot("pool", index, address)
}

// ActivateWallet marks the given wallet slot active.
func (s *Store) ActivateWallet(index int) error {
	return s.activateSlot("wallet", index)
}

// ActivatePool marks the given pool slot active.
func (s *Store) ActivatePool(index int) error {
	return s.activateSlot("pool", index)
}

// ActiveWallet returns the active wallet address, if one is configured.
func (s *Store) ActiveWallet() (string, bool, error) {
	slot, ok, err := s.activeSlot("wallet")
	return slot.Address, ok, err
}

// ActivePool returns the active pool address, if one is configured.
func (s *Store) ActivePool() (string, bool, error) {
	slot, ok, err := s.activeSlot("pool")
	return slot.Address, ok, err
}

// WorkerName returns the stored worker name suffix.
func (s *Store) WorkerName() (string, error) {
	return s.getString("worker_name", DefaultWorkerName)
}

// SetWorkerName stores the worker name suffix.
func (s *Store) SetWorkerName(name string) error {
	return s.putString("worker_name", name)
}

// Theme returns the stored UI theme index.
func (s *Store) Theme() (int, error) {
	value, err := s.getString("theme", "0")
	if err != nil {
		return 0, err
	}
	var theme int
	if _, err := fmt.Sscanf(value, "%d", &theme); err != nil {
		return 0, nil
	}
	return theme, nil
}

// SetTheme stores the UI theme index.
func (s *Store) SetTheme(theme int) error {
	return s.putString("theme", fmt.Sprintf("%d", theme))
}

// slotKey composes a slot record key.
func slotKey(kind string, index int, field string) string {
	return fmt.Sprintf("%s%d_%s", kind, index, field)
}
