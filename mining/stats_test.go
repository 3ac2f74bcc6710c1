// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestHashrateMonitor verifies seeding and smoothing of the hashrate
// estimate.
func TestHashrateMonitor(t *testing.T) {
	var monitor hashrateMonitor
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	monitor.reset(start)

	assert.Zero(t, monitor.rate)
	assert.Zero(t, monitor.totalHashes)

	// The first window seeds the average directly.
	monitor.update(1000, start.Add(time.Second))
	assert.InDelta(t, 1000.0, monitor.rate, 0.01)
	assert.Equal(t, uint64(1000), monitor.totalHashes)

	// Later windows are smoothed: 0.25*500 + 0.75*1000.
	monitor.update(500, start.Add(2*time.Second))
	assert.InDelta(t, 875.0, monitor.rate, 0.01)
	assert.Equal(t, uint64(1500), monitor.totalHashes)

	// A zero-length window accumulates hashes without skewing the rate.
	monitor.update(100, start.Add(2*time.Second))
	assert.InDelta(t, 875.0, monitor.rate, 0.01)
	assert.Equal(t, uint64(1600), monitor.totalHashes)

	monitor.reset(start)
	assert.Zero(t, monitor.rate)
	assert.Zero(t, monitor.totalHashes)
	assert.False(t, monitor.primed)
}
