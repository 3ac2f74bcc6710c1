// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"time"
)

// hashrateAlpha is the smoothing factor of the exponentially weighted
// moving average: each sample contributes a quarter of the new estimate.
const hashrateAlpha = 0.25

// Stats is the observable mining state for an embedding UI.
type Stats struct {
	State          State
	HashrateHPS    float64
	HashesTotal    uint64
	SharesFound    uint32
	SharesAccepted uint32
	SharesRejected uint32
	UptimeSeconds  uint32
	Difficulty     float64
	PoolConnected  bool
	ErrorMessage   string
}

// hashrateMonitor tracks total hashes and an EWMA hashes-per-second
// estimate from periodic window samples.  It is driven from the control
// context only.
type hashrateMonitor struct {
	totalHashes uint64
	rate        float64
	primed      bool
	lastUpdate  time.Time
}

// reset clears the monitor for a fresh mining session.
func (h *hashrateMonitor) reset(now time.Time) {
	h.totalHashes = 0
	h.rate = 0
	h.primed = false
	h.lastUpdate = now
}

// update folds a window of completed hashes into the estimate.  The first
// window seeds the average directly; later windows are smoothed.
func (h *hashrateMonitor) update(hashes uint64, now time.Time) {
	elapsed := now.Sub(h.lastUpdate).Seconds()
	h.lastUpdate = now
	h.totalHashes += hashes
	if elapsed <= 0 {
		return
	}

	sample := float64(hashes) / elapsed
	if !h.primed {
		h.rate = sample
		h.primed = true
		return
	}
	h.rate = hashrateAlpha*sample + (1-hashrateAlpha)*h.rate
}
