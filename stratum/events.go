// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"github.com/toole-brendan/solominer/mining/work"
)

// Event is a state change surfaced by Poll.  The concrete types below are
// the only implementations.
type Event interface {
	isEvent()
}

// SubscribedEvent reports the outcome of a mining.subscribe exchange.  On
// success the session's extranonce parameters are populated.
type SubscribedEvent struct {
	OK               bool
	Extranonce1      []byte
	Extranonce2Width int
}

// AuthorizedEvent reports the outcome of a mining.authorize exchange.
type AuthorizedEvent struct {
	OK bool
}

// JobEvent carries a freshly parsed job from mining.notify.
type JobEvent struct {
	Job *work.Job
}

// DifficultyEvent reports a mining.set_difficulty notification.  The
// session target has already been updated when this is observed.
type DifficultyEvent struct {
	Difficulty float64
}

// SubmitResultEvent reports the pool's verdict on a submitted share.
type SubmitResultEvent struct {
	JobID    string
	Nonce    uint32
	Accepted bool
	Err      *StratumError
}

func (SubscribedEvent) isEvent()   {}
func (AuthorizedEvent) isEvent()   {}
func (JobEvent) isEvent()          {}
func (DifficultyEvent) isEvent()   {}
func (SubmitResultEvent) isEvent() {}
