// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package work turns pool-provided Stratum jobs into ready-to-mine block
// header templates and maps pool difficulty onto 256-bit targets.
package work

import (
	"github.com/toole-brendan/solominer/mining/sha256d"
)

// MaxMerkleBranches is the maximum number of merkle branch hashes accepted
// in a single job.
const MaxMerkleBranches = 16

// Job is a single piece of work received from the pool via mining.notify.
// All byte fields are already decoded from their wire hex form.
type Job struct {
	// ID is the pool-chosen job identifier, echoed back on submission.
	ID string

	// PrevHash is the prior block hash, copied verbatim into header
	// bytes 4..36.  The pool has already arranged the byte order it
	// wants to see in the header.
	PrevHash [32]byte

	// CoinbasePrefix and CoinbaseSuffix are the two halves of the
	// coinbase transaction surrounding extranonce1 and extranonce2.
	CoinbasePrefix []byte
	CoinbaseSuffix []byte

	// MerkleBranch holds the ordered sibling hashes folded with the
	// coinbase hash to produce the merkle root.
	MerkleBranch [][32]byte

	Version uint32
	NBits   uint32
	NTime   uint32

	// Clean indicates any in-flight search against an older job must be
	// abandoned.
	Clean bool
}

// Template is an immutable, ready-to-mine unit of work.  Once published it
// is never mutated; replacement is a fresh Template with a higher
// Generation.
type Template struct {
	// Header is the 80-byte block header with the nonce field
	// (bytes 76..80) zeroed.
	Header [sha256d.HeaderSize]byte

	// Target is the share target in little-endian byte order.
	Target [sha256d.TargetSize]byte

	// JobID and NTime are the echo values required on submission of a
	// share mined against this template.
	JobID string
	NTime uint32

	// Extranonce2 holds the raw bytes spliced into the coinbase for
	// this template, at the pool-configured width.
	Extranonce2 []byte

	// Generation increases monotonically with every assembled template.
	Generation uint64
}
