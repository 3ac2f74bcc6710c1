// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sha256d implements the proof-of-work primitives shared by the
// work assembler and the nonce search loop: double-SHA-256 hashing and
// whole-number target comparison over little-endian 256-bit values.
package sha256d

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// HeaderSize is the serialized size of a block header in bytes.
	HeaderSize = 80

	// TargetSize is the serialized size of a difficulty target in bytes.
	TargetSize = 32

	// nonceOffset is the byte offset of the nonce field within a
	// serialized block header.
	nonceOffset = 76
)

// Hash computes SHA-256 applied twice in series over the input, the output
// of the first pass feeding the second.
func Hash(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// HashBelowTarget reports whether hash <= target when both are interpreted
// as little-endian 256-bit integers.  The most significant byte is at index
// 31, so the scan runs from the high index down and decides at the first
// differing byte.  Equal values count as below, matching the mining
// convention that a hash equal to the target is a valid share.
func HashBelowTarget(hash *chainhash.Hash, target *[TargetSize]byte) bool {
	for i := TargetSize - 1; i >= 0; i-- {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return true
}
