// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sha256d

import (
	"encoding/binary"
)

// Result describes the outcome of a nonce range search.  When Found is
// true, Nonce holds the winning nonce and HashesDone the number of hashes
// computed up to and including the hit.  When Found is false the range was
// exhausted and HashesDone equals the requested count.
type Result struct {
	Found      bool
	Nonce      uint32
	HashesDone uint32
}

// Search iterates count nonces starting at startNonce, writing each
// candidate into the header's trailing four bytes in little-endian order,
// double-hashing the full 80 bytes and comparing against target.  It
// returns on the first hash at or below the target.
//
// Nonce arithmetic is modular over 32 bits, so a range that crosses
// 0xffffffff continues from zero.  Bytes 0..76 of the header are never
// mutated.  The loop performs no allocation and never blocks; callers
// bound count to keep batches short enough for timely work switches.
func Search(header *[HeaderSize]byte, startNonce, count uint32, target *[TargetSize]byte) Result {
	for i := uint32(0); i < count; i++ {
		nonce := startNonce + i
		binary.LittleEndian.PutUint32(header[nonceOffset:], nonce)
		hash := Hash(header[:])
		if HashBelowTarget(&hash, target) {
			return Result{Found: true, Nonce: nonce, HashesDone: i + 1}
		}
	}
	return Result{HashesDone: count}
}
