// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package work

import (
	"math/big"

	"github.com/toole-brendan/solominer/mining/sha256d"
)

// diff1Target is the difficulty-1 share target as a big-endian integer:
// 0xffff shifted into bytes 29..31 of the little-endian serialization, so
// the stored form carries 0xff at indices 29 and 30 and zero elsewhere.
var diff1Target = new(big.Int).Lsh(big.NewInt(0xffff), 232)

// bigOne is the lower clamp for computed targets.
var bigOne = big.NewInt(1)

// DifficultyToTarget maps a pool difficulty onto a 32-byte little-endian
// share target using target = floor(diff1 / difficulty), computed exactly
// with rational arithmetic.  The result is clamped to [1, diff1]: it never
// collapses to zero for huge difficulties and never exceeds the
// difficulty-1 ceiling for sub-1 difficulties.  A non-positive difficulty
// is invalid and yields the easiest possible target (all 0xff).
func DifficultyToTarget(difficulty float64) [sha256d.TargetSize]byte {
	var target [sha256d.TargetSize]byte

	if difficulty <= 0 {
		for i := range target {
			target[i] = 0xff
		}
		return target
	}

	diff := new(big.Rat).SetFloat64(difficulty)
	if diff == nil || diff.Sign() <= 0 {
		for i := range target {
			target[i] = 0xff
		}
		return target
	}

	// floor(diff1 * denom / num).
	result := new(big.Int).Mul(diff1Target, diff.Denom())
	result.Quo(result, diff.Num())

	if result.Cmp(bigOne) < 0 {
		result.Set(bigOne)
	}
	if result.Cmp(diff1Target) > 0 {
		result.Set(diff1Target)
	}

	return targetToLittleEndian(result)
}

// targetToLittleEndian serializes a target integer into the 32-byte
// little-endian form used by the hash comparison.
func targetToLittleEndian(t *big.Int) [sha256d.TargetSize]byte {
	var out [sha256d.TargetSize]byte
	raw := t.Bytes() // big-endian, minimal length
	for i, b := range raw {
		out[len(raw)-1-i] = b
	}
	return out
}
