// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package work

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/toole-brendan/solominer/mining/sha256d"
)

// ErrNoSession is returned when Assemble is called before the session
// extranonce parameters have been set.
var ErrNoSession = errors.New("no session extranonce parameters")

// Assembler builds mining templates from pool jobs.  It owns the
// per-session extranonce state: extranonce1 as assigned at subscribe time,
// the pool-chosen extranonce2 width, and the extranonce2 counter that
// diversifies the coinbase from one template to the next.
//
// An Assembler is driven from the control context only and needs no
// internal locking.
type Assembler struct {
	extranonce1      []byte
	extranonce2Width int
	counter          uint64
	generation       uint64
	target           [sha256d.TargetSize]byte
}

// NewAssembler returns an assembler with a difficulty-1 target and no
// session parameters.  SetSession must be called once the subscribe
// response has been observed.
func NewAssembler() *Assembler {
	return &Assembler{
		target: DifficultyToTarget(1.0),
	}
}

// SetSession installs the subscribe-time extranonce parameters and resets
// the extranonce2 counter.  It is called once per connection; the counter
// survives job changes within a session and restarts only here.
func (a *Assembler) SetSession(extranonce1 []byte, extranonce2Width int) {
	a.extranonce1 = append([]byte(nil), extranonce1...)
	a.extranonce2Width = extranonce2Width
	a.counter = 0
}

// SetDifficulty recomputes the share target from a pool difficulty.  The
// new target applies to templates assembled after the call.
func (a *Assembler) SetDifficulty(difficulty float64) {
	a.target = DifficultyToTarget(difficulty)
}

// Target returns the current share target.
func (a *Assembler) Target() [sha256d.TargetSize]byte {
	return a.target
}

// extranonce2 returns the little-endian byte form of the current counter
// value at the session's extranonce2 width.  Counter bits beyond the width
// are truncated; short counters are zero padded.
func (a *Assembler) extranonce2() []byte {
	en2 := make([]byte, a.extranonce2Width)
	for i := 0; i < a.extranonce2Width && i < 8; i++ {
		en2[i] = byte(a.counter >> (8 * i))
	}
	return en2
}

// Assemble produces an immutable Template from a job:
//
//	coinbase   = prefix || extranonce1 || extranonce2 || suffix
//	merkleRoot = fold(sha256d(coinbase), branches)
//	header     = version_le || prevhash || merkleRoot || ntime_le || nbits_le || 0
//
// The extranonce2 counter advances after every successful call, so
// assembling the same job twice yields distinct coinbases and therefore
// distinct headers.
func (a *Assembler) Assemble(job *Job) (*Template, error) {
	if a.extranonce2Width == 0 {
		return nil, ErrNoSession
	}

	en2 := a.extranonce2()

	coinbase := make([]byte, 0, len(job.CoinbasePrefix)+len(a.extranonce1)+
		len(en2)+len(job.CoinbaseSuffix))
	coinbase = append(coinbase, job.CoinbasePrefix...)
	coinbase = append(coinbase, a.extranonce1...)
	coinbase = append(coinbase, en2...)
	coinbase = append(coinbase, job.CoinbaseSuffix...)

	merkleRoot := merkleFold(sha256d.Hash(coinbase), job.MerkleBranch)

	tpl := &Template{
		JobID:       job.ID,
		NTime:       job.NTime,
		Extranonce2: en2,
		Target:      a.target,
	}

	binary.LittleEndian.PutUint32(tpl.Header[0:4], job.Version)
	copy(tpl.Header[4:36], job.PrevHash[:])
	copy(tpl.Header[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint32(tpl.Header[68:72], job.NTime)
	binary.LittleEndian.PutUint32(tpl.Header[72:76], job.NBits)
	// Bytes 76..80 remain zero; the search engine owns the nonce field.

	a.generation++
	tpl.Generation = a.generation
	a.counter++

	return tpl, nil
}

// merkleFold folds the branch hashes into the coinbase hash:
// acc = sha256d(acc || branch) for each branch in order.  With no branches
// the merkle root is the coinbase hash itself.
func merkleFold(coinbaseHash chainhash.Hash, branches [][32]byte) chainhash.Hash {
	acc := coinbaseHash
	var buf [64]byte
	for _, branch := range branches {
		copy(buf[:32], acc[:])
		copy(buf[32:], branch[:])
		acc = sha256d.Hash(buf[:])
	}
	return acc
}
