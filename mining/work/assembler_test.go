// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package work

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toole-brendan/solominer/mining/sha256d"
)

// testJob returns the job of the notify-to-header acceptance scenario.
func testJob() *Job {
	return &Job{
		ID:             "J",
		CoinbasePrefix: []byte{0x01, 0x00, 0x00, 0x00},
		CoinbaseSuffix: []byte{0xff, 0xff, 0xff, 0xff},
		Version:        0x20000000,
		NBits:          0x1d00ffff,
		NTime:          0x5e6d7c8b,
	}
}

// testAssembler returns an assembler configured with the acceptance
// scenario's session parameters.
func testAssembler() *Assembler {
	a := NewAssembler()
	a.SetSession([]byte{0x81, 0x00, 0x00, 0x02}, 4)
	return a
}

// TestAssembleHeaderLayout verifies the bit-exact header produced from
// the seed job.
func TestAssembleHeaderLayout(t *testing.T) {
	a := testAssembler()
	tpl, err := a.Assemble(testJob())
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x20}, tpl.Header[0:4], "version")
	assert.Equal(t, make([]byte, 32), tpl.Header[4:36], "prevhash")
	assert.Equal(t, []byte{0x8b, 0x7c, 0x6d, 0x5e}, tpl.Header[68:72], "ntime")
	assert.Equal(t, []byte{0xff, 0xff, 0x00, 0x1d}, tpl.Header[72:76], "nbits")
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, tpl.Header[76:80], "nonce")

	// With no merkle branches the merkle root is the double hash of
	// coinbase1 || extranonce1 || extranonce2 || coinbase2.
	coinbase := []byte{
		0x01, 0x00, 0x00, 0x00,
		0x81, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
	}
	wantRoot := sha256d.Hash(coinbase)
	assert.Equal(t, wantRoot[:], tpl.Header[36:68], "merkle root")

	assert.Equal(t, "J", tpl.JobID)
	assert.Equal(t, uint32(0x5e6d7c8b), tpl.NTime)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, tpl.Extranonce2)
}

// TestAssembleMerkleFold verifies the branch fold against a hand-computed
// chain.
func TestAssembleMerkleFold(t *testing.T) {
	a := testAssembler()

	job := testJob()
	var branch1, branch2 [32]byte
	for i := range branch1 {
		branch1[i] = 0x11
		branch2[i] = 0x22
	}
	job.MerkleBranch = [][32]byte{branch1, branch2}

	tpl, err := a.Assemble(job)
	require.NoError(t, err)

	coinbase := []byte{
		0x01, 0x00, 0x00, 0x00,
		0x81, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
	}
	acc := sha256d.Hash(coinbase)
	acc = sha256d.Hash(append(acc[:], branch1[:]...))
	acc = sha256d.Hash(append(acc[:], branch2[:]...))

	assert.Equal(t, acc[:], tpl.Header[36:68])
}

// TestAssembleAdvancesExtranonce2 verifies per-template diversification:
// the same job assembled twice yields different coinbases, and identical
// templates reappear only after a session reset.
func TestAssembleAdvancesExtranonce2(t *testing.T) {
	a := testAssembler()
	job := testJob()

	first, err := a.Assemble(job)
	require.NoError(t, err)
	second, err := a.Assemble(job)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, first.Extranonce2)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, second.Extranonce2)
	assert.False(t, bytes.Equal(first.Header[36:68], second.Header[36:68]),
		"advanced extranonce2 must change the merkle root")

	// Resetting the session restarts the counter and reproduces the
	// first header byte for byte.
	a.SetSession([]byte{0x81, 0x00, 0x00, 0x02}, 4)
	third, err := a.Assemble(job)
	require.NoError(t, err)
	assert.Equal(t, first.Header, third.Header)
}

// TestAssembleGenerationMonotonic verifies generations increase strictly,
// surviving session resets.
func TestAssembleGenerationMonotonic(t *testing.T) {
	a := testAssembler()
	job := testJob()

	var last uint64
	for i := 0; i < 5; i++ {
		if i == 3 {
			a.SetSession([]byte{0x81, 0x00, 0x00, 0x02}, 4)
		}
		tpl, err := a.Assemble(job)
		require.NoError(t, err)
		require.Greater(t, tpl.Generation, last)
		last = tpl.Generation
	}
}

// TestAssembleWideExtranonce2 verifies the counter is zero padded at a
// width of eight.
func TestAssembleWideExtranonce2(t *testing.T) {
	a := NewAssembler()
	a.SetSession([]byte{0xab}, 8)

	for i := 0; i < 0x102; i++ {
		_, err := a.Assemble(testJob())
		require.NoError(t, err)
	}
	tpl, err := a.Assemble(testJob())
	require.NoError(t, err)

	// Counter value 0x102 little-endian, padded to eight bytes.
	assert.Equal(t, []byte{0x02, 0x01, 0, 0, 0, 0, 0, 0}, tpl.Extranonce2)
}

// TestAssembleRequiresSession verifies assembly refuses to run without
// subscribe parameters.
func TestAssembleRequiresSession(t *testing.T) {
	a := NewAssembler()
	_, err := a.Assemble(testJob())
	assert.ErrorIs(t, err, ErrNoSession)
}

// TestAssembleAppliesDifficulty verifies the session target lands in the
// template.
func TestAssembleAppliesDifficulty(t *testing.T) {
	a := testAssembler()
	a.SetDifficulty(1024.0)

	tpl, err := a.Assemble(testJob())
	require.NoError(t, err)
	assert.Equal(t, DifficultyToTarget(1024.0), tpl.Target)
}
