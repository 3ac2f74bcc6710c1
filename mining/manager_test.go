// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toole-brendan/solominer/mining/work"
	"github.com/toole-brendan/solominer/stratum"
)

// testCredentials is the static credential source used by the coordinator
// tests.
func testCredentials() (*Credentials, error) {
	return &Credentials{
		Wallet: "bc1qexampleexampleexampleexample",
		Host:   "pool.example.com",
		Port:   3333,
	}, nil
}

// fakePool is a scripted in-memory pool.  Every dial spawns a fresh
// connection handled by a goroutine speaking just enough Stratum for the
// handshake, counting submissions as they arrive.
type fakePool struct {
	dials   uint32 // atomic
	submits uint32 // atomic

	// submitCh observes each submit's params line.
	submitCh chan string

	// maxConns limits how many dials succeed; later dials fail.
	maxConns uint32
}

func newFakePool(maxConns uint32) *fakePool {
	return &fakePool{
		submitCh: make(chan string, 16),
		maxConns: maxConns,
	}
}

// dialer returns a DialFunc producing scripted connections.
func (p *fakePool) dialer() stratum.DialFunc {
	return func(network, addr string, timeout time.Duration) (net.Conn, error) {
		if atomic.AddUint32(&p.dials, 1) > p.maxConns {
			return nil, errors.New("connection refused")
		}
		clientConn, serverConn := net.Pipe()
		go p.serve(serverConn)
		return clientConn, nil
	}
}

// serve speaks the pool side of one connection.
func (p *fakePool) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		var msg struct {
			ID     uint64        `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "mining.subscribe":
			fmt.Fprintf(conn, `{"id":%d,"result":[[["mining.notify","abc"]],`+
				`"81000002",4],"error":null}`+"\n", msg.ID)

		case "mining.authorize":
			fmt.Fprintf(conn, `{"id":%d,"result":true,"error":null}`+"\n", msg.ID)
			fmt.Fprint(conn, `{"id":null,"method":"mining.set_difficulty",`+
				`"params":[1]}`+"\n")
			fmt.Fprintf(conn, `{"id":null,"method":"mining.notify",`+
				`"params":["j1","%s","01000000","ffffffff",[],"20000000",`+
				`"1d00ffff","5e6d7c8b",true]}`+"\n", strings.Repeat("00", 32))

		case "mining.submit":
			atomic.AddUint32(&p.submits, 1)
			params, _ := json.Marshal(msg.Params)
			select {
			case p.submitCh <- string(params):
			default:
			}
			fmt.Fprintf(conn, `{"id":%d,"result":true,"error":null}`+"\n", msg.ID)
		}
	}
}

// newTestManager builds a coordinator wired to the fake pool with short
// timeouts.
func newTestManager(pool *fakePool) *Manager {
	return NewManager(Config{
		FetchCredentials: testCredentials,
		Session: stratum.Config{
			Dial:        pool.dialer(),
			PollTimeout: 10 * time.Millisecond,
		},
		BatchNonces:       256,
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
		AckTimeout:        2 * time.Second,
		StatsInterval:     50 * time.Millisecond,
		JoinTimeout:       2 * time.Second,
	})
}

// TestManagerStartStop walks the full lifecycle: handshake, mining,
// share flow, stop.
func TestManagerStartStop(t *testing.T) {
	pool := newFakePool(1)
	m := newTestManager(pool)

	require.True(t, m.IsConfigured())
	require.NoError(t, m.Start())
	defer m.Stop()

	assert.Equal(t, StateMining, m.State())

	stats := m.Stats()
	assert.Equal(t, StateMining, stats.State)
	assert.True(t, stats.PoolConnected)
	assert.Equal(t, 1.0, stats.Difficulty)

	// The difficulty-1 pool target passes roughly one hash in 2^24/0xffff,
	// so the search finds shares quickly; tick until one is submitted and
	// acknowledged.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && m.Stats().SharesAccepted == 0 {
		m.Tick()
	}
	final := m.Stats()
	assert.NotZero(t, final.SharesFound, "search found no shares")
	assert.NotZero(t, final.SharesAccepted, "pool acknowledged no shares")
	assert.NotZero(t, final.HashesTotal)

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
	assert.False(t, m.Stats().PoolConnected)
}

// TestManagerStartUnconfigured verifies Start refuses without
// credentials.
func TestManagerStartUnconfigured(t *testing.T) {
	m := NewManager(Config{
		FetchCredentials: func() (*Credentials, error) {
			return nil, errors.New("empty store")
		},
	})

	assert.False(t, m.IsConfigured())
	err := m.Start()
	require.Error(t, err)
	assert.True(t, stratum.IsErrorKind(err, stratum.ErrConfig))
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, "Config not found", m.ErrorMessage())
}

// TestManagerStartLinkDown verifies Start refuses while the link is down.
func TestManagerStartLinkDown(t *testing.T) {
	m := NewManager(Config{
		FetchCredentials: testCredentials,
		LinkUp:           func() bool { return false },
	})

	assert.False(t, m.IsConfigured())
	err := m.Start()
	require.Error(t, err)
	assert.True(t, stratum.IsErrorKind(err, stratum.ErrLink))
	assert.Equal(t, StateError, m.State())
}

// TestManagerConnectFailure verifies a refused dial lands in StateError.
func TestManagerConnectFailure(t *testing.T) {
	pool := newFakePool(0)
	m := newTestManager(pool)

	err := m.Start()
	require.Error(t, err)
	assert.True(t, stratum.IsErrorKind(err, stratum.ErrTransport))
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, "Connection failed", m.ErrorMessage())
}

// TestManagerGenerationMonotonic verifies published template generations
// increase strictly across repeated publications, clean and not clean.
func TestManagerGenerationMonotonic(t *testing.T) {
	pool := newFakePool(8)
	m := newTestManager(pool)
	m.creds, _ = testCredentials()
	require.NoError(t, m.connect())
	defer m.client.Disconnect()

	var last uint64
	job := m.client.CurrentJob()
	for i := 0; i < 4; i++ {
		require.NoError(t, m.publishWork(job, i%2 == 0))
		tpl := m.template.Load().(*work.Template)
		require.Greater(t, tpl.Generation, last)
		last = tpl.Generation
	}
}

// TestManagerCleanDiscard verifies the share discard rule: shares from
// generations preceding a clean-jobs replacement are dropped, everything
// else is submitted with its own template's echo values.
func TestManagerCleanDiscard(t *testing.T) {
	pool := newFakePool(8)
	m := newTestManager(pool)
	m.creds, _ = testCredentials()
	require.NoError(t, m.connect())
	defer m.client.Disconnect()

	job := m.client.CurrentJob()
	require.NotNil(t, job)

	// Publish generation 1 and hold a share mined against it.
	require.NoError(t, m.publishWork(job, false))
	oldTpl := m.template.Load().(*work.Template)

	// A non-clean replacement does not invalidate the old share.
	require.NoError(t, m.publishWork(job, false))
	m.shareSlot <- foundShare{tpl: oldTpl, nonce: 7}
	m.drainShares()

	select {
	case params := <-pool.submitCh:
		assert.Contains(t, params, `"j1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("share after non-clean replacement was not submitted")
	}

	// Collect the ack so the session bookkeeping stays tidy.
	waitForPolledAck(t, m, 1)

	// A clean replacement invalidates everything older.
	staleTpl := m.template.Load().(*work.Template)
	require.NoError(t, m.publishWork(job, true))
	m.shareSlot <- foundShare{tpl: staleTpl, nonce: 9}
	m.drainShares()

	select {
	case params := <-pool.submitCh:
		t.Fatalf("stale share was submitted: %s", params)
	case <-time.After(200 * time.Millisecond):
	}

	// A share from the clean generation itself still goes out.
	freshTpl := m.template.Load().(*work.Template)
	m.shareSlot <- foundShare{tpl: freshTpl, nonce: 11}
	m.drainShares()

	select {
	case <-pool.submitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("share from the clean generation was not submitted")
	}

	assert.Equal(t, uint32(3), m.Stats().SharesFound)
}

// waitForPolledAck polls the session until the accepted counter reaches
// want.
func waitForPolledAck(t *testing.T, m *Manager, want uint32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.client.SharesAccepted() >= want {
			return
		}
		_, err := m.client.Poll()
		require.NoError(t, err)
	}
	t.Fatalf("pool never acknowledged %d shares", want)
}

// TestManagerReconnectExhaustion verifies the bounded reconnect loop: a
// dead pool is retried the configured number of times before the
// coordinator lands in StateError with the search stopped.
func TestManagerReconnectExhaustion(t *testing.T) {
	pool := newFakePool(1)
	m := newTestManager(pool)

	require.NoError(t, m.Start())
	assert.Equal(t, StateMining, m.State())

	// Kill the only allowed connection; every redial now fails.
	m.client.Disconnect()

	start := time.Now()
	m.Tick()
	elapsed := time.Since(start)

	assert.Equal(t, StateError, m.State())
	assert.Equal(t, "Pool disconnected", m.ErrorMessage())
	assert.GreaterOrEqual(t, elapsed,
		3*20*time.Millisecond, "reconnect must wait the delay each attempt")

	// Initial dial plus three failed reconnect attempts.
	assert.Equal(t, uint32(4), atomic.LoadUint32(&pool.dials))

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
}

// TestManagerReconnectRecovers verifies mining resumes when a reconnect
// attempt succeeds and the extranonce2 counter restarts with the session.
func TestManagerReconnectRecovers(t *testing.T) {
	pool := newFakePool(2)
	m := newTestManager(pool)

	require.NoError(t, m.Start())
	defer m.Stop()
	firstTpl := m.template.Load().(*work.Template)

	m.client.Disconnect()
	m.Tick()

	assert.Equal(t, StateMining, m.State())
	assert.Equal(t, uint32(2), atomic.LoadUint32(&pool.dials))

	// The reconnect published fresh work from a restarted counter: same
	// extranonce2 as the first session's first template, higher
	// generation.
	currentTpl := m.template.Load().(*work.Template)
	assert.Greater(t, currentTpl.Generation, firstTpl.Generation)
	assert.Equal(t, firstTpl.Extranonce2, currentTpl.Extranonce2)
}
