// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mining coordinates the mining pipeline: it owns the session
// manager and the work assembler on the control context, runs the nonce
// search on a dedicated goroutine, and moves work one way and found shares
// the other.
package mining

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toole-brendan/solominer/mining/sha256d"
	"github.com/toole-brendan/solominer/mining/work"
	"github.com/toole-brendan/solominer/stratum"
)

const (
	// defaultBatchNonces bounds one search batch.  Work updates become
	// visible to the search goroutine at batch boundaries, so this also
	// bounds the switch latency.
	defaultBatchNonces = 10000

	// defaultReconnectAttempts is the number of reconnects tried after
	// a transport loss before giving up.
	defaultReconnectAttempts = 3

	// defaultReconnectDelay is the fixed pause before each reconnect
	// attempt.
	defaultReconnectDelay = 3 * time.Second

	// defaultAckTimeout bounds the wait for a subscribe or authorize
	// ack and for the first job.
	defaultAckTimeout = 5 * time.Second

	// defaultStatsInterval is how often the hashrate estimate folds in
	// a new sample.
	defaultStatsInterval = 2 * time.Second

	// defaultJoinTimeout bounds the wait for the search goroutine to
	// observe the stop flag.
	defaultJoinTimeout = 2 * time.Second
)

// State identifies the externally observable lifecycle of the coordinator.
type State int

const (
	// StateStopped means the miner is idle.
	StateStopped State = iota

	// StateConnecting means a pool handshake or reconnect is underway.
	StateConnecting

	// StateMining means the search goroutine is hashing live work.
	StateMining

	// StateError means mining could not be continued; the message is in
	// Stats.ErrorMessage.
	StateError
)

// String returns the State as a human-readable string.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateMining:
		return "mining"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credentials identifies the active wallet and pool endpoint a mining
// session runs against.
type Credentials struct {
	Wallet       string
	WorkerSuffix string
	Host         string
	Port         uint16
}

// WorkerName composes the worker string sent at authorize time:
// the wallet address, optionally dot-joined with a worker suffix.
func (c *Credentials) WorkerName() string {
	if c.WorkerSuffix != "" {
		return c.Wallet + "." + c.WorkerSuffix
	}
	return c.Wallet
}

// Config supplies the coordinator's collaborators and tunables.  Zero
// values select the defaults above.
type Config struct {
	// FetchCredentials returns the active wallet and pool endpoint.
	// Called on every Start so configuration changes take effect on the
	// next session.
	FetchCredentials func() (*Credentials, error)

	// LinkUp reports whether the external network link is ready.  A nil
	// func means the link is always up.
	LinkUp func() bool

	// Session configures the stratum client, including the dial
	// function.
	Session stratum.Config

	BatchNonces       uint32
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	AckTimeout        time.Duration
	StatsInterval     time.Duration
	JoinTimeout       time.Duration
}

// foundShare carries a winning nonce and the template it was mined
// against from the search goroutine back to the control context.
type foundShare struct {
	tpl   *work.Template
	nonce uint32
}

// Manager is the mining coordinator.  Start, Stop and Tick must be driven
// from a single control goroutine; Stats, State, IsConfigured and the
// manual-stop flag are safe from any goroutine.
type Manager struct {
	cfg       Config
	client    *stratum.Client
	assembler *work.Assembler
	creds     *Credentials

	// Shared with the search goroutine.
	template    atomic.Value // *work.Template
	shareSlot   chan foundShare
	batchHashes uint64 // atomic
	active      int32  // atomic
	searchDone  chan struct{}

	mu              sync.Mutex
	state           State
	errorMessage    string
	manuallyStopped bool
	poolConnected   bool
	difficulty      float64
	sharesFound     uint32
	cleanGeneration uint64
	startTime       time.Time
	hashrate        hashrateMonitor
}

// NewManager creates a stopped coordinator.  It holds no global state and
// is fully constructible in tests.
func NewManager(cfg Config) *Manager {
	if cfg.BatchNonces == 0 {
		cfg.BatchNonces = defaultBatchNonces
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	return &Manager{
		cfg:        cfg,
		client:     stratum.NewClient(cfg.Session),
		assembler:  work.NewAssembler(),
		shareSlot:  make(chan foundShare, 1),
		difficulty: 1.0,
	}
}

// State returns the coordinator state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ErrorMessage returns the user-visible message of the last fatal error.
func (m *Manager) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorMessage
}

// setState records a state transition and its message.
func (m *Manager) setState(state State, errorMessage string) {
	m.mu.Lock()
	m.state = state
	m.errorMessage = errorMessage
	m.mu.Unlock()
}

// SetManuallyStopped records the user's start/stop intent for an embedding
// UI.
func (m *Manager) SetManuallyStopped(stopped bool) {
	m.mu.Lock()
	m.manuallyStopped = stopped
	m.mu.Unlock()
}

// ManuallyStopped reports the user's start/stop intent.
func (m *Manager) ManuallyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manuallyStopped
}

// IsConfigured reports whether a mining session can be started: an active
// wallet and pool exist and the network link is up.
func (m *Manager) IsConfigured() bool {
	if m.cfg.LinkUp != nil && !m.cfg.LinkUp() {
		return false
	}
	if m.cfg.FetchCredentials == nil {
		return false
	}
	creds, err := m.cfg.FetchCredentials()
	return err == nil && creds != nil && creds.Wallet != "" &&
		creds.Host != "" && creds.Port != 0
}

// Start brings the miner from Stopped to Mining: it loads credentials,
// performs the subscribe/authorize handshake, waits for the first job,
// publishes the first template and launches the search goroutine.
func (m *Manager) Start() error {
	if m.State() == StateMining {
		log.Debugf("Start requested while already mining")
		return nil
	}

	if m.cfg.LinkUp != nil && !m.cfg.LinkUp() {
		m.setState(StateError, "Link not connected")
		return stratum.Error{Kind: stratum.ErrLink,
			Description: "network link not connected"}
	}

	if m.cfg.FetchCredentials == nil {
		m.setState(StateError, "Config not found")
		return stratum.Error{Kind: stratum.ErrConfig,
			Description: "no credential source configured"}
	}
	creds, err := m.cfg.FetchCredentials()
	if err != nil || creds == nil || creds.Wallet == "" ||
		creds.Host == "" || creds.Port == 0 {
		m.setState(StateError, "Config not found")
		return stratum.Error{Kind: stratum.ErrConfig,
			Description: "no active wallet/pool configured", Err: err}
	}
	m.creds = creds

	m.setState(StateConnecting, "")
	if err := m.connect(); err != nil {
		m.client.Disconnect()
		m.setConnected(false)
		m.setState(StateError, startErrorMessage(err))
		return err
	}

	now := time.Now()
	m.mu.Lock()
	m.startTime = now
	m.hashrate.reset(now)
	m.sharesFound = 0
	m.cleanGeneration = 0
	m.manuallyStopped = false
	m.mu.Unlock()
	atomic.StoreUint64(&m.batchHashes, 0)

	if err := m.publishWork(m.client.CurrentJob(), true); err != nil {
		m.client.Disconnect()
		m.setConnected(false)
		m.setState(StateError, "Invalid work")
		return err
	}

	atomic.StoreInt32(&m.active, 1)
	m.searchDone = make(chan struct{})
	go m.searchLoop()

	m.setState(StateMining, "")
	log.Infof("Mining started for %s on %s:%d", creds.WorkerName(),
		creds.Host, creds.Port)
	return nil
}

// Stop halts the search goroutine, closes the session and returns to
// Stopped.  Safe to call in any state.
func (m *Manager) Stop() {
	if m.State() == StateStopped {
		return
	}
	log.Infof("Stopping miner")

	m.stopSearch()

	// Discard any share the control context never drained.
	select {
	case <-m.shareSlot:
	default:
	}

	m.client.Disconnect()
	m.setConnected(false)
	m.setState(StateStopped, "")
}

// Tick advances the mining session by one host-loop step: it drains the
// socket, folds in new work and difficulty, submits found shares and
// refreshes the hashrate estimate.  On transport loss it runs the bounded
// reconnect loop.
func (m *Manager) Tick() {
	if m.State() != StateMining {
		return
	}

	events, err := m.client.Poll()
	m.applyEvents(events)
	if err != nil {
		m.reconnect()
		return
	}

	m.drainShares()
	m.updateStats()
}

// Stats returns a snapshot of the observable mining state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := Stats{
		State:          m.state,
		HashrateHPS:    m.hashrate.rate,
		HashesTotal:    m.hashrate.totalHashes,
		SharesFound:    m.sharesFound,
		Difficulty:     m.difficulty,
		PoolConnected:  m.poolConnected,
		ErrorMessage:   m.errorMessage,
	}
	if m.state == StateMining && !m.startTime.IsZero() {
		stats.UptimeSeconds = uint32(time.Since(m.startTime) / time.Second)
	}
	m.mu.Unlock()

	stats.HashesTotal += atomic.LoadUint64(&m.batchHashes)
	stats.SharesAccepted = m.client.SharesAccepted()
	stats.SharesRejected = m.client.SharesRejected()
	return stats
}

// setConnected records the pool link state for Stats readers.
func (m *Manager) setConnected(connected bool) {
	m.mu.Lock()
	m.poolConnected = connected
	m.mu.Unlock()
}

// connect performs the full pool handshake: TCP connect, subscribe and
// wait for its ack, install the session extranonce parameters, authorize
// and wait for the ack, then wait for the first job.  The extranonce2
// counter restarts here and nowhere else.
func (m *Manager) connect() error {
	if err := m.client.Connect(m.creds.Host, m.creds.Port); err != nil {
		return err
	}
	m.setConnected(true)

	if err := m.client.Subscribe(); err != nil {
		return err
	}
	if err := m.waitSession(func() bool {
		return m.client.State() != stratum.StateAwaitSubscribe
	}, "subscribe ack"); err != nil {
		return err
	}
	if m.client.State() != stratum.StateSubscribed {
		return stratum.Error{Kind: stratum.ErrProtocol,
			Description: "pool refused subscription"}
	}

	m.assembler.SetSession(m.client.Extranonce1(), m.client.Extranonce2Width())

	if err := m.client.Authorize(m.creds.WorkerName()); err != nil {
		return err
	}
	if err := m.waitSession(func() bool {
		return m.client.State() != stratum.StateAwaitAuth
	}, "authorize ack"); err != nil {
		return err
	}
	if m.client.State() != stratum.StateAuthorized {
		return stratum.Error{Kind: stratum.ErrProtocol,
			Description: "pool refused authorization"}
	}

	if err := m.waitSession(func() bool {
		return m.client.CurrentJob() != nil
	}, "first job"); err != nil {
		return err
	}

	// Difficulty notifications can land at any point of the handshake;
	// carry whatever the session saw into the assembler.
	difficulty := m.client.Difficulty()
	m.assembler.SetDifficulty(difficulty)
	m.mu.Lock()
	m.difficulty = difficulty
	m.mu.Unlock()

	return nil
}

// waitSession polls the session until cond holds or the ack timeout
// expires.
func (m *Manager) waitSession(cond func() bool, what string) error {
	deadline := time.Now().Add(m.cfg.AckTimeout)
	for {
		if cond() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return stratum.Error{Kind: stratum.ErrTransport,
				Description: "timed out waiting for " + what}
		}
		if _, err := m.client.Poll(); err != nil {
			return err
		}
	}
}

// publishWork assembles a template for the job and publishes it to the
// search goroutine with an atomic pointer swap.  When clean is set any
// share mined against an earlier generation becomes undeliverable.
func (m *Manager) publishWork(job *work.Job, clean bool) error {
	tpl, err := m.assembler.Assemble(job)
	if err != nil {
		return stratum.Error{Kind: stratum.ErrInvalidJob,
			Description: "assemble work template", Err: err}
	}

	m.template.Store(tpl)
	if clean {
		m.mu.Lock()
		m.cleanGeneration = tpl.Generation
		m.mu.Unlock()
	}

	log.Debugf("Published work generation %d (job=%s clean=%v)",
		tpl.Generation, tpl.JobID, clean)
	return nil
}

// applyEvents folds session events into the coordinator.
func (m *Manager) applyEvents(events []stratum.Event) {
	for _, event := range events {
		switch e := event.(type) {
		case stratum.JobEvent:
			if err := m.publishWork(e.Job, e.Job.Clean); err != nil {
				log.Warnf("Dropping job %s: %v", e.Job.ID, err)
			}

		case stratum.DifficultyEvent:
			m.assembler.SetDifficulty(e.Difficulty)
			m.mu.Lock()
			m.difficulty = e.Difficulty
			m.mu.Unlock()

			// The published template is immutable, so a new target
			// requires a fresh template from the current job.
			if job := m.client.CurrentJob(); job != nil {
				if err := m.publishWork(job, false); err != nil {
					log.Warnf("Dropping retarget of job %s: %v",
						job.ID, err)
				}
			}

		case stratum.SubmitResultEvent:
			// Counters already updated by the session manager.

		default:
			// Handshake events carry no work here.
		}
	}
}

// drainShares empties the share slot, discarding shares invalidated by a
// clean-jobs notify and submitting the rest with the echo values of the
// template they were mined against.
func (m *Manager) drainShares() {
	for {
		select {
		case share := <-m.shareSlot:
			m.mu.Lock()
			m.sharesFound++
			cleanGeneration := m.cleanGeneration
			m.mu.Unlock()

			if share.tpl.Generation < cleanGeneration {
				log.Debugf("Discarding share from generation %d "+
					"(clean restart at %d)", share.tpl.Generation,
					cleanGeneration)
				continue
			}

			err := m.client.Submit(share.tpl.JobID, share.tpl.Extranonce2,
				share.tpl.NTime, share.nonce)
			if err != nil {
				log.Errorf("Share submission failed: %v", err)
			}

		default:
			return
		}
	}
}

// updateStats folds a window of completed hashes into the hashrate
// estimate once per stats interval.
func (m *Manager) updateStats() {
	now := time.Now()
	m.mu.Lock()
	if now.Sub(m.hashrate.lastUpdate) >= m.cfg.StatsInterval {
		hashes := atomic.SwapUint64(&m.batchHashes, 0)
		m.hashrate.update(hashes, now)
	}
	m.mu.Unlock()
}

// reconnect runs the bounded reconnect loop after a transport loss while
// mining.  Each attempt waits the fixed delay and redoes the full
// handshake; exhaustion stops the search and lands in StateError.
func (m *Manager) reconnect() {
	log.Warnf("Pool connection lost; attempting reconnect")
	m.setConnected(false)
	m.setState(StateConnecting, "")

	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(m.cfg.ReconnectDelay)
		log.Infof("Reconnect attempt %d/%d", attempt, m.cfg.ReconnectAttempts)

		if err := m.connect(); err != nil {
			log.Errorf("Reconnect failed: %v", err)
			m.client.Disconnect()
			m.setConnected(false)
			continue
		}

		if err := m.publishWork(m.client.CurrentJob(), true); err != nil {
			log.Errorf("Reconnect produced unusable work: %v", err)
			m.client.Disconnect()
			m.setConnected(false)
			continue
		}

		m.setState(StateMining, "")
		log.Infof("Reconnected to pool")
		return
	}

	m.stopSearch()
	m.client.Disconnect()
	m.setConnected(false)
	m.setState(StateError, "Pool disconnected")
}

// stopSearch clears the active flag and waits for the search goroutine to
// exit at its next batch boundary.  A goroutine that fails to stop within
// the join timeout is abandoned and reported.
func (m *Manager) stopSearch() {
	if atomic.SwapInt32(&m.active, 0) == 0 {
		return
	}
	if m.searchDone == nil {
		return
	}
	select {
	case <-m.searchDone:
	case <-time.After(m.cfg.JoinTimeout):
		log.Criticalf("Search goroutine failed to stop within %v",
			m.cfg.JoinTimeout)
	}
	m.searchDone = nil
}

// searchLoop is the dedicated search context.  It re-reads the shared
// template at every batch boundary, copies the header locally, and hands
// winning nonces back through the single-slot share channel.  It performs
// no I/O and takes no locks.
func (m *Manager) searchLoop() {
	defer close(m.searchDone)
	log.Debugf("Search goroutine started")

	var nonce uint32
	var generation uint64

	for atomic.LoadInt32(&m.active) == 1 {
		tpl := m.template.Load().(*work.Template)
		if tpl.Generation != generation {
			generation = tpl.Generation
			nonce = 0
		}

		// Copy-on-batch-start: the published template stays immutable.
		header := tpl.Header
		target := tpl.Target

		result := sha256d.Search(&header, nonce, m.cfg.BatchNonces, &target)
		atomic.AddUint64(&m.batchHashes, uint64(result.HashesDone))

		if result.Found {
			log.Infof("Share found: generation=%d nonce=%08x",
				tpl.Generation, result.Nonce)
			m.offerShare(foundShare{tpl: tpl, nonce: result.Nonce})
			nonce = result.Nonce + 1
		} else {
			nonce += m.cfg.BatchNonces
		}
	}

	log.Debugf("Search goroutine stopped")
}

// offerShare places a share in the single-slot channel, replacing any
// share the control context has not drained yet.
func (m *Manager) offerShare(share foundShare) {
	for {
		select {
		case m.shareSlot <- share:
			return
		default:
		}
		select {
		case <-m.shareSlot:
		default:
		}
	}
}

// startErrorMessage maps a handshake error onto the short user-visible
// message shown by the UI.
func startErrorMessage(err error) string {
	switch {
	case stratum.IsErrorKind(err, stratum.ErrTransport):
		return "Connection failed"
	case stratum.IsErrorKind(err, stratum.ErrProtocol):
		return "Pool handshake failed"
	case stratum.IsErrorKind(err, stratum.ErrInvalidJob):
		return "Invalid work"
	default:
		return "Connection failed"
	}
}
