// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stratum implements the client side of the Stratum v1 line-JSON
// protocol: session handshake, work notifications, difficulty updates and
// share submission over a single TCP connection.
package stratum

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"

	"github.com/toole-brendan/solominer/mining/work"
)

const (
	// RecvBufferSize is the maximum accepted length of a single wire
	// line.  A longer line is a protocol error and disconnects the
	// session.
	RecvBufferSize = 4096

	// defaultConnectTimeout bounds the TCP connect.
	defaultConnectTimeout = 10 * time.Second

	// defaultPollTimeout bounds a single Poll call's socket reads.
	defaultPollTimeout = 50 * time.Millisecond

	// writeTimeout bounds a single outbound message write.
	writeTimeout = 5 * time.Second

	// seenJobLimit is the number of recent job ids remembered for
	// duplicate notify suppression.
	seenJobLimit = 16

	// passwordPlaceholder is sent as the authorize password; pools
	// ignore it.
	passwordPlaceholder = "x"
)

// State identifies where a session is in its lifecycle.
type State int

const (
	// StateDisconnected is the initial state and the terminal state of
	// any transport failure.
	StateDisconnected State = iota

	// StateConnected indicates an established TCP connection with no
	// subscribe sent yet.
	StateConnected

	// StateAwaitSubscribe indicates mining.subscribe is in flight.
	StateAwaitSubscribe

	// StateSubscribed indicates the subscribe response populated the
	// session extranonce parameters.
	StateSubscribed

	// StateAwaitAuth indicates mining.authorize is in flight.
	StateAwaitAuth

	// StateAuthorized is the working state: jobs, difficulty and submit
	// replies flow here.
	StateAuthorized

	// StateFailed indicates the pool refused subscribe or authorize.
	StateFailed
)

// String returns the State as a human-readable string.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAwaitSubscribe:
		return "await-subscribe"
	case StateSubscribed:
		return "subscribed"
	case StateAwaitAuth:
		return "await-auth"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DialFunc establishes an outbound TCP connection.  It matches the shape
// of net.DialTimeout so a SOCKS proxy dialer can be substituted.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// Config holds session manager tunables.  The zero value selects plain TCP
// with the default timeouts.
type Config struct {
	// Dial establishes the pool connection.  Defaults to
	// net.DialTimeout.
	Dial DialFunc

	// ConnectTimeout bounds the TCP connect.  Defaults to 10s.
	ConnectTimeout time.Duration

	// PollTimeout bounds the socket reads of one Poll call.  Defaults
	// to 50ms.
	PollTimeout time.Duration
}

// pendingKind identifies the request a message id correlates to.
type pendingKind int

const (
	pendingSubscribe pendingKind = iota
	pendingAuthorize
	pendingSubmit
)

// pendingRequest records an outbound request awaiting its response.
// Responses carry only an id, so this table is the sole way to tell an
// authorize ack from a submit ack.
type pendingRequest struct {
	kind  pendingKind
	jobID string
	nonce uint32
}

// Client is a Stratum v1 session manager.  All methods must be driven from
// a single control context; only the share counters are safe to read
// concurrently.
type Client struct {
	cfg  Config
	conn net.Conn

	reader  *bufio.Reader
	lineBuf []byte

	state  State
	worker string

	messageID uint64
	pending   map[uint64]pendingRequest

	extranonce1      []byte
	extranonce2Width int
	difficulty       float64
	target           [32]byte
	currentJob       *work.Job
	seenJobs         lru.Cache

	sharesAccepted uint32 // atomic
	sharesRejected uint32 // atomic
	protocolErrors uint64 // atomic
}

// NewClient returns a disconnected session manager.
func NewClient(cfg Config) *Client {
	if cfg.Dial == nil {
		cfg.Dial = net.DialTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Client{
		cfg:        cfg,
		difficulty: 1.0,
		target:     work.DifficultyToTarget(1.0),
		pending:    make(map[uint64]pendingRequest),
		seenJobs:   lru.NewCache(seenJobLimit),
	}
}

// Connect establishes the TCP connection to the pool and resets all
// per-connection state.  The extranonce2 counter lives in the assembler
// and is reset by the caller alongside this.
func (c *Client) Connect(host string, port uint16) error {
	if c.conn != nil {
		c.Disconnect()
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	log.Debugf("Connecting to %s", addr)

	conn, err := c.cfg.Dial("tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		return makeError(ErrTransport, fmt.Sprintf("connect to %s", addr), err)
	}

	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, RecvBufferSize)
	c.lineBuf = c.lineBuf[:0]
	c.state = StateConnected
	c.messageID = 1
	c.pending = make(map[uint64]pendingRequest)
	c.currentJob = nil
	c.seenJobs = lru.NewCache(seenJobLimit)
	c.extranonce1 = nil
	c.extranonce2Width = 0
	c.difficulty = 1.0
	c.target = work.DifficultyToTarget(1.0)

	log.Infof("Connected to pool %s", addr)
	return nil
}

// Disconnect closes the connection and moves the session to
// StateDisconnected.  It is safe to call repeatedly.
func (c *Client) Disconnect() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		log.Debugf("Session disconnected")
	}
	c.reader = nil
	c.lineBuf = nil
	c.currentJob = nil
	c.state = StateDisconnected
}

// Connected reports whether the TCP connection is established.
func (c *Client) Connected() bool {
	return c.conn != nil
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state
}

// Extranonce1 returns the pool-assigned extranonce1 bytes.
func (c *Client) Extranonce1() []byte {
	return c.extranonce1
}

// Extranonce2Width returns the pool-chosen extranonce2 byte count.
func (c *Client) Extranonce2Width() int {
	return c.extranonce2Width
}

// Difficulty returns the current pool difficulty.
func (c *Client) Difficulty() float64 {
	return c.difficulty
}

// Target returns the current share target in little-endian byte order.
func (c *Client) Target() [32]byte {
	return c.target
}

// CurrentJob returns the most recent valid job, or nil.
func (c *Client) CurrentJob() *work.Job {
	return c.currentJob
}

// SharesAccepted returns the number of shares the pool accepted.
func (c *Client) SharesAccepted() uint32 {
	return atomic.LoadUint32(&c.sharesAccepted)
}

// SharesRejected returns the number of shares the pool rejected.
func (c *Client) SharesRejected() uint32 {
	return atomic.LoadUint32(&c.sharesRejected)
}

// ProtocolErrors returns the count of dropped malformed lines and
// uncorrelated responses.
func (c *Client) ProtocolErrors() uint64 {
	return atomic.LoadUint64(&c.protocolErrors)
}

// nextID reserves the next message id.  Ids increase strictly within a
// session.
func (c *Client) nextID() uint64 {
	id := c.messageID
	c.messageID++
	return id
}

// send marshals a request and writes it as a single newline-terminated
// line.  Write failures disconnect the session.
func (c *Client) send(req *request) error {
	if c.conn == nil {
		return makeError(ErrTransport, "session not connected", nil)
	}

	payload, err := marshalRequest(req)
	if err != nil {
		return makeError(ErrProtocol, "marshal request", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(payload); err != nil {
		c.Disconnect()
		return makeError(ErrTransport, "write request", err)
	}

	log.Tracef("Sent: %s", payload[:len(payload)-1])
	return nil
}

// Subscribe sends mining.subscribe.  The ack arrives asynchronously via
// Poll; the session moves to StateSubscribed once the response populates
// the extranonce parameters.
func (c *Client) Subscribe() error {
	if c.state != StateConnected {
		return makeError(ErrProtocol, fmt.Sprintf("subscribe in state %v",
			c.state), nil)
	}

	id := c.nextID()
	if err := c.send(&request{ID: id, Method: methodSubscribe,
		Params: []interface{}{}}); err != nil {
		return err
	}

	c.pending[id] = pendingRequest{kind: pendingSubscribe}
	c.state = StateAwaitSubscribe
	return nil
}

// Authorize sends mining.authorize for the worker.  The same worker string
// is echoed on every subsequent submission.
func (c *Client) Authorize(worker string) error {
	if c.state != StateSubscribed {
		return makeError(ErrProtocol, fmt.Sprintf("authorize in state %v",
			c.state), nil)
	}

	c.worker = worker
	id := c.nextID()
	if err := c.send(&request{ID: id, Method: methodAuthorize,
		Params: []interface{}{worker, passwordPlaceholder}}); err != nil {
		return err
	}

	c.pending[id] = pendingRequest{kind: pendingAuthorize}
	c.state = StateAwaitAuth
	return nil
}

// Submit sends mining.submit for a found share.  The nonce and ntime are
// encoded as eight lowercase hex digits of their numeric value; the
// extranonce2 bytes are encoded low byte first, exactly as spliced into
// the coinbase.  The verdict arrives asynchronously as a
// SubmitResultEvent.
func (c *Client) Submit(jobID string, extranonce2 []byte, ntime, nonce uint32) error {
	if c.state != StateAuthorized {
		return makeError(ErrProtocol, fmt.Sprintf("submit in state %v",
			c.state), nil)
	}

	id := c.nextID()
	err := c.send(&request{ID: id, Method: methodSubmit, Params: []interface{}{
		c.worker,
		jobID,
		hex.EncodeToString(extranonce2),
		fmt.Sprintf("%08x", ntime),
		fmt.Sprintf("%08x", nonce),
	}})
	if err != nil {
		return err
	}

	c.pending[id] = pendingRequest{kind: pendingSubmit, jobID: jobID, nonce: nonce}
	log.Debugf("Submitted share job=%s nonce=%08x", jobID, nonce)
	return nil
}

// Poll drains whatever the socket has buffered, advancing session state
// and collecting events.  A single read deadline, set the configured poll
// timeout after the call begins, ends the call.  A transport failure disconnects the
// session and is returned alongside any events gathered before it.
func (c *Client) Poll() ([]Event, error) {
	if c.conn == nil {
		return nil, makeError(ErrTransport, "session not connected", nil)
	}

	var events []Event

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollTimeout))
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				// Socket quiet; partial line stays buffered for
				// the next Poll.
				return events, nil
			}
			c.Disconnect()
			if err == io.EOF {
				return events, makeError(ErrTransport, "pool closed connection", err)
			}
			return events, makeError(ErrTransport, "read", err)
		}

		if b != '\n' {
			if len(c.lineBuf) >= RecvBufferSize-1 {
				c.Disconnect()
				return events, makeError(ErrProtocol,
					"line exceeds receive buffer", nil)
			}
			c.lineBuf = append(c.lineBuf, b)
			continue
		}

		line := c.lineBuf
		c.lineBuf = c.lineBuf[:0]
		if len(line) == 0 {
			continue
		}
		events = c.handleLine(line, events)
	}
}

// handleLine decodes one wire line and dispatches it.  Malformed JSON
// drops the line and bumps the protocol error counter without touching the
// connection.
func (c *Client) handleLine(line []byte, events []Event) []Event {
	log.Tracef("Recv: %s", line)

	var msg serverMessage
	if err := unmarshalMessage(line, &msg); err != nil {
		atomic.AddUint64(&c.protocolErrors, 1)
		log.Debugf("Dropping unparsable line: %v %s", err,
			spew.Sdump(string(line)))
		return events
	}

	if msg.isNotification() {
		return c.handleNotification(&msg, events)
	}
	return c.handleResponse(&msg, events)
}

// handleNotification processes server-initiated methods.  Unknown methods
// are ignored.
func (c *Client) handleNotification(msg *serverMessage, events []Event) []Event {
	switch msg.Method {
	case methodNotify:
		job, err := parseNotifyParams(msg.Params)
		if err != nil {
			atomic.AddUint64(&c.protocolErrors, 1)
			log.Warnf("Discarding invalid job: %v", err)
			return events
		}

		// Pools re-announce the current job periodically; a repeat
		// id only matters when it demands a clean restart.
		if c.seenJobs.Contains(job.ID) && !job.Clean {
			log.Tracef("Ignoring duplicate notify for job %s", job.ID)
			return events
		}
		c.seenJobs.Add(job.ID)

		c.currentJob = job
		log.Debugf("New job %s (clean=%v, branches=%d)", job.ID,
			job.Clean, len(job.MerkleBranch))
		return append(events, JobEvent{Job: job})

	case methodSetDifficulty:
		difficulty, err := parseSetDifficultyParams(msg.Params)
		if err != nil {
			atomic.AddUint64(&c.protocolErrors, 1)
			log.Warnf("Discarding set_difficulty: %v", err)
			return events
		}

		c.difficulty = difficulty
		c.target = work.DifficultyToTarget(difficulty)
		log.Infof("Pool difficulty set to %g", difficulty)
		return append(events, DifficultyEvent{Difficulty: difficulty})

	default:
		log.Debugf("Ignoring unknown method %q", msg.Method)
		return events
	}
}

// handleResponse correlates a response to its pending request via the id
// table and applies it.
func (c *Client) handleResponse(msg *serverMessage, events []Event) []Event {
	if msg.ID == nil {
		atomic.AddUint64(&c.protocolErrors, 1)
		log.Debugf("Dropping response without id")
		return events
	}

	pending, ok := c.pending[*msg.ID]
	if !ok {
		atomic.AddUint64(&c.protocolErrors, 1)
		log.Debugf("Dropping response with unknown id %d", *msg.ID)
		return events
	}
	delete(c.pending, *msg.ID)

	serr := parseStratumError(msg.Error)

	switch pending.kind {
	case pendingSubscribe:
		return c.applySubscribeResponse(msg, serr, events)

	case pendingAuthorize:
		ok := serr == nil
		if ok {
			var err error
			ok, err = parseBoolResult(msg.Result)
			if err != nil {
				atomic.AddUint64(&c.protocolErrors, 1)
				ok = false
			}
		}
		if ok {
			c.state = StateAuthorized
			log.Infof("Worker %s authorized", c.worker)
		} else {
			c.state = StateFailed
			log.Errorf("Worker %s authorization refused: %v", c.worker, serr)
		}
		return append(events, AuthorizedEvent{OK: ok})

	case pendingSubmit:
		accepted := serr == nil
		if accepted {
			var err error
			accepted, err = parseBoolResult(msg.Result)
			if err != nil {
				atomic.AddUint64(&c.protocolErrors, 1)
				accepted = false
			}
		}
		if accepted {
			atomic.AddUint32(&c.sharesAccepted, 1)
			log.Infof("Share accepted (job=%s nonce=%08x)",
				pending.jobID, pending.nonce)
		} else {
			atomic.AddUint32(&c.sharesRejected, 1)
			log.Warnf("Share rejected (job=%s nonce=%08x): %v",
				pending.jobID, pending.nonce, serr)
		}
		return append(events, SubmitResultEvent{
			JobID:    pending.jobID,
			Nonce:    pending.nonce,
			Accepted: accepted,
			Err:      serr,
		})

	default:
		atomic.AddUint64(&c.protocolErrors, 1)
		return events
	}
}

// applySubscribeResponse populates the session extranonce parameters from
// a subscribe ack.
func (c *Client) applySubscribeResponse(msg *serverMessage, serr *StratumError, events []Event) []Event {
	if serr != nil {
		c.state = StateFailed
		log.Errorf("Subscribe refused: %v", serr)
		return append(events, SubscribedEvent{OK: false})
	}

	extranonce1, width, err := parseSubscribeResult(msg.Result)
	if err != nil {
		atomic.AddUint64(&c.protocolErrors, 1)
		c.state = StateFailed
		log.Errorf("Subscribe response unusable: %v", err)
		return append(events, SubscribedEvent{OK: false})
	}

	c.extranonce1 = extranonce1
	c.extranonce2Width = width
	c.state = StateSubscribed
	log.Infof("Subscribed: extranonce1=%x extranonce2 width=%d",
		extranonce1, width)

	return append(events, SubscribedEvent{
		OK:               true,
		Extranonce1:      extranonce1,
		Extranonce2Width: width,
	})
}
