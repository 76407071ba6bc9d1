// Package client implements the tunnel client's connection multiplexer,
// handshake/keepalive protocol, and single-goroutine event loop. It owns
// the UDP socket, the RDP engine, the TCP listener, and the connection
// table.
package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lake2010/BtcTunnel/internal/config"
	"github.com/lake2010/BtcTunnel/internal/logging"
	"github.com/lake2010/BtcTunnel/internal/mux"
	"github.com/lake2010/BtcTunnel/internal/rdpengine"
	"github.com/lake2010/BtcTunnel/internal/session"
	"github.com/lake2010/BtcTunnel/internal/wire"
)

const maxMessageLen = 4096 // recv scratch size, well above one KCP segment at MTU 1400

// udpBufPool reduces per-message allocation pressure on the engine-recv hot
// path (readRDP). The handshake reads in Connect use their own buffer.
var udpBufPool = sync.Pool{
	New: func() interface{} { return make([]byte, maxMessageLen) },
}

const (
	rdpSendWnd = 256
	rdpRecvWnd = 256
	// nodelay=1, interval handled by the engine's own internal scheduler, fastresend=2, no congestion control.
	rdpNoDelay      = 1
	rdpInterval     = 10
	rdpFastResend   = 2
	rdpNoCongestion = 1
)

// These timing constants are vars, not consts, so tests can shrink them to
// keep the handshake/drain paths fast without changing production defaults.
var (
	keepAliveEvery = 20 * time.Second
	handshakeEvery = 1 * time.Second
	handshakeLimit = 10 * time.Second
	drainTimeout   = 3 * time.Second
)

// StatsSnapshot is a point-in-time copy of the client's atomic counters,
// safe to read, log, or compare after the fact.
type StatsSnapshot struct {
	SessionsOpened   uint64
	SessionsClosed   uint64
	BytesUpstream    uint64
	BytesDownstream  uint64
	HandshakeRetries uint64
}

// stats holds the atomic counters backing Client.Stats.
type stats struct {
	sessionsOpened   atomic.Uint64
	sessionsClosed   atomic.Uint64
	bytesUpstream    atomic.Uint64
	bytesDownstream  atomic.Uint64
	handshakeRetries atomic.Uint64
}

// nowFunc lets tests substitute a controllable clock. Production code
// always uses time.Now.
var nowFunc = time.Now

// rdpDelivery is what the engine-reading goroutine hands to the event loop:
// exactly one of data or err is meaningful. err set means the underlying
// session closed and is terminal.
type rdpDelivery struct {
	data []byte
	err  error
}

// Client is the singleton per-process tunnel client. Construct with New,
// then call Connect and, on success, Run.
type Client struct {
	cfg config.Config
	log *logging.Logger

	udpConn  *net.UDPConn
	upstream *net.UDPAddr

	conv   uint32
	engine *rdpengine.Engine

	table *mux.Table
	asm   mux.Assembler

	listener net.Listener

	rdpIn        chan rdpDelivery
	accepts      chan net.Conn
	sessionEvent chan session.Event

	running  atomic.Bool
	stopOnce chan struct{}

	stats stats
}

// New resolves the upstream address and creates the UDP socket, but
// performs no handshake, builds no RDP engine, and opens no TCP listener
// yet — Connect and Run do that, since the engine cannot exist until the
// handshake has negotiated a live conversation with the peer.
func New(cfg config.Config, log *logging.Logger) (*Client, error) {
	upstream, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.UDPUpstreamHost, strconv.Itoa(int(cfg.UDPUpstreamPort))))
	if err != nil {
		return nil, errors.Wrap(err, "client: resolving upstream address")
	}

	udpConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, errors.Wrap(err, "client: creating udp socket")
	}

	c := &Client{
		cfg:          cfg,
		log:          log,
		udpConn:      udpConn,
		upstream:     upstream,
		conv:         uint32(nowFunc().Unix()),
		table:        mux.NewTable(),
		rdpIn:        make(chan rdpDelivery, 64),
		accepts:      make(chan net.Conn, 16),
		sessionEvent: make(chan session.Event, 64),
		stopOnce:     make(chan struct{}),
	}
	c.running.Store(true)

	return c, nil
}

// Connect runs the handshake phase: send the 12-byte handshake packet
// immediately and then every second, until the server echoes it back or 10
// seconds elapse. Handshake I/O is done with plain deadlined reads on the
// raw socket — no engine exists yet to conflict with it. Once the peer
// acknowledges, the RDP engine is created and its background reader
// goroutine is started.
func (c *Client) Connect() error {
	packet := wire.EncodeHandshake(c.conv)
	if _, err := c.udpConn.WriteToUDP(packet, c.upstream); err != nil {
		c.log.Warnf("client: initial handshake send failed: %v", err)
	}

	buf := make([]byte, 64)
	deadline := nowFunc().Add(handshakeLimit)
	nextRetry := nowFunc().Add(handshakeEvery)

	for {
		now := nowFunc()
		if !now.Before(deadline) {
			c.running.Store(false)
			return errors.New("client: handshake timed out after 10s")
		}

		wait := nextRetry.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		_ = c.udpConn.SetReadDeadline(now.Add(wait))

		n, _, err := c.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.stats.handshakeRetries.Add(1)
				if _, werr := c.udpConn.WriteToUDP(packet, c.upstream); werr != nil {
					c.log.Warnf("client: handshake retry send failed: %v", werr)
				}
				nextRetry = nowFunc().Add(handshakeEvery)
				continue
			}
			return errors.Wrap(err, "client: handshake read failed")
		}

		if wire.MatchesHandshake(buf[:n], c.conv) {
			_ = c.udpConn.SetReadDeadline(time.Time{})
			c.log.Infof("client: handshake acknowledged, conv=%08x", c.conv)
			return c.startEngine()
		}
		// Stray traffic before the conversation exists; drop and keep waiting.
	}
}

// startEngine builds the RDP engine over the already-handshaken socket and
// starts the goroutine that pumps its deliveries into the event loop.
func (c *Client) startEngine() error {
	eng, err := rdpengine.New(c.conv, c.udpConn, c.upstream)
	if err != nil {
		c.running.Store(false)
		return errors.Wrap(err, "client: creating rdp engine")
	}
	eng.SetWindow(rdpSendWnd, rdpRecvWnd)
	eng.SetMode(rdpNoDelay, rdpInterval, rdpFastResend, rdpNoCongestion)
	c.engine = eng

	go c.readRDP()
	return nil
}

// readRDP is the only goroutine that calls Engine.Recv. It performs no
// protocol logic: it copies each delivered message and hands it to the
// event loop, or reports the session's terminal error and exits.
func (c *Client) readRDP() {
	for {
		buf := udpBufPool.Get().([]byte)
		n, err := c.engine.Recv(buf)
		if err != nil {
			udpBufPool.Put(buf)
			select {
			case c.rdpIn <- rdpDelivery{err: err}:
			case <-c.stopOnce:
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		udpBufPool.Put(buf)
		select {
		case c.rdpIn <- rdpDelivery{data: data}:
		case <-c.stopOnce:
			return
		}
	}
}

// Run opens the TCP listener and drives the main event loop until Stop is
// called and the shutdown drain completes. It returns nil once the loop
// exits cleanly.
func (c *Client) Run() error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp4", net.JoinHostPort(c.cfg.ListenIP, strconv.Itoa(int(c.cfg.ListenPort))))
	if err != nil {
		return errors.Wrap(err, "client: binding tcp listener")
	}
	c.listener = ln

	go c.acceptLoop()

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()

	stopSignal := (<-chan struct{})(c.stopOnce)
	var drainTimer *time.Timer

	for {
		select {
		case d := <-c.rdpIn:
			if d.err != nil {
				c.log.Errorf("client: rdp session ended: %v", d.err)
				c.Stop()
				continue
			}
			c.handleRDPMessage(d.data)

		case conn := <-c.accepts:
			c.handleAccept(conn)

		case ev := <-c.sessionEvent:
			c.handleSessionEvent(ev)

		case <-keepAlive.C:
			if err := c.engine.Send(wire.EncodeKeepAlive()); err != nil {
				c.log.Fatalf("client: keepalive send rejected by engine: %v", err)
			}

		case <-stopSignal:
			// Disable this case so the drain timer gets a chance to
			// fire instead of the select spinning on an already-closed
			// channel for the remaining 3 seconds.
			stopSignal = nil
			c.drainSessions()
			drainTimer = time.NewTimer(drainTimeout)

		case <-drainTimerC(drainTimer):
			return nil
		}
	}
}

// drainTimerC returns t.C, or a nil channel (which blocks forever in a
// select) when t is nil — used before the drain timer has been armed.
func drainTimerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (c *Client) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		select {
		case c.accepts <- conn:
		case <-c.stopOnce:
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) handleAccept(conn net.Conn) {
	idx := c.table.NextIndex()
	readTimeout := time.Duration(0)
	if c.cfg.TCPReadTimeoutS > 0 {
		readTimeout = time.Duration(c.cfg.TCPReadTimeoutS) * time.Second
	}
	writeTimeout := time.Duration(0)
	if c.cfg.TCPWriteTimeoutS > 0 {
		writeTimeout = time.Duration(c.cfg.TCPWriteTimeoutS) * time.Second
	}

	sess := session.New(idx, conn, readTimeout, writeTimeout, c.sessionEvent)
	c.table.Put(idx, sess)
	c.stats.sessionsOpened.Add(1)
	c.log.Debugf("client: accepted connection, idx=%d", idx)
}

func (c *Client) handleSessionEvent(ev session.Event) {
	if _, ok := c.table.Get(ev.ConnIdx); !ok {
		// Session already removed; this is a stale event from a
		// goroutine that raced the removal.
		return
	}

	if ev.Err != nil {
		c.closeLocalSession(ev.ConnIdx)
		return
	}

	c.stats.bytesUpstream.Add(uint64(len(ev.Data)))
	for _, chunk := range wire.Chunks(ev.Data) {
		frame := wire.EncodeData(nil, ev.ConnIdx, chunk)
		if err := c.engine.Send(frame); err != nil {
			c.log.Fatalf("client: rdp send rejected: %v", err)
		}
	}
}

// closeLocalSession removes idx from the table (which closes its socket)
// and notifies the upstream server so both sides converge.
func (c *Client) closeLocalSession(idx uint16) {
	c.table.Remove(idx)
	c.stats.sessionsClosed.Add(1)
	if err := c.engine.Send(wire.EncodeCloseConn(idx)); err != nil {
		c.log.Fatalf("client: rdp send rejected: %v", err)
	}
}

// handleRDPMessage implements the inbound RDP -> TCP path: feed the
// delivered bytes into the frame assembler and dispatch every complete
// frame it yields.
func (c *Client) handleRDPMessage(data []byte) {
	c.asm.Feed(data)
	for {
		frame, ok := c.asm.Next()
		if !ok {
			break
		}
		c.dispatchFrame(frame)
	}
}

func (c *Client) dispatchFrame(frame wire.Frame) {
	if frame.IsControl() {
		typ, ok := wire.Type(frame.Body)
		if !ok {
			return
		}
		switch typ {
		case wire.CtrlCloseConn:
			target, ok := wire.CloseConnTarget(frame.Body)
			if !ok {
				c.log.Warnf("client: malformed CLOSE_CONN control frame")
				return
			}
			if !c.table.Remove(target) {
				c.log.Warnf("client: CLOSE_CONN for unknown idx=%d", target)
				return
			}
			c.stats.sessionsClosed.Add(1)
		case wire.CtrlKeepAlive:
			// no response required
		default:
			c.log.Warnf("client: unknown control type=%d", typ)
		}
		return
	}

	sess, ok := c.table.Get(frame.ConnIdx)
	if !ok {
		if err := c.engine.Send(wire.EncodeCloseConn(frame.ConnIdx)); err != nil {
			c.log.Fatalf("client: rdp send rejected: %v", err)
		}
		return
	}
	c.stats.bytesDownstream.Add(uint64(len(frame.Body)))
	if err := sess.Write(frame.Body); err != nil {
		c.log.Debugf("client: write to session idx=%d failed: %v", frame.ConnIdx, err)
	}
}

// drainSessions implements the shutdown sequence's first steps: disable the
// listener, close every live session, and notify the upstream of each
// close.
func (c *Client) drainSessions() {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	for _, idx := range c.table.Indices() {
		c.closeLocalSession(idx)
	}
}

// Stop begins graceful shutdown: no further accepts, every live session is
// closed and its close notified upstream, then a drain window lets the RDP
// engine actually transmit the pending close frames before Run returns.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopOnce)
}

// Close releases the RDP engine and the UDP socket. Call after Run has
// returned (or after a failed Connect).
func (c *Client) Close() error {
	var firstErr error
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.udpConn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stats returns a snapshot of the client's diagnostic counters.
func (c *Client) Stats() StatsSnapshot {
	return StatsSnapshot{
		SessionsOpened:   c.stats.sessionsOpened.Load(),
		SessionsClosed:   c.stats.sessionsClosed.Load(),
		BytesUpstream:    c.stats.bytesUpstream.Load(),
		BytesDownstream:  c.stats.bytesDownstream.Load(),
		HandshakeRetries: c.stats.handshakeRetries.Load(),
	}
}
