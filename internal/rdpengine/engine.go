// Package rdpengine adapts github.com/xtaci/kcp-go/v5's reliable-UDP
// session to the narrow contract the multiplexer needs: create, recv, send,
// set_window/set_mode. It holds no policy of its own — chunking, framing,
// and dispatch all live in the multiplexer (internal/mux) and the client
// event loop.
//
// kcp-go's retransmission/flush scheduling is driven entirely inside
// package kcp by its own background scheduler once a session exists; there
// is no exported hook to drive that clock from outside the package, so
// this adapter binds to the high-level *kcp.UDPSession (via NewConn3, which
// accepts a caller-owned net.PacketConn and a fixed conversation id)
// instead of the unexported low-level state machine.
package rdpengine

import (
	"net"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
)

// Engine drives one RDP (KCP) conversation over a caller-owned
// net.PacketConn. Send and Recv are each safe to call from their own
// goroutine (one writer, one reader), matching kcp-go's own concurrency
// contract for *UDPSession.
type Engine struct {
	conv uint32
	sess *kcp.UDPSession
}

// New creates an engine for the given conversation id, reusing conn (which
// must already be connected to nobody — it retains its own local address)
// to reach raddr. conn is not closed by the engine; the caller remains
// responsible for it. kcp-go spawns its own goroutine reading from conn
// once the session exists, so callers must not also read from conn
// themselves afterward.
func New(conv uint32, conn net.PacketConn, raddr net.Addr) (*Engine, error) {
	sess, err := kcp.NewConn3(conv, raddr, nil, 0, 0, conn)
	if err != nil {
		return nil, errors.Wrap(err, "rdpengine: creating session")
	}
	sess.SetStreamMode(false) // message mode: one Send is one Recv, not a byte stream
	return &Engine{conv: conv, sess: sess}, nil
}

// SetWindow sets the send/receive window sizes, in packets.
func (e *Engine) SetWindow(send, recv int) {
	e.sess.SetWindowSize(send, recv)
}

// SetMode configures the nodelay/fast-resend/no-congestion tuning.
func (e *Engine) SetMode(nodelay, intervalMs, fastResend, noCongestion int) {
	e.sess.SetNoDelay(nodelay, intervalMs, fastResend, noCongestion)
}

// Send enqueues data for reliable delivery as a single application message.
// A rejection here indicates corrupted engine state and is programmer-fatal
// for callers — log at FATAL, not retry.
func (e *Engine) Send(data []byte) error {
	_, err := e.sess.Write(data)
	if err != nil {
		return errors.Wrap(err, "rdpengine: send")
	}
	return nil
}

// Recv blocks until the next complete application message is available and
// copies it into buf, returning its length. It returns a non-nil error only
// when the underlying session is closed; callers should treat that as
// terminal, not retry. buf should be sized generously (>= 2KiB): a message
// larger than buf is returned in pieces, its first len(buf) bytes by this
// call and the rest by the following calls.
func (e *Engine) Recv(buf []byte) (n int, err error) {
	n, err = e.sess.Read(buf)
	if err != nil {
		return 0, errors.Wrap(err, "rdpengine: recv")
	}
	return n, nil
}

// Close releases the underlying KCP session. It does not close the
// net.PacketConn passed to New.
func (e *Engine) Close() error {
	return e.sess.Close()
}

// Conv returns the conversation id this engine was created with.
func (e *Engine) Conv() uint32 { return e.conv }
