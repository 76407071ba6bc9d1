// Package session implements one accepted local TCP connection: a
// connection index, read/write timeouts, and a background reader that
// hands complete reads to the client event loop over a channel.
package session

import (
	"net"
	"sync"
	"time"
)

const readBufSize = 64 * 1024

var readBufPool = sync.Pool{
	New: func() interface{} { return make([]byte, readBufSize) },
}

// Event is what a session's reader goroutine reports to the event loop.
// Exactly one of Data or Err is meaningful: Err set means EOF, a socket
// error, or a read timeout fired, and the session should be torn down
// (spec.md §4.C).
type Event struct {
	ConnIdx uint16
	Data    []byte
	Err     error
}

// TCPSession represents one accepted local TCP connection. It is created on
// accept and destroyed on remote EOF, local error, timeout, server-initiated
// close, or shutdown (spec.md §3). It holds only its connection index back
// to the owning table/client, never a pointer to the Client itself, so a
// late event can always be resolved via table lookup (spec.md §9).
type TCPSession struct {
	ConnIdx uint16

	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	events       chan<- Event
}

// New wraps an accepted connection. events is the shared channel the event
// loop drains; the session's reader goroutine is started immediately.
func New(idx uint16, conn net.Conn, readTimeout, writeTimeout time.Duration, events chan<- Event) *TCPSession {
	s := &TCPSession{
		ConnIdx:      idx,
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		events:       events,
	}
	go s.readLoop()
	return s
}

// readLoop drains readable bytes and forwards each read as one Event,
// matching the "readable -> drain all available bytes, hand to the
// multiplexer as one payload" rule in spec.md §4.C. It exits, sending a
// final Event carrying the terminal error, on EOF/error/timeout.
func (s *TCPSession) readLoop() {
	buf := readBufPool.Get().([]byte)
	defer readBufPool.Put(buf)
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		} else {
			_ = s.conn.SetReadDeadline(time.Time{})
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.events <- Event{ConnIdx: s.ConnIdx, Data: data}
		}
		if err != nil {
			s.events <- Event{ConnIdx: s.ConnIdx, Err: err}
			return
		}
	}
}

// Write sends payload downstream to the local TCP client, applying the
// configured write timeout.
func (s *TCPSession) Write(payload []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	_, err := s.conn.Write(payload)
	return err
}

// Close tears down the underlying socket. Safe to call more than once.
func (s *TCPSession) Close() error {
	return s.conn.Close()
}
