package mux

import (
	"errors"

	"github.com/lake2010/BtcTunnel/internal/wire"
)

// Assembler accumulates RDP-delivered bytes and peels complete frames off
// the front. At any call-site boundary its buffer holds zero or more
// complete frames followed by at most one partial prefix (spec.md §3).
type Assembler struct {
	buf []byte
}

// Feed appends newly received bytes to the assembly buffer.
func (a *Assembler) Feed(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Next attempts to parse one complete frame from the front of the buffer.
// It reports ok=false once fewer than 4 bytes, or fewer than the frame's
// declared length, remain (wire.ErrIncomplete) — a normal condition while
// more bytes are still in flight.
//
// A declared length below the header size (wire.ErrTooShort) is different:
// it is not a partial frame waiting on more bytes, it is corrupt, and since
// the framing has no resync marker there is no trustworthy byte to resume
// parsing from within the buffered prefix. Rather than treat it like
// ErrIncomplete and wait forever on bytes that will never complete a valid
// frame, Next discards the whole buffer and reports ok=false; parsing
// resumes cleanly from the next Feed.
func (a *Assembler) Next() (frame wire.Frame, ok bool) {
	f, n, err := wire.Parse(a.buf)
	if err != nil {
		if errors.Is(err, wire.ErrTooShort) {
			a.buf = nil
		}
		return wire.Frame{}, false
	}
	// Body aliases a.buf; copy it out before we advance the buffer so
	// callers can safely retain it past the next Feed/Next call.
	body := make([]byte, len(f.Body))
	copy(body, f.Body)
	a.buf = a.buf[n:]
	return wire.Frame{ConnIdx: f.ConnIdx, Body: body}, true
}

// Len reports the number of unparsed bytes currently buffered.
func (a *Assembler) Len() int { return len(a.buf) }
