// Package mux tracks the mapping between connection indices and local TCP
// sessions and assigns fresh indices to newly accepted connections. It holds
// no I/O of its own; the client event loop is its only caller, so it needs
// no locking (spec.md §5).
package mux

// Session is the subset of TCPSession behaviour the table needs: writing an
// inbound delivery downstream and tearing the session down on removal.
// internal/session.TCPSession implements it.
type Session interface {
	Write(payload []byte) error
	Close() error
}

// Table maps connection index to session with unique keys. The zero value
// is not usable; use NewTable.
type Table struct {
	sessions map[uint16]Session
	next     uint16 // starts at 1; first assigned index is 2 (0 is reserved)
}

// NewTable returns an empty table whose index counter starts at 1, so the
// first call to NextIndex returns 2 — 0 is reserved for control frames and
// 1 is never handed out, matching the observed behaviour codified in
// spec.md §9's Open Question.
func NewTable() *Table {
	return &Table{sessions: make(map[uint16]Session), next: 1}
}

// NextIndex allocates the next connection index. Wraparound is permitted;
// the table remains the source of truth for liveness (spec.md §3).
func (t *Table) NextIndex() uint16 {
	t.next++
	return t.next
}

// Put inserts a session under idx. It panics if idx already has a live
// session — that would violate the table's uniqueness invariant and points
// at a bug in the caller (index reuse before removal).
func (t *Table) Put(idx uint16, s Session) {
	if _, exists := t.sessions[idx]; exists {
		panic("mux: connection index already in use")
	}
	t.sessions[idx] = s
}

// Get looks up the session for idx.
func (t *Table) Get(idx uint16) (Session, bool) {
	s, ok := t.sessions[idx]
	return s, ok
}

// Remove deletes and closes the session for idx, if present. It reports
// whether a session was found.
func (t *Table) Remove(idx uint16) bool {
	s, ok := t.sessions[idx]
	if !ok {
		return false
	}
	delete(t.sessions, idx)
	_ = s.Close()
	return true
}

// Len returns the number of live sessions.
func (t *Table) Len() int { return len(t.sessions) }

// Indices returns all live connection indices, in no particular order. Used
// by shutdown to drain every session.
func (t *Table) Indices() []uint16 {
	out := make([]uint16, 0, len(t.sessions))
	for idx := range t.sessions {
		out = append(out, idx)
	}
	return out
}
