package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	closed  bool
	written [][]byte
}

func (f *fakeSession) Write(p []byte) error {
	f.written = append(f.written, p)
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestNextIndexStartsAtTwo(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, uint16(2), tbl.NextIndex())
	assert.Equal(t, uint16(3), tbl.NextIndex())
}

func TestPutGetRemove(t *testing.T) {
	tbl := NewTable()
	idx := tbl.NextIndex()
	sess := &fakeSession{}
	tbl.Put(idx, sess)

	got, ok := tbl.Get(idx)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, tbl.Len())

	assert.True(t, tbl.Remove(idx))
	assert.True(t, sess.closed)
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Get(idx)
	assert.False(t, ok)
}

func TestRemoveUnknownIndexIsNoop(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.Remove(999))
}

func TestPutDuplicateIndexPanics(t *testing.T) {
	tbl := NewTable()
	idx := tbl.NextIndex()
	tbl.Put(idx, &fakeSession{})
	assert.Panics(t, func() {
		tbl.Put(idx, &fakeSession{})
	})
}

func TestTwoConcurrentStreamsAreIndependent(t *testing.T) {
	tbl := NewTable()
	idx1 := tbl.NextIndex()
	idx2 := tbl.NextIndex()
	assert.NotEqual(t, idx1, idx2)

	s1, s2 := &fakeSession{}, &fakeSession{}
	tbl.Put(idx1, s1)
	tbl.Put(idx2, s2)

	tbl.Remove(idx1)
	assert.True(t, s1.closed)
	assert.False(t, s2.closed)
	_, ok := tbl.Get(idx2)
	assert.True(t, ok)
}

func TestIndicesListsAllLiveSessions(t *testing.T) {
	tbl := NewTable()
	a, b := tbl.NextIndex(), tbl.NextIndex()
	tbl.Put(a, &fakeSession{})
	tbl.Put(b, &fakeSession{})
	assert.ElementsMatch(t, []uint16{a, b}, tbl.Indices())
}
