package session

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLoopDeliversDataThenEOF(t *testing.T) {
	client, server := net.Pipe()
	events := make(chan Event, 8)
	sess := New(2, server, 0, 0, events)

	go func() {
		_, _ = client.Write([]byte("hello"))
		_ = client.Close()
	}()

	ev := <-events
	require.NoError(t, ev.Err)
	assert.Equal(t, uint16(2), ev.ConnIdx)
	assert.Equal(t, "hello", string(ev.Data))

	ev = <-events
	assert.ErrorIs(t, ev.Err, io.EOF)

	_ = sess.Close()
}

func TestWriteDeliversToPeer(t *testing.T) {
	client, server := net.Pipe()
	events := make(chan Event, 8)
	sess := New(3, server, 0, 0, events)
	defer sess.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, sess.Write([]byte("world")))
	}()

	buf := make([]byte, 5)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))
	<-done
}

func TestReadTimeoutProducesErrEvent(t *testing.T) {
	_, server := net.Pipe()
	events := make(chan Event, 8)
	sess := New(4, server, 20*time.Millisecond, 0, events)
	defer sess.Close()

	select {
	case ev := <-events:
		assert.Error(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a timeout event")
	}
}
