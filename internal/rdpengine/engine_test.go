package rdpengine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback creates two engines on real loopback UDP sockets talking to each
// other under the same conversation id, since kcp-go only moves bytes
// through an actual net.PacketConn.
func loopback(t *testing.T, conv uint32) (a, b *Engine) {
	t.Helper()
	connA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { connA.Close() })

	connB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { connB.Close() })

	a, err = New(conv, connA, connB.LocalAddr())
	require.NoError(t, err)
	b, err = New(conv, connB, connA.LocalAddr())
	require.NoError(t, err)

	for _, e := range []*Engine{a, b} {
		e.SetWindow(256, 256)
		e.SetMode(1, 10, 2, 1)
	}
	return a, b
}

func TestEngineSendRecvRoundTrip(t *testing.T) {
	a, b := loopback(t, 0x11223344)

	require.NoError(t, a.Send([]byte("hello")))

	buf := make([]byte, 2048)
	done := make(chan struct{})
	var n int
	var recvErr error
	go func() {
		n, recvErr = b.Recv(buf)
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, recvErr)
		assert.Equal(t, "hello", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestEngineRecvBlocksUntilClose(t *testing.T) {
	_, b := loopback(t, 7)
	buf := make([]byte, 64)
	done := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = b.Recv(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("recv returned before anything was sent or closed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, b.Close())
	select {
	case <-done:
		assert.Error(t, recvErr)
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not unblock after close")
	}
}

func TestEngineConv(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	e, err := New(99, conn, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(99), e.Conv())
}
