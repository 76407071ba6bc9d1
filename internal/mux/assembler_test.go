package mux

import (
	"testing"

	"github.com/lake2010/BtcTunnel/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerTwoFramesInOneFeed(t *testing.T) {
	var a Assembler
	buf := wire.EncodeData(nil, 2, []byte("first"))
	buf = wire.EncodeData(buf, 3, []byte("second"))
	a.Feed(buf)

	f1, ok := a.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(2), f1.ConnIdx)
	assert.Equal(t, "first", string(f1.Body))

	f2, ok := a.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(3), f2.ConnIdx)
	assert.Equal(t, "second", string(f2.Body))

	_, ok = a.Next()
	assert.False(t, ok)
	assert.Zero(t, a.Len())
}

func TestAssemblerDiscardsBufferOnMalformedLength(t *testing.T) {
	var a Assembler
	// A declared length of 1 is below the 4-byte header and can never be
	// completed by more bytes; Next must report it as unrecoverable rather
	// than waiting on it forever.
	a.Feed([]byte{0x01, 0x00, 0x00, 0x00})

	_, ok := a.Next()
	assert.False(t, ok)
	assert.Zero(t, a.Len(), "corrupt prefix should be discarded, not retained")

	// A subsequent, well-formed frame parses normally once the corrupt
	// prefix is gone.
	a.Feed(wire.EncodeData(nil, 5, []byte("ok")))
	f, ok := a.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(5), f.ConnIdx)
	assert.Equal(t, "ok", string(f.Body))
}

func TestAssemblerFedOneByteAtATime(t *testing.T) {
	var a Assembler
	full := wire.EncodeData(nil, 4, []byte("hello world"))

	for i, b := range full {
		a.Feed([]byte{b})
		_, ok := a.Next()
		if i < len(full)-1 {
			assert.False(t, ok, "byte %d should not complete a frame", i)
		} else {
			assert.True(t, ok)
		}
	}
}
