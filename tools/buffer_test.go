package tools

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMBufferWriteRead(t *testing.T) {
	b := NewPCMBuffer(16)
	assert.Zero(t, b.Write([]byte{1, 2, 3, 4}))
	assert.Equal(t, 4, b.Len())

	p := make([]byte, 8)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, p[:n])
	assert.Zero(t, b.Len())
}

func TestPCMBufferDropsOldest(t *testing.T) {
	b := NewPCMBuffer(4)
	b.Write([]byte{1, 2, 3, 4})
	dropped := b.Write([]byte{5, 6})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 4, b.Len())

	p := make([]byte, 4)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, p[:n])
}

func TestPCMBufferOversizedWrite(t *testing.T) {
	b := NewPCMBuffer(4)
	dropped := b.Write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 2, dropped)

	p := make([]byte, 4)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, p[:n])
}

func TestPCMBufferClear(t *testing.T) {
	b := NewPCMBuffer(16)
	b.Write([]byte{1, 2, 3})
	b.Clear()
	assert.Zero(t, b.Len())

	// Still usable after Clear.
	b.Write([]byte{9})
	p := make([]byte, 1)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, p[:n])
}

func TestPCMBufferReadBlocksUntilWrite(t *testing.T) {
	b := NewPCMBuffer(16)
	got := make(chan []byte, 1)
	go func() {
		p := make([]byte, 4)
		n, err := b.Read(p)
		if err != nil {
			got <- nil
			return
		}
		got <- p[:n]
	}()

	select {
	case <-got:
		t.Fatal("read returned before any write")
	case <-time.After(10 * time.Millisecond):
	}

	b.Write([]byte{7, 8})
	select {
	case p := <-got:
		assert.Equal(t, []byte{7, 8}, p)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock")
	}
}

func TestPCMBufferCloseUnblocksRead(t *testing.T) {
	b := NewPCMBuffer(16)
	errC := make(chan error, 1)
	go func() {
		p := make([]byte, 4)
		_, err := b.Read(p)
		errC <- err
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock on close")
	}
}

func TestPCMBufferDrainsBeforeEOF(t *testing.T) {
	b := NewPCMBuffer(16)
	b.Write([]byte{1, 2})
	require.NoError(t, b.Close())

	p := make([]byte, 4)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, p[:n])

	_, err = b.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPCMBufferWriteAfterClose(t *testing.T) {
	b := NewPCMBuffer(16)
	require.NoError(t, b.Close())
	assert.Zero(t, b.Write([]byte{1}))
	assert.Zero(t, b.Len())
}
