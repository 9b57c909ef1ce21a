package shared

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferHook struct {
	sb     strings.Builder
	closed bool
}

func (h *bufferHook) WriteString(s string) (int, error) {
	return h.sb.WriteString(s)
}

func (h *bufferHook) Close() error {
	h.closed = true
	return nil
}

func TestNewPrinterRequiresHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	hook := new(bufferHook)
	p, err := NewPrinter("  ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("first\nsecond", 2))
	assert.Equal(t, "    first\n    second\n", hook.sb.String())
}

func TestPrinterZeroIndent(t *testing.T) {
	hook := new(bufferHook)
	p, err := NewPrinter("\t", hook)
	require.NoError(t, err)

	require.NoError(t, p.Write("plain", 0))
	assert.Equal(t, "plain", hook.sb.String())
}

func TestPrinterFansOut(t *testing.T) {
	a, b := new(bufferHook), new(bufferHook)
	p, err := NewPrinter("..", a, b)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("hi", 1))
	assert.Equal(t, "..hi\n", a.sb.String())
	assert.Equal(t, "..hi\n", b.sb.String())

	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
