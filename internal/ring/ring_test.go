package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew_RoundsToPowerOfTwo verifies capacity and limit rounding.
func TestNew_RoundsToPowerOfTwo(t *testing.T) {
	b := New(10, 100)
	assert.Equal(t, 16, b.Cap())
	assert.Equal(t, 128, b.Limit())

	fixed := New(64, 1)
	assert.Equal(t, 64, fixed.Limit())
}

// TestBuffer_WrapAround verifies that a write spanning the end is read back intact.
func TestBuffer_WrapAround(t *testing.T) {
	b := New(8, 8)
	_, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, b.Discard(4))

	_, err = b.Write([]byte("ghij"))
	require.NoError(t, err)
	assert.Equal(t, []byte("efghij"), b.Peek(10))
	assert.Equal(t, 8, b.Cap())
}

// TestBuffer_GrowKeepsData verifies that growing preserves unread bytes in order.
func TestBuffer_GrowKeepsData(t *testing.T) {
	b := New(4, 64)
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	b.Discard(2)

	_, err = b.Write([]byte("defghijk"))
	require.NoError(t, err)
	assert.Equal(t, 16, b.Cap())
	assert.Equal(t, "cdefghijk", string(b.Peek(b.Len())))
}

// TestBuffer_TooLarge verifies that exceeding the limit writes nothing.
func TestBuffer_TooLarge(t *testing.T) {
	b := New(4, 8)
	_, err := b.Write([]byte("abcd"))
	require.NoError(t, err)

	n, err := b.Write([]byte("efghi"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, n)
	assert.Equal(t, "abcd", string(b.Peek(8)))
}

// TestBuffer_DiscardResets verifies that draining the buffer rewinds the positions.
func TestBuffer_DiscardResets(t *testing.T) {
	b := New(8, 8)
	_, _ = b.Write([]byte("xyz"))
	assert.Equal(t, 3, b.Discard(10))
	assert.Zero(t, b.Len())
	assert.Equal(t, 0, b.readPos)
	assert.Equal(t, 0, b.writePos)
}
