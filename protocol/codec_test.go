package protocol

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	api     uint16
	payload string
}

func collect(out *[]received) func(uint16, []byte) error {
	return func(api uint16, payload []byte) error {
		*out = append(*out, received{api, string(payload)})
		return nil
	}
}

// TestParser_StreamOfMixedFrames verifies plain, compressed and batched frames
// in one buffer are all delivered in order.
func TestParser_StreamOfMixedFrames(t *testing.T) {
	enc := NewEncoder()
	var stream []byte
	f1, err := enc.EncodeSingle(1, []byte("plain"), false)
	require.NoError(t, err)
	f2, err := enc.EncodeSingle(2, bytes.Repeat([]byte("z"), 1000), true)
	require.NoError(t, err)
	f3, err := enc.EncodeBatch([]BatchItem{{Api: 3, Payload: []byte("a")}, {Api: 4, Payload: nil}})
	require.NoError(t, err)
	stream = append(append(append(stream, f1...), f2...), f3...)

	var got []received
	n, err := NewParser(0).Parse(stream, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, len(stream), n)
	assert.Equal(t, []received{
		{1, "plain"},
		{2, string(bytes.Repeat([]byte("z"), 1000))},
		{3, "a"},
		{4, ""},
	}, got)
	assert.Less(t, len(f2), 1000)
}

// TestParser_IncompleteFrame verifies that a truncated tail is left unconsumed.
func TestParser_IncompleteFrame(t *testing.T) {
	enc := NewEncoder()
	f1, _ := enc.EncodeSingle(7, []byte("first"), false)
	f2, _ := enc.EncodeSingle(8, []byte("second"), false)
	stream := append(append([]byte{}, f1...), f2[:len(f2)-2]...)

	var got []received
	n, err := NewParser(0).Parse(stream, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, len(f1), n)
	assert.Equal(t, []received{{7, "first"}}, got)
}

// TestParser_MaxPayload verifies the limit for plain and compressed frames.
func TestParser_MaxPayload(t *testing.T) {
	enc := NewEncoder()
	big := bytes.Repeat([]byte("x"), 128)

	plain, _ := enc.EncodeSingle(1, big, false)
	_, err := NewParser(64).Parse(plain, collect(new([]received)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	packed, _ := enc.EncodeSingle(1, big, true)
	_, err = NewParser(64).Parse(packed, collect(new([]received)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	batch, _ := enc.EncodeBatch([]BatchItem{{Api: 1, Payload: big}})
	_, err = NewParser(64).Parse(batch, collect(new([]received)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

// zeroStream 以流式编码 n 字节的 prefix+0，返回压缩体，不在内存中展开原文。
func zeroStream(t *testing.T, prefix []byte, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	require.NoError(t, err)
	_, err = zw.Write(prefix)
	require.NoError(t, err)
	chunk := make([]byte, 1<<20)
	for left := n; left > 0; left -= len(chunk) {
		_, err = zw.Write(chunk[:min(left, len(chunk))])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func allocDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

// TestParser_DecompressionIsBounded verifies a small compressed frame that
// expands far past the limit is rejected without inflating it in full.
func TestParser_DecompressionIsBounded(t *testing.T) {
	const expanded = 64 << 20
	prs := NewParser(1 << 20)

	body := zeroStream(t, nil, expanded)
	single, err := AppendLenFlags(nil, len(body), true, false)
	require.NoError(t, err)
	single = append(AppendApi(single, 9), body...)
	require.Less(t, len(single), 1<<20)

	var perr error
	alloc := allocDuring(func() {
		_, perr = prs.Parse(single, collect(new([]received)))
	})
	assert.ErrorIs(t, perr, ErrPayloadTooLarge)
	assert.Less(t, alloc, uint64(32<<20))

	// 批前镜像：1 条消息，声明长度等于展开后的长度
	pre := binary.AppendUvarint(nil, 1)
	pre = AppendApi(pre, 9)
	pre = binary.AppendUvarint(pre, expanded)
	body = zeroStream(t, pre, expanded)
	batch, err := AppendLenFlags(nil, len(body), true, true)
	require.NoError(t, err)
	batch = append(batch, body...)

	alloc = allocDuring(func() {
		_, perr = prs.Parse(batch, collect(new([]received)))
	})
	assert.ErrorIs(t, perr, ErrPayloadTooLarge)
	assert.Less(t, alloc, uint64(32<<20))
}

// TestParser_BatchWithinLimit verifies a batch whose total exceeds MaxPayload
// but not MaxBatch is still delivered.
func TestParser_BatchWithinLimit(t *testing.T) {
	enc := NewEncoder()
	item := bytes.Repeat([]byte("y"), 60)
	frame, err := enc.EncodeBatch([]BatchItem{{Api: 1, Payload: item}, {Api: 2, Payload: item}, {Api: 3, Payload: item}})
	require.NoError(t, err)

	var got []received
	n, err := NewParser(64).Parse(frame, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Len(t, got, 3)
}
