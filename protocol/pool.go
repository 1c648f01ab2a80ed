package protocol

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstd 编解码器创建成本高，按 goroutine 复用
var (
	encoderPool = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("protocol: create zstd encoder: %v", err))
		}
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(LongHeaderMaxLen))
		if err != nil {
			panic(fmt.Sprintf("protocol: create zstd decoder: %v", err))
		}
		return dec
	}}
)

func getEncoder() *zstd.Encoder  { return encoderPool.Get().(*zstd.Encoder) }
func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }
func getDecoder() *zstd.Decoder  { return decoderPool.Get().(*zstd.Decoder) }
func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }
