// Package codec 提供基于 protocol 帧格式的流水线编解码阶段。
//
// FrameDecoder 有状态，每条连接一个；FrameEncoder 无状态，可作为单例在所有连接间共享。
package codec

import (
	"errors"
	"fmt"

	"github.com/legamerdc/gserve/internal/ring"
	"github.com/legamerdc/gserve/pipeline"
	"github.com/legamerdc/gserve/protocol"
)

const (
	// DefaultMaxPayload 单条消息默认上限
	DefaultMaxPayload = 16 << 20
	// DefaultReadSlack 一次读入的最大字节数，累积缓冲需要为其留出余量
	DefaultReadSlack = 64 << 10

	initialBuffer = 4 << 10
)

var ErrFrameTooLarge = errors.New("codec: frame too large")

// Message 是解码后的一条消息，也是编码器接受的输入。
type Message struct {
	API     uint16
	Payload []byte
	// Compress 强制对该条消息做 zstd 压缩
	Compress bool
}

// FrameDecoder 把字节流切分为 Message，跨多次读取累积半包。
type FrameDecoder struct {
	pipeline.InboundAdapter
	buf *ring.Buffer
	prs *protocol.Parser
}

// NewFrameDecoder 创建解码器；maxPayload<=0 使用默认上限，readSlack<=0 使用默认读入余量。
func NewFrameDecoder(maxPayload, readSlack int) *FrameDecoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if readSlack <= 0 {
		readSlack = DefaultReadSlack
	}
	return &FrameDecoder{
		buf: ring.New(initialBuffer, maxPayload+protocol.MaxHeaderLen+readSlack),
		prs: protocol.NewParser(maxPayload),
	}
}

func (d *FrameDecoder) OnRead(ctx *pipeline.Context, msg any) {
	b, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	in := b
	cumulated := d.buf.Len() > 0
	if cumulated {
		if _, err := d.buf.Write(b); err != nil {
			d.fail(ctx, ErrFrameTooLarge)
			return
		}
		in = d.buf.Peek(d.buf.Len())
	}
	n, err := d.prs.Parse(in, func(api uint16, payload []byte) error {
		ctx.FireRead(Message{API: api, Payload: append([]byte(nil), payload...)})
		return nil
	})
	if err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			err = ErrFrameTooLarge
		}
		d.fail(ctx, err)
		return
	}
	if cumulated {
		d.buf.Discard(n)
		return
	}
	if rest := in[n:]; len(rest) > 0 {
		if _, err := d.buf.Write(rest); err != nil {
			d.fail(ctx, ErrFrameTooLarge)
		}
	}
}

func (d *FrameDecoder) OnInactive(ctx *pipeline.Context, err error) {
	d.buf.Reset()
	ctx.FireInactive(err)
}

// Buffered 返回尚未凑成完整帧的字节数。
func (d *FrameDecoder) Buffered() int { return d.buf.Len() }

func (d *FrameDecoder) fail(ctx *pipeline.Context, err error) {
	d.buf.Reset()
	ctx.FireError(fmt.Errorf("codec: decode: %w", err))
}

// FrameEncoder 把 Message / []Message 编码为帧，其余消息原样向前传递。
type FrameEncoder struct {
	enc *protocol.Encoder
	// CompressAbove>0 时，payload 超过该长度自动压缩
	CompressAbove int
}

// SharedEncoder 是不自动压缩的共享编码器。
var SharedEncoder = NewFrameEncoder(0)

func NewFrameEncoder(compressAbove int) *FrameEncoder {
	return &FrameEncoder{enc: protocol.NewEncoder(), CompressAbove: compressAbove}
}

func (e *FrameEncoder) compress(m Message) bool {
	return m.Compress || (e.CompressAbove > 0 && len(m.Payload) > e.CompressAbove)
}

func (e *FrameEncoder) Write(ctx *pipeline.Context, msg any) error {
	switch m := msg.(type) {
	case Message:
		return e.writeSingle(ctx, m)
	case *Message:
		return e.writeSingle(ctx, *m)
	case []Message:
		items := make([]protocol.BatchItem, len(m))
		for i, it := range m {
			items[i] = protocol.BatchItem{Api: it.API, Payload: it.Payload}
		}
		frame, err := e.enc.EncodeBatch(items)
		if err != nil {
			return fmt.Errorf("codec: encode batch: %w", err)
		}
		return ctx.Write(frame)
	default:
		return ctx.Write(msg)
	}
}

func (e *FrameEncoder) writeSingle(ctx *pipeline.Context, m Message) error {
	frame, err := e.enc.EncodeSingle(m.API, m.Payload, e.compress(m))
	if err != nil {
		return fmt.Errorf("codec: encode api=%d: %w", m.API, err)
	}
	return ctx.Write(frame)
}
