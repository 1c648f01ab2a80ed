package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var ErrPayloadTooLarge = errors.New("protocol: payload too large")

// BatchItem 是批量帧中的一条消息。
type BatchItem struct {
	Api     uint16
	Payload []byte
}

// Encoder 提供单帧/批量帧编码，无状态，可被多个连接共享。
// 批量帧总是压缩（Batched => Compressed）。
type Encoder struct{}

func NewEncoder() *Encoder { return &Encoder{} }

// AppendSingle 追加一个单帧：头部 + api + payload（可选 zstd 压缩）。
func (e *Encoder) AppendSingle(dst []byte, api uint16, payload []byte, compressed bool) ([]byte, error) {
	body := payload
	if compressed {
		zw := getEncoder()
		body = zw.EncodeAll(payload, nil)
		putEncoder(zw)
	}
	dst, err := AppendLenFlags(dst, len(body), compressed, false)
	if err != nil {
		return dst, err
	}
	dst = AppendApi(dst, api)
	return append(dst, body...), nil
}

// EncodeSingle 返回新分配的单帧。
func (e *Encoder) EncodeSingle(api uint16, payload []byte, compressed bool) ([]byte, error) {
	return e.AppendSingle(make([]byte, 0, MaxHeaderLen+len(payload)), api, payload, compressed)
}

// EncodeBatch 将一批消息编码为批前镜像并压缩，返回单帧（无 Api 字段）。
// 批前镜像：uvarint(count) 后接 count 个 {api(BE16) uvarint(len) payload}。
func (e *Encoder) EncodeBatch(items []BatchItem) ([]byte, error) {
	var pre bytes.Buffer
	pre.Write(binary.AppendUvarint(nil, uint64(len(items))))
	for _, it := range items {
		pre.Write(AppendApi(nil, it.Api))
		pre.Write(binary.AppendUvarint(nil, uint64(len(it.Payload))))
		pre.Write(it.Payload)
	}
	zw := getEncoder()
	body := zw.EncodeAll(pre.Bytes(), nil)
	putEncoder(zw)
	out, err := AppendLenFlags(make([]byte, 0, 4+len(body)), len(body), true, true)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

// BatchLimitFactor 是批量帧解压后总长相对 MaxPayload 的倍数上限
const BatchLimitFactor = 4

// Parser 按帧解析；批量帧解压后逐条回调。
// MaxPayload>0 时，单条消息（解压后）超过该值返回 ErrPayloadTooLarge，
// 解压过程本身也受该上限约束，批量帧整体不超过 MaxBatch。
type Parser struct {
	MaxPayload int
	MaxBatch   int
}

func NewParser(maxPayload int) *Parser {
	return &Parser{MaxPayload: maxPayload, MaxBatch: max(maxPayload, 0) * BatchLimitFactor}
}

func (p *Parser) tooLarge(n int) bool { return p.MaxPayload > 0 && n > p.MaxPayload }

// limit 把未设置的上限换成协议允许的最大长度
func limit(n int) int {
	if n <= 0 {
		return LongHeaderMaxLen
	}
	return n
}

// Parse 尽可能多地解析 buf 中的完整帧，返回已消费字节数。
// 不完整的尾帧不算错误，留给调用方累积更多数据后重试。
// 回调收到的 payload 可能指向 buf 内部，需要保留时应自行拷贝。
func (p *Parser) Parse(buf []byte, onMessage func(api uint16, payload []byte) error) (consumed int, _ error) {
	i := 0
	for len(buf[i:]) >= 2 {
		c, length, compressed, batched, err := DecodeLenFlags(buf[i:])
		if err == ErrHeaderTooShort {
			return i, nil
		}
		if err != nil {
			return i, err
		}
		// 压缩帧的压缩体不会比上限大太多，这里先挡住明显超限的长度
		if !compressed && p.tooLarge(length) {
			return i, ErrPayloadTooLarge
		}
		if !batched {
			if len(buf[i+c:]) < 2+length {
				return i, nil
			}
			api := binary.BigEndian.Uint16(buf[i+c : i+c+2])
			msg := buf[i+c+2 : i+c+2+length]
			if compressed {
				if msg, err = decompress(msg, limit(p.MaxPayload)); err != nil {
					return i, err
				}
			}
			if err := onMessage(api, msg); err != nil {
				return i, err
			}
			i += c + 2 + length
			continue
		}
		if len(buf[i+c:]) < length {
			return i, nil
		}
		out, err := decompress(buf[i+c:i+c+length], limit(p.MaxBatch))
		if err != nil {
			return i, err
		}
		if err := p.parseBatch(out, onMessage); err != nil {
			return i, err
		}
		i += c + length
	}
	return i, nil
}

// decompress 流式解压 b，输出超过 ceiling 字节即停止并返回 ErrPayloadTooLarge。
func decompress(b []byte, ceiling int) ([]byte, error) {
	dz := getDecoder()
	defer func() {
		_ = dz.Reset(nil)
		putDecoder(dz)
	}()
	if err := dz.Reset(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	n, err := out.ReadFrom(io.LimitReader(dz, int64(ceiling)+1))
	if err != nil {
		return nil, err
	}
	if n > int64(ceiling) {
		return nil, ErrPayloadTooLarge
	}
	return out.Bytes(), nil
}

func (p *Parser) parseBatch(pre []byte, onMessage func(api uint16, payload []byte) error) error {
	r := bytes.NewReader(pre)
	num, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for j := uint64(0); j < num; j++ {
		var ab [2]byte
		if _, err := io.ReadFull(r, ab[:]); err != nil {
			return err
		}
		ln, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		if ln > uint64(r.Len()) {
			return io.ErrUnexpectedEOF
		}
		if p.tooLarge(int(ln)) {
			return ErrPayloadTooLarge
		}
		msg := make([]byte, ln)
		if _, err := io.ReadFull(r, msg); err != nil {
			return err
		}
		if err := onMessage(binary.BigEndian.Uint16(ab[:]), msg); err != nil {
			return err
		}
	}
	return nil
}
