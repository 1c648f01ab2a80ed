package protocol

import (
	"encoding/binary"
	"errors"
)

// LenFlags 头部编码：
// 短头（2B，BE）：
//
//	bit15: Compressed
//	bit14: Batched (隐含 Compressed=1)
//	bit13: Ext=0 (短头)
//	bit12..0: Len13 (0..8191)
//
// 长头（4B，BE）：
//
//	bit31: Compressed
//	bit30: Batched (隐含 Compressed=1)
//	bit29: Ext=1 (长头)
//	bit28..0: Len29 (0..(1<<29)-1)
//
// 非批量帧在头部之后紧跟 2 字节 Api，Len 不包含 Api。
const (
	ShortHeaderMaxLen = (1 << 13) - 1
	LongHeaderMaxLen  = (1 << 29) - 1

	// MaxHeaderLen 头部加 Api 的最大长度
	MaxHeaderLen = 4 + 2
)

const (
	bitCompressed16 = 1 << 15
	bitBatched16    = 1 << 14
	bitExt16        = 1 << 13

	bitCompressed32 = 1 << 31
	bitBatched32    = 1 << 30
	bitExt32        = 1 << 29
)

var (
	ErrHeaderTooShort   = errors.New("protocol: header too short")
	ErrLengthOutOfRange = errors.New("protocol: length out of range")
)

// AppendLenFlags 把头部追加到 dst，按长度自动选择 2B/4B。
func AppendLenFlags(dst []byte, length int, compressed, batched bool) ([]byte, error) {
	if length < 0 || length > LongHeaderMaxLen {
		return dst, ErrLengthOutOfRange
	}
	if batched {
		compressed = true
	}
	if length <= ShortHeaderMaxLen {
		v := uint16(length)
		if compressed {
			v |= bitCompressed16
		}
		if batched {
			v |= bitBatched16
		}
		return binary.BigEndian.AppendUint16(dst, v), nil
	}
	v := uint32(length) | bitExt32
	if compressed {
		v |= bitCompressed32
	}
	if batched {
		v |= bitBatched32
	}
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// DecodeLenFlags 解码头部，返回：已消费字节数、长度、compressed、batched。
func DecodeLenFlags(b []byte) (consumed int, length int, compressed, batched bool, _ error) {
	if len(b) < 2 {
		return 0, 0, false, false, ErrHeaderTooShort
	}
	v16 := binary.BigEndian.Uint16(b[:2])
	if v16&bitExt16 == 0 {
		return 2, int(v16 & 0x1FFF), v16&bitCompressed16 != 0, v16&bitBatched16 != 0, nil
	}
	if len(b) < 4 {
		return 0, 0, false, false, ErrHeaderTooShort
	}
	v32 := binary.BigEndian.Uint32(b[:4])
	return 4, int(v32 & 0x1FFFFFFF), v32&bitCompressed32 != 0, v32&bitBatched32 != 0, nil
}

// AppendApi 将 api(uint16, BE) 追加到切片末尾。
func AppendApi(dst []byte, api uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, api)
}
