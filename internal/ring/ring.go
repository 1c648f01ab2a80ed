// Package ring 提供可按需扩容的环形字节缓冲，用作解码器的累积缓冲。
package ring

import (
	"errors"
)

var ErrTooLarge = errors.New("ring: write too large")

// Buffer 是单线程使用的环形字节缓冲，容量始终为 2 的幂。
// 写入超出剩余空间时按 2 倍扩容，直到 limit；调用方负责并发控制。
type Buffer struct {
	buf      []byte
	mask     int
	limit    int
	readPos  int
	writePos int
}

func roundPow2(n int) int {
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// New 返回初始容量为 capacity、最大容量为 limit 的缓冲（均向上取整到 2 的幂）。
// limit 小于 capacity 时视为不可扩容。
func New(capacity, limit int) *Buffer {
	c := roundPow2(capacity)
	l := roundPow2(limit)
	if l < c {
		l = c
	}
	return &Buffer{buf: make([]byte, c), mask: c - 1, limit: l}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Limit() int { return b.limit }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// grow 把已有数据线性搬到新缓冲头部
func (b *Buffer) grow(need int) error {
	c := roundPow2(need)
	if c > b.limit {
		return ErrTooLarge
	}
	nb := make([]byte, c)
	n := b.Len()
	copy(nb, b.Peek(n))
	b.buf = nb
	b.mask = c - 1
	b.readPos = 0
	b.writePos = n
	return nil
}

// Write 写入数据，空间不足时扩容；超过 limit 返回 ErrTooLarge 且不写入任何字节。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		if err := b.grow(b.Len() + len(p)); err != nil {
			return 0, err
		}
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:end-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Peek 读取最多 n 字节但不前进读指针。
// 数据跨越尾部时返回拷贝，否则返回内部视图，后续写入前有效。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	ln := b.Len()
	if n > ln {
		n = ln
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		return b.buf[start:end]
	}
	buf := make([]byte, n)
	l := len(b.buf) - start
	copy(buf[:l], b.buf[start:])
	copy(buf[l:], b.buf[:end-l])
	return buf
}

// Discard 前进读指针；缓冲读空时复位指针，减少跨尾拷贝。
func (b *Buffer) Discard(n int) int {
	ln := b.Len()
	if n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos, b.writePos = 0, 0
	}
	return n
}

// Reset 丢弃所有数据。
func (b *Buffer) Reset() { b.readPos, b.writePos = 0, 0 }
