// Package client 是与 gserve 帧编解码配套的 TCP 客户端。
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/internal/ring"
	"github.com/legamerdc/gserve/protocol"
)

const (
	defaultMaxPayload = 16 << 20
	readChunk         = 64 << 10
)

// Handler 接收客户端事件；OnMessage 的 payload 仅在回调内有效。
type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, api uint16, msg []byte)
	OnClose(c *Client, err error)
}

type options struct {
	maxPayload  int
	dialTimeout time.Duration
	log         *logger.Logger
}

type Option func(*options)

func WithMaxPayload(n int) Option { return func(o *options) { o.maxPayload = n } }

func WithDialTimeout(d time.Duration) Option { return func(o *options) { o.dialTimeout = d } }

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &logger.Logger{Logger: l} }
}

type Client struct {
	conn net.Conn
	enc  *protocol.Encoder
	prs  *protocol.Parser
	log  *logger.Logger
	mu   sync.Mutex
	// 接收缓冲，跨多次 Read 累积，避免半包丢失
	rb   *ring.Buffer
	done chan struct{}
}

// Dial 建立连接，同步回调 OnOpen 后启动读 goroutine。
func Dial(network, address string, h Handler, opts ...Option) (*Client, error) {
	o := options{maxPayload: defaultMaxPayload, dialTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	nc, err := net.DialTimeout(network, address, o.dialTimeout)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn: nc,
		enc:  protocol.NewEncoder(),
		prs:  protocol.NewParser(o.maxPayload),
		log:  o.log.Named("client"),
		rb:   ring.New(readChunk, o.maxPayload+protocol.MaxHeaderLen+readChunk),
		done: make(chan struct{}),
	}
	h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	defer close(c.done)
	buf := make([]byte, readChunk)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if _, werr := c.rb.Write(buf[:n]); werr != nil {
				c.log.Error().Err(werr).Msg("frame exceeds receive buffer")
				_ = c.conn.Close()
				h.OnClose(c, werr)
				return
			}
			consumed, perr := c.prs.Parse(c.rb.Peek(c.rb.Len()), func(api uint16, payload []byte) error {
				h.OnMessage(c, api, payload)
				return nil
			})
			c.rb.Discard(consumed)
			if perr != nil {
				c.log.Error().Err(perr).Msg("parse error")
				_ = c.conn.Close()
				h.OnClose(c, perr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			h.OnClose(c, err)
			return
		}
	}
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

func (c *Client) Write(api uint16, msg []byte) error {
	frame, err := c.enc.EncodeSingle(api, msg, false)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// WriteCompressed 以 zstd 压缩发送单条消息。
func (c *Client) WriteCompressed(api uint16, msg []byte) error {
	frame, err := c.enc.EncodeSingle(api, msg, true)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// WriteBatch 把多条消息合并为一个批量帧发送。
func (c *Client) WriteBatch(items []protocol.BatchItem) error {
	frame, err := c.enc.EncodeBatch(items)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) Close() error { return c.conn.Close() }

// Done 在读 goroutine 退出、OnClose 返回后关闭。
func (c *Client) Done() <-chan struct{} { return c.done }
