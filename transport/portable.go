package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
)

// portableCloser 是挂在可移植 selector 上、需随循环关闭的对象。
type portableCloser interface {
	closeNow(err error)
}

// portableSelector 的就绪事件由读/accept goroutine 投递，在循环上作为 I/O 处理。
type portableSelector struct {
	mu     sync.Mutex
	events *queue.Queue
	closed bool
	batch  []func()
	wake   chan struct{}

	// 仅在循环 goroutine 上访问
	tracked map[portableCloser]struct{}
}

func newPortableSelector() *portableSelector {
	return &portableSelector{
		events:  queue.New(),
		wake:    make(chan struct{}, 1),
		tracked: make(map[portableCloser]struct{}),
	}
}

func (s *portableSelector) Kind() Kind { return PortableMultiplexer }

// post 投递一个就绪事件；selector 已关闭时返回 false。
func (s *portableSelector) post(ev func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.events.Add(ev)
	s.mu.Unlock()
	s.Wakeup()
	return true
}

func (s *portableSelector) take() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.events.Length() > 0 {
		s.batch = append(s.batch, s.events.Remove().(func()))
	}
	return len(s.batch)
}

func (s *portableSelector) Select(timeout time.Duration) (int, error) {
	if n := s.take(); n > 0 || timeout == 0 {
		return n, nil
	}
	if timeout < 0 {
		<-s.wake
		return s.take(), nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.wake:
	case <-t.C:
	}
	return s.take(), nil
}

func (s *portableSelector) ProcessReady() {
	for i, ev := range s.batch {
		s.batch[i] = nil
		ev()
	}
	s.batch = s.batch[:0]
}

func (s *portableSelector) Wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close 拒绝后续事件并关闭仍挂着的监听与连接。
func (s *portableSelector) Close() error {
	s.mu.Lock()
	s.closed = true
	for s.events.Length() > 0 {
		s.events.Remove()
	}
	s.mu.Unlock()
	for c := range s.tracked {
		c.closeNow(loop.ErrLoopShutdown)
	}
	return nil
}

func (s *portableSelector) track(c portableCloser)   { s.tracked[c] = struct{}{} }
func (s *portableSelector) untrack(c portableCloser) { delete(s.tracked, c) }

type portableServerChannel struct {
	el      *loop.EventLoop
	sel     *portableSelector
	workers *loop.Group
	init    Initializer
	opts    Options
	log     *logger.Logger

	ln     net.Listener // 仅在 el 上访问
	local  atomic.Value
	closed atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

func newPortableServerChannel(el *loop.EventLoop, workers *loop.Group, init Initializer, opts Options) ServerChannel {
	return &portableServerChannel{
		el:      el,
		sel:     el.Selector().(*portableSelector),
		workers: workers,
		init:    init,
		opts:    opts,
		log:     opts.Logger.Named("portable"),
		done:    make(chan struct{}),
	}
}

func (s *portableServerChannel) Bind(addr string, done func(net.Addr, error)) {
	err := s.el.Execute(func() {
		a, err := s.bind(addr)
		if err != nil {
			done(nil, err)
			return
		}
		done(a, nil)
	})
	if err != nil {
		done(nil, err)
	}
}

func (s *portableServerChannel) bind(addr string) (net.Addr, error) {
	if s.closed.Load() {
		return nil, ErrChannelClosed
	}
	lc := net.ListenConfig{Control: listenControl(s.opts)}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.local.Store(ln.Addr())
	s.sel.track(s)
	go s.acceptLoop(ln)
	return ln.Addr(), nil
}

func (s *portableServerChannel) LocalAddr() net.Addr {
	a, _ := s.local.Load().(net.Addr)
	return a
}

func (s *portableServerChannel) Done() <-chan struct{} { return s.done }

func (s *portableServerChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.el.Execute(func() { s.closeNow(nil) }); err != nil {
		go func() {
			<-s.el.Done()
			s.closeNow(nil)
		}()
	}
	return nil
}

func (s *portableServerChannel) closeNow(error) {
	s.closed.Store(true)
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
		s.sel.untrack(s)
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *portableServerChannel) acceptLoop(ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.closed.Load() {
				return
			}
			// EMFILE 等错误可恢复，退避后重试
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Warn().Err(err).Dur("retry", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		if !s.sel.post(func() { s.accepted(conn) }) {
			_ = conn.Close()
			return
		}
	}
}

func (s *portableServerChannel) applyConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(s.opts.NoDelay)
	if s.opts.RecvBuf > 0 {
		_ = tc.SetReadBuffer(s.opts.RecvBuf)
	}
	if s.opts.SendBuf > 0 {
		_ = tc.SetWriteBuffer(s.opts.SendBuf)
	}
}

func (s *portableServerChannel) accepted(conn net.Conn) {
	if s.ln == nil {
		_ = conn.Close()
		return
	}
	s.applyConn(conn)
	w := s.workers.Next()
	sel, ok := w.Selector().(*portableSelector)
	if !ok {
		_ = conn.Close()
		return
	}
	ch := newPortableChannel(conn, w, sel, s.opts.ReadBufferSize)
	if err := s.init(ch); err != nil {
		s.log.Error().Err(err).Uint64("channel", ch.id).Msg("assemble pipeline")
		_ = conn.Close()
		return
	}
	if err := w.Execute(ch.activate); err != nil {
		_ = conn.Close()
	}
}

// portableChannel 由读 goroutine 把数据投递到所属循环，写 goroutine 排空写队列。
type portableChannel struct {
	id   uint64
	conn net.Conn
	el   *loop.EventLoop
	sel  *portableSelector
	p    *pipeline.Pipeline
	buf  []byte

	mu      sync.Mutex
	cond    *sync.Cond
	wq      *queue.Queue
	closing bool

	closed   atomic.Bool
	inactive bool // 仅在循环上访问
	readAck  chan struct{}
	gone     chan struct{}
}

func newPortableChannel(conn net.Conn, el *loop.EventLoop, sel *portableSelector, bufSize int) *portableChannel {
	c := &portableChannel{
		id:      nextChannelID(),
		conn:    conn,
		el:      el,
		sel:     sel,
		buf:     make([]byte, bufSize),
		wq:      queue.New(),
		readAck: make(chan struct{}, 1),
		gone:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.p = pipeline.New(c)
	return c
}

func (c *portableChannel) ID() uint64                   { return c.id }
func (c *portableChannel) LocalAddr() net.Addr          { return c.conn.LocalAddr() }
func (c *portableChannel) RemoteAddr() net.Addr         { return c.conn.RemoteAddr() }
func (c *portableChannel) Pipeline() *pipeline.Pipeline { return c.p }

func (c *portableChannel) activate() {
	c.sel.track(c)
	go c.readLoop()
	go c.writeLoop()
	c.p.FireActive()
}

// Send 把 b 排入写队列，返回后调用方不得再修改 b。
func (c *portableChannel) Send(b []byte) error {
	if len(b) == 0 {
		if c.closed.Load() {
			return ErrChannelClosed
		}
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.closed.Load() {
		return ErrChannelClosed
	}
	c.wq.Add(b)
	c.cond.Signal()
	return nil
}

// Close 让写 goroutine 写完已排队的数据后关闭连接。
func (c *portableChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *portableChannel) readLoop() {
	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			data := append([]byte(nil), c.buf[:n]...)
			if !c.sel.post(func() { c.deliver(data) }) {
				return
			}
			select {
			case <-c.readAck:
			case <-c.gone:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			c.sel.post(func() { c.closeNow(err) })
			return
		}
	}
}

func (c *portableChannel) deliver(data []byte) {
	if !c.inactive {
		c.p.FireRead(data)
	}
	select {
	case c.readAck <- struct{}{}:
	default:
	}
}

func (c *portableChannel) writeLoop() {
	for {
		c.mu.Lock()
		for c.wq.Length() == 0 && !c.closing {
			c.cond.Wait()
		}
		if c.wq.Length() == 0 {
			c.mu.Unlock()
			_ = c.conn.Close()
			return
		}
		b := c.wq.Remove().([]byte)
		c.mu.Unlock()
		if _, err := c.conn.Write(b); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

// closeNow 在循环上关闭连接，幂等；之后触发 Inactive。
func (c *portableChannel) closeNow(cause error) {
	if c.inactive {
		return
	}
	c.inactive = true
	c.closed.Store(true)
	c.sel.untrack(c)
	c.mu.Lock()
	c.closing = true
	for c.wq.Length() > 0 {
		c.wq.Remove()
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	_ = c.conn.Close()
	close(c.gone)
	c.p.FireInactive(cause)
}
