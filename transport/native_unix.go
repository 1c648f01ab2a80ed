//go:build linux || darwin

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/internal/netutil"
	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
	"github.com/legamerdc/gserve/poller"
)

const nativeCompiled = true

func nativeCheck() error {
	p, err := poller.New()
	if err != nil {
		return err
	}
	return p.Close()
}

// nativeHandler 接收 fd 上的就绪事件，只在所属循环上调用。
type nativeHandler interface {
	onReadable()
	onWritable()
	onClose(err error)
}

// nativeSelector 把 poller 挂到事件循环上；regs 只在循环 goroutine 上访问。
type nativeSelector struct {
	p    poller.Poller
	regs map[int]nativeHandler
}

func newNativeSelector() (loop.Selector, error) {
	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformUnsupported, err)
	}
	return &nativeSelector{p: p, regs: make(map[int]nativeHandler)}, nil
}

func (s *nativeSelector) Kind() Kind { return NativeMultiplexer }

func (s *nativeSelector) Select(timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	return s.p.Wait(msec)
}

func (s *nativeSelector) ProcessReady() { s.p.Dispatch(s) }

func (s *nativeSelector) Wakeup() { _ = s.p.Wake() }

// Close 关闭仍注册着的 fd，再释放 poller。
func (s *nativeSelector) Close() error {
	for _, h := range s.regs {
		h.onClose(loop.ErrLoopShutdown)
	}
	return s.p.Close()
}

func (s *nativeSelector) OnReadable(fd poller.FD) {
	if h, ok := s.regs[fd]; ok {
		h.onReadable()
	}
}

func (s *nativeSelector) OnWritable(fd poller.FD) {
	if h, ok := s.regs[fd]; ok {
		h.onWritable()
	}
}

func (s *nativeSelector) OnClose(fd poller.FD, err error) {
	if h, ok := s.regs[fd]; ok {
		h.onClose(err)
	}
}

func (s *nativeSelector) register(fd int, h nativeHandler, writable bool) error {
	if err := s.p.Register(fd, true, writable); err != nil {
		return err
	}
	s.regs[fd] = h
	return nil
}

func (s *nativeSelector) unregister(fd int) {
	delete(s.regs, fd)
	_ = s.p.Unregister(fd)
}

func (s *nativeSelector) modWritable(fd int, writable bool) error {
	return s.p.Mod(fd, true, writable)
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}

// openListener 创建非阻塞监听 socket：SO_REUSEADDR、可选 SO_REUSEPORT，再 bind 与 listen。
func openListener(address string, o Options) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, err
	}
	fam := unix.AF_INET
	var sa unix.Sockaddr
	if addr.IP == nil || addr.IP.To4() != nil {
		var sa4 unix.SockaddrInet4
		if addr.IP != nil {
			copy(sa4.Addr[:], addr.IP.To4())
		}
		sa4.Port = addr.Port
		sa = &sa4
	} else {
		fam = unix.AF_INET6
		var sa6 unix.SockaddrInet6
		copy(sa6.Addr[:], addr.IP.To16())
		sa6.Port = addr.Port
		sa = &sa6
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := netutil.ApplyListen(fd, o.listenOptions()); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := netutil.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, o.Backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

type nativeServerChannel struct {
	el      *loop.EventLoop
	sel     *nativeSelector
	workers *loop.Group
	init    Initializer
	opts    Options
	log     *logger.Logger

	fd     int // 仅在 el 上访问
	local  atomic.Pointer[net.TCPAddr]
	closed atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

func newNativeServerChannel(el *loop.EventLoop, workers *loop.Group, init Initializer, opts Options) (ServerChannel, error) {
	sel, ok := el.Selector().(*nativeSelector)
	if !ok {
		return nil, ErrTransportMismatch
	}
	return &nativeServerChannel{
		el:      el,
		sel:     sel,
		workers: workers,
		init:    init,
		opts:    opts,
		log:     opts.Logger.Named("native"),
		fd:      -1,
		done:    make(chan struct{}),
	}, nil
}

func (s *nativeServerChannel) Bind(addr string, done func(net.Addr, error)) {
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

func (s *nativeServerChannel) bind(addr string) (net.Addr, error) {
	if s.closed.Load() {
		return nil, ErrChannelClosed
	}
	fd, err := openListener(addr, s.opts)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: getsockname: %w", err)
	}
	if err := s.sel.register(fd, s, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: register listener: %w", err)
	}
	s.fd = fd
	local := sockaddrToTCP(sa)
	s.local.Store(local)
	return local, nil
}

func (s *nativeServerChannel) LocalAddr() net.Addr {
	if a := s.local.Load(); a != nil {
		return a
	}
	return nil
}

func (s *nativeServerChannel) Done() <-chan struct{} { return s.done }

func (s *nativeServerChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.el.Execute(func() { s.closeNow(nil) }); err != nil {
		// 循环关闭时 selector 会关闭仍注册的 fd
		go func() {
			<-s.el.Done()
			s.closeNow(nil)
		}()
	}
	return nil
}

func (s *nativeServerChannel) closeNow(error) {
	s.closed.Store(true)
	if s.fd >= 0 {
		s.sel.unregister(s.fd)
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *nativeServerChannel) onWritable()       {}
func (s *nativeServerChannel) onClose(err error) { s.closeNow(err) }

// onReadable 边沿触发，必须 accept 到 EAGAIN 为止。
func (s *nativeServerChannel) onReadable() {
	for s.fd >= 0 {
		fd, sa, err := accept(s.fd)
		switch err {
		case nil:
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			s.log.Warn().Err(err).Msg("accept failed")
			return
		}
		s.accepted(fd, sa)
	}
}

func (s *nativeServerChannel) accepted(fd int, sa unix.Sockaddr) {
	if err := netutil.ApplyConn(fd, s.opts.connOptions()); err != nil {
		s.log.Debug().Err(err).Int("fd", fd).Msg("apply socket options")
	}
	w := s.workers.Next()
	sel, ok := w.Selector().(*nativeSelector)
	if !ok {
		unix.Close(fd)
		return
	}
	ch := &nativeChannel{
		id:      nextChannelID(),
		fd:      fd,
		el:      w,
		sel:     sel,
		local:   s.LocalAddr(),
		remote:  sockaddrToTCP(sa),
		readBuf: make([]byte, s.opts.ReadBufferSize),
	}
	ch.p = pipeline.New(ch)
	if err := s.init(ch); err != nil {
		s.log.Error().Err(err).Uint64("channel", ch.id).Msg("assemble pipeline")
		unix.Close(fd)
		return
	}
	if err := w.Execute(ch.activate); err != nil {
		unix.Close(fd)
	}
}

// nativeChannel 是原生传输上的一条连接；fd 只在 el 上读写与关闭。
type nativeChannel struct {
	id      uint64
	fd      int
	el      *loop.EventLoop
	sel     *nativeSelector
	p       *pipeline.Pipeline
	local   net.Addr
	remote  net.Addr
	readBuf []byte

	mu       sync.Mutex
	wq       [][]byte
	writing  bool // 是否已打开写事件
	closed   atomic.Bool
	inactive bool
}

func (c *nativeChannel) ID() uint64                   { return c.id }
func (c *nativeChannel) LocalAddr() net.Addr          { return c.local }
func (c *nativeChannel) RemoteAddr() net.Addr         { return c.remote }
func (c *nativeChannel) Pipeline() *pipeline.Pipeline { return c.p }

func (c *nativeChannel) activate() {
	if err := c.sel.register(c.fd, c, false); err != nil {
		_ = unix.Close(c.fd)
		c.fd = -1
		c.inactive = true
		return
	}
	c.p.FireActive()
}

// Send 把 b 排入写队列，返回后调用方不得再修改 b。
func (c *nativeChannel) Send(b []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if len(b) == 0 {
		return nil
	}
	c.mu.Lock()
	c.wq = append(c.wq, b)
	first := len(c.wq) == 1
	c.mu.Unlock()
	if first {
		if err := c.el.Execute(c.flush); err != nil {
			return ErrChannelClosed
		}
	}
	return nil
}

func (c *nativeChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.el.Execute(func() { c.closeNow(nil) })
	return nil
}

func (c *nativeChannel) onReadable() {
	for c.fd >= 0 && !c.closed.Load() {
		n, err := unix.Read(c.fd, c.readBuf)
		if n > 0 {
			c.p.FireRead(append([]byte(nil), c.readBuf[:n]...))
			continue
		}
		switch {
		case err == nil:
			c.closeNow(nil)
			return
		case err == unix.EAGAIN:
			return
		case err == unix.EINTR:
			continue
		default:
			c.closeNow(err)
			return
		}
	}
}

func (c *nativeChannel) onWritable() { c.flush() }

func (c *nativeChannel) onClose(err error) { c.closeNow(err) }

func (c *nativeChannel) flush() {
	for c.fd >= 0 {
		c.mu.Lock()
		if len(c.wq) == 0 {
			c.mu.Unlock()
			c.setWriteInterest(false)
			return
		}
		b := c.wq[0]
		c.mu.Unlock()

		n, err := unix.Write(c.fd, b)
		if n > 0 {
			c.mu.Lock()
			if n == len(b) {
				c.wq[0] = nil
				c.wq = c.wq[1:]
			} else {
				c.wq[0] = b[n:]
			}
			c.mu.Unlock()
			continue
		}
		switch err {
		case unix.EAGAIN:
			c.setWriteInterest(true)
			return
		case unix.EINTR:
			continue
		}
		c.closeNow(err)
		return
	}
}

func (c *nativeChannel) setWriteInterest(on bool) {
	if c.writing == on {
		return
	}
	if err := c.sel.modWritable(c.fd, on); err != nil {
		c.closeNow(err)
		return
	}
	c.writing = on
}

// closeNow 在循环上释放 fd，幂等；之后触发 Inactive。
func (c *nativeChannel) closeNow(cause error) {
	if c.inactive {
		return
	}
	c.inactive = true
	c.closed.Store(true)
	if c.fd >= 0 {
		c.sel.unregister(c.fd)
		_ = unix.Close(c.fd)
		c.fd = -1
	}
	c.mu.Lock()
	c.wq = nil
	c.mu.Unlock()
	if errors.Is(cause, unix.ECONNRESET) || errors.Is(cause, unix.EPIPE) {
		cause = nil
	}
	c.p.FireInactive(cause)
}
