// Package transport 实现服务端的两种 I/O 多路复用传输：
// 原生（epoll/kqueue，直接操作 fd）与可移植（Go 运行时 netpoller，经由 net 包）。
//
// 两种传输都以 loop.Selector 的形式挂在事件循环上，监听与连接的全部状态只在所属循环上修改。
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
)

// Kind 标识一种传输实现。
type Kind int

const (
	PortableMultiplexer Kind = iota
	NativeMultiplexer
)

func (k Kind) String() string {
	switch k {
	case PortableMultiplexer:
		return "portable"
	case NativeMultiplexer:
		return "native"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrPlatformUnsupported 当前平台或运行环境无法使用原生多路复用。
	ErrPlatformUnsupported = errors.New("transport: native multiplexer unsupported")
	// ErrTransportMismatch 事件循环的 selector 与所选传输不一致。
	ErrTransportMismatch = errors.New("transport: event loop transport mismatch")
	// ErrChannelClosed 通道已关闭。
	ErrChannelClosed = errors.New("transport: channel closed")
)

const (
	DefaultBacklog        = 1024
	DefaultReadBufferSize = 64 << 10
)

// Options 是监听与连接的 socket 参数，零值表示系统默认。
type Options struct {
	ReusePort      bool
	NoDelay        bool
	RecvBuf        int
	SendBuf        int
	Backlog        int
	ReadBufferSize int
	Logger         *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Backlog <= 0 {
		o.Backlog = DefaultBacklog
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Initializer 为新接受的连接装配流水线；返回错误时连接被关闭。
// 在 acceptor 循环上同步执行，不得做 I/O。
type Initializer func(ch pipeline.Channel) error

// ServerChannel 是监听端。
type ServerChannel interface {
	// Bind 把绑定任务提交到 acceptor 循环后立即返回；done 在 acceptor 循环上执行一次。
	Bind(addr string, done func(net.Addr, error))
	// LocalAddr 返回绑定成功后的地址，之前为 nil。
	LocalAddr() net.Addr
	// Close 异步关闭监听，可重复调用。
	Close() error
	// Done 在监听 socket 真正释放后关闭。
	Done() <-chan struct{}
}

type kindReporter interface {
	Kind() Kind
}

// NewSelector 返回创建指定传输 selector 的工厂，供 loop.NewGroup 使用。
func NewSelector(kind Kind) loop.SelectorFactory {
	if kind == NativeMultiplexer {
		return newNativeSelector
	}
	return func() (loop.Selector, error) { return newPortableSelector(), nil }
}

// KindOf 报告事件循环所运行的传输；selector 不是本包创建的返回 false。
func KindOf(l *loop.EventLoop) (Kind, bool) {
	r, ok := l.Selector().(kindReporter)
	if !ok {
		return 0, false
	}
	return r.Kind(), true
}

// CheckGroup 确认 g 的每个循环都运行 kind 传输，否则返回 ErrTransportMismatch。
func CheckGroup(kind Kind, g *loop.Group) error {
	for _, l := range g.Loops() {
		k, ok := KindOf(l)
		if !ok {
			return fmt.Errorf("%w: loop %s has a foreign selector, want %s", ErrTransportMismatch, l.Name(), kind)
		}
		if k != kind {
			return fmt.Errorf("%w: loop %s runs %s, want %s", ErrTransportMismatch, l.Name(), k, kind)
		}
	}
	return nil
}

// NewServerChannel 在 acceptor 组的一个循环上创建监听端，接受的连接轮询分配给 workers。
// 组内任一循环的传输与 kind 不一致时返回 ErrTransportMismatch。
func NewServerChannel(kind Kind, acceptor, workers *loop.Group, init Initializer, opts Options) (ServerChannel, error) {
	if acceptor == nil || workers == nil || acceptor.Size() == 0 || workers.Size() == 0 {
		return nil, errors.New("transport: acceptor and worker groups are required")
	}
	if init == nil {
		return nil, errors.New("transport: nil initializer")
	}
	if err := CheckGroup(kind, acceptor); err != nil {
		return nil, err
	}
	if err := CheckGroup(kind, workers); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if kind == NativeMultiplexer {
		return newNativeServerChannel(acceptor.Next(), workers, init, opts)
	}
	return newPortableServerChannel(acceptor.Next(), workers, init, opts), nil
}

var channelID atomic.Uint64

func nextChannelID() uint64 { return channelID.Add(1) }
