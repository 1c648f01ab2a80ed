// Package gserve 是基于事件循环的 TCP 服务端引导：负责生命周期、传输选择、
// 事件循环组的创建与释放、每连接流水线装配，以及异步绑定与结果通知。
package gserve

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
	"github.com/legamerdc/gserve/transport"
)

// Server 是一次性的服务端实例：Created -> Initialized -> Starting -> Started -> Shutdown。
type Server struct {
	id    string
	cfg   Config
	log   *logger.Logger
	state lifecycle

	newHandler func() pipeline.Handler
	newDecoder func() pipeline.Handler
	newEncoder func() pipeline.Handler
	assemble   Assembler
	probe      transport.Probe
	groups     groupFactory

	mu          sync.Mutex
	kind        transport.Kind
	acceptor    *loop.Group
	workers     *loop.Group
	ownAcceptor bool
	ownWorkers  bool
	channel     transport.ServerChannel
	addr        net.Addr
	released    bool
}

// NewServer 创建处于 Created 状态的服务端；newHandler 为每条连接创建业务 handler。
func NewServer(cfg Config, newHandler func() pipeline.Handler, opts ...Option) (*Server, error) {
	if newHandler == nil {
		return nil, ErrNoHandler
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		id:         newServerID(),
		cfg:        cfg,
		newHandler: newHandler,
		assemble:   DefaultAssembler,
		groups:     groupFactory{cfg: cfg, newGroup: loop.NewGroup},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.New("gserve").SetLevel(cfg.LogLevel)
	}
	s.log = &logger.Logger{Logger: s.log.Named("server").With().Str("server", s.id).Logger()}
	s.probe.Disabled = !cfg.Native
	s.probe.Logger = s.log
	return s, nil
}

func newServerID() string {
	if v7, err := uuid.NewV7(); err == nil {
		return v7.String()
	}
	return uuid.NewString()
}

// ID 是实例标识，出现在该实例的每条日志里。
func (s *Server) ID() string { return s.id }

// State 返回当前生命周期状态。
func (s *Server) State() State { return s.state.load() }

// IsRunning 仅在 Started 状态下为 true。
func (s *Server) IsRunning() bool { return s.state.load() == Started }

// Addr 返回绑定成功后的地址，之前为 nil。
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Transport 返回本次启动选择的传输，Start 之前为可移植传输。
func (s *Server) Transport() transport.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func (s *Server) Init() error {
	if !s.state.transition(Created, Initialized) {
		return &InvalidStateError{Op: "init", State: s.state.load()}
	}
	s.log.Info().Str("addr", s.cfg.Address()).Msg("server initialized")
	return nil
}

// Start 选择传输、创建事件循环组与监听端，并把绑定提交到 acceptor 循环后立即返回。
// 绑定结果通过 l 异步通知。绑定失败后服务端停在 Starting，不能原地重试：
// 调用 Stop 释放资源，再构造新的 Server。
func (s *Server) Start(l BindListener) error {
	if !s.state.transition(Initialized, Starting) {
		return &InvalidStateError{Op: "start", State: s.state.load()}
	}
	ol := notifyOnce(l)
	addr := s.cfg.Address()
	kind := s.probe.Select()
	ch, err := s.setup(kind)
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("server start failed")
		ol.failure(err)
		return &ServerStartError{Addr: addr, Cause: err}
	}
	s.log.Info().Str("addr", addr).Stringer("transport", kind).Msg("server starting")
	s.bindAndNotify(ch, addr, ol)
	return nil
}

// setup 创建组与监听端；失败时关闭已创建的自有组。
func (s *Server) setup(kind transport.Kind) (transport.ServerChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind = kind
	if s.released {
		return nil, ErrServerStopped
	}
	acceptor, owned, err := s.groups.acceptor(kind)
	if err != nil {
		return nil, err
	}
	s.acceptor, s.ownAcceptor = acceptor, owned
	workers, owned, err := s.groups.worker(kind)
	if err != nil {
		s.releaseGroupsLocked()
		return nil, err
	}
	s.workers, s.ownWorkers = workers, owned
	ch, err := transport.NewServerChannel(kind, acceptor, workers, s.initChannel, transport.Options{
		ReusePort:      s.cfg.ReusePort,
		NoDelay:        s.cfg.NoDelay,
		RecvBuf:        s.cfg.RecvBuf,
		SendBuf:        s.cfg.SendBuf,
		Backlog:        s.cfg.Backlog,
		ReadBufferSize: s.cfg.ReadBufferSize,
		Logger:         s.log,
	})
	if err != nil {
		s.releaseGroupsLocked()
		return nil, err
	}
	s.channel = ch
	return ch, nil
}

// releaseGroupsLocked 关闭自有组并返回它们的循环；外部组不动。
func (s *Server) releaseGroupsLocked() []*loop.EventLoop {
	var loops []*loop.EventLoop
	if s.ownAcceptor && s.acceptor != nil {
		s.acceptor.Shutdown()
		loops = append(loops, s.acceptor.Loops()...)
	}
	if s.ownWorkers && s.workers != nil {
		s.workers.Shutdown()
		loops = append(loops, s.workers.Loops()...)
	}
	s.acceptor, s.workers = nil, nil
	s.ownAcceptor, s.ownWorkers = false, false
	return loops
}

// Stop 从 Starting 或 Started 进入 Shutdown，关闭监听端与自有事件循环组，不等待连接排空。
// 释放完成后 l 收到 OnSuccess；循环异常退出时收到 OnFailure。
func (s *Server) Stop(l BindListener) error {
	prev, ok := s.state.shutdown()
	if !ok {
		return &InvalidStateError{Op: "stop", State: prev}
	}
	ol := notifyOnce(l)
	s.mu.Lock()
	s.released = true
	ch := s.channel
	// 先排入监听端关闭任务，再关闭循环，关闭任务会在循环退出前执行
	if ch != nil {
		_ = ch.Close()
	}
	loops := s.releaseGroupsLocked()
	s.mu.Unlock()

	var waits []<-chan struct{}
	if ch != nil {
		waits = append(waits, ch.Done())
	}
	for _, el := range loops {
		waits = append(waits, el.Done())
	}
	s.log.Info().Stringer("from", prev).Msg("server stopping")
	go func() {
		for _, w := range waits {
			<-w
		}
		var errs []error
		for _, el := range loops {
			errs = append(errs, el.Err())
		}
		if err := errors.Join(errs...); err != nil {
			s.log.Error().Err(err).Msg("server stopped with errors")
			ol.failure(err)
			return
		}
		s.log.Info().Msg("server stopped")
		ol.success()
	}()
	return nil
}
