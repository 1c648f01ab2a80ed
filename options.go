package gserve

import (
	"github.com/rs/zerolog"

	"github.com/legamerdc/gserve/codec"
	"github.com/legamerdc/gserve/internal/logger"
	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
)

// Option 定制 Server。
type Option func(*Server)

// WithDecoder 为每条连接创建解码阶段。
func WithDecoder(newDecoder func() pipeline.Handler) Option {
	return func(s *Server) { s.newDecoder = newDecoder }
}

// WithEncoder 为每条连接提供编码阶段；无状态编码器可以每次返回同一个实例。
func WithEncoder(newEncoder func() pipeline.Handler) Option {
	return func(s *Server) { s.newEncoder = newEncoder }
}

// WithFrameCodec 安装帧编解码：每连接一个 FrameDecoder，所有连接共享 SharedEncoder。
func WithFrameCodec(maxPayload int) Option {
	return func(s *Server) {
		slack := s.cfg.ReadBufferSize
		s.newDecoder = func() pipeline.Handler { return codec.NewFrameDecoder(maxPayload, slack) }
		s.newEncoder = func() pipeline.Handler { return codec.SharedEncoder }
	}
}

// WithAssembler 替换整个装配过程，装配后仍要求存在 handler 阶段。
func WithAssembler(a Assembler) Option {
	return func(s *Server) {
		if a != nil {
			s.assemble = a
		}
	}
}

// WithAcceptorGroup 使用外部的 acceptor 组，Stop 不会关闭它。
func WithAcceptorGroup(g *loop.Group) Option {
	return func(s *Server) { s.groups.borrowedAcceptor = g }
}

// WithWorkerGroup 使用外部的 worker 组，Stop 不会关闭它。
func WithWorkerGroup(g *loop.Group) Option {
	return func(s *Server) { s.groups.borrowedWorker = g }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = &logger.Logger{Logger: l} }
}

// WithNativeCheck 替换原生多路复用的可用性检查。
func WithNativeCheck(check func() error) Option {
	return func(s *Server) { s.probe.Check = check }
}
