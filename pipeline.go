package gserve

import (
	"fmt"

	"github.com/legamerdc/gserve/pipeline"
)

// 默认流水线的阶段名。
const (
	StageDecoder = "decoder"
	StageEncoder = "encoder"
	StageHandler = "handler"
)

// Stages 是为一条连接新建的阶段实例。
type Stages struct {
	Decoder pipeline.Handler
	Encoder pipeline.Handler
	Handler pipeline.Handler
}

// Assembler 把 Stages 装入连接的流水线；在 acceptor 循环上同步执行。
type Assembler func(ch pipeline.Channel, st Stages) error

// DefaultAssembler 依次追加 decoder、encoder、handler。
func DefaultAssembler(ch pipeline.Channel, st Stages) error {
	p := ch.Pipeline()
	if err := p.AddLast(StageDecoder, st.Decoder); err != nil {
		return err
	}
	if err := p.AddLast(StageEncoder, st.Encoder); err != nil {
		return err
	}
	return p.AddLast(StageHandler, st.Handler)
}

func (s *Server) stages() Stages {
	st := Stages{
		Decoder: pipeline.PassThrough{},
		Encoder: pipeline.PassThrough{},
		Handler: s.newHandler(),
	}
	if s.newDecoder != nil {
		st.Decoder = s.newDecoder()
	}
	if s.newEncoder != nil {
		st.Encoder = s.newEncoder()
	}
	return st
}

// initChannel 是传输层的 Initializer。
func (s *Server) initChannel(ch pipeline.Channel) error {
	if err := s.assemble(ch, s.stages()); err != nil {
		return fmt.Errorf("gserve: assemble pipeline: %w", err)
	}
	if ch.Pipeline().Get(StageHandler) == nil {
		return ErrMissingHandlerStage
	}
	return nil
}
