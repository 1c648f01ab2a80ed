package gserve

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler NewServer 缺少业务 handler 工厂。
	ErrNoHandler = errors.New("gserve: handler factory is required")
	// ErrServerStopped 绑定完成前服务端已被停止。
	ErrServerStopped = errors.New("gserve: server stopped before bind completed")
	// ErrMissingHandlerStage 自定义装配后流水线里没有 handler 阶段。
	ErrMissingHandlerStage = errors.New("gserve: pipeline has no handler stage")
)

// InvalidStateError 生命周期操作在当前状态下不允许。
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("gserve: cannot %s in state %s", e.Op, e.State)
}

// ServerStartError 启动过程中同步失败（事件循环组或监听端构造失败）。
type ServerStartError struct {
	Addr  string
	Cause error
}

func (e *ServerStartError) Error() string {
	return fmt.Sprintf("gserve: start %s: %v", e.Addr, e.Cause)
}

func (e *ServerStartError) Unwrap() error { return e.Cause }
