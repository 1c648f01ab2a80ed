// Package pipeline 实现每连接的处理链：入站事件从头到尾传播，出站写入从尾到头传播。
//
// 每条连接拥有自己的 Pipeline；阶段（handler）默认按连接创建，
// 只有无状态的阶段（如 PassThrough、共享编码器）才允许在多条链之间复用。
// 入站回调总在连接所属的事件循环 goroutine 上执行。
package pipeline

import "net"

// Channel 是流水线所属连接的最小视图。
type Channel interface {
	ID() uint64
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Pipeline() *Pipeline
	// Send 写出已编码的字节，可跨 goroutine 调用。
	Send(b []byte) error
	// Close 关闭连接，可重复调用；OnInactive 只触发一次。
	Close() error
}

// Handler 是流水线阶段，至少实现 InboundHandler 或 OutboundHandler 之一。
type Handler = any

// InboundHandler 处理入站事件，调用 ctx.Fire* 把事件传给下一个入站阶段。
type InboundHandler interface {
	OnActive(ctx *Context)
	OnRead(ctx *Context, msg any)
	OnInactive(ctx *Context, err error)
	OnError(ctx *Context, err error)
}

// OutboundHandler 处理出站写入，调用 ctx.Write 把消息传给前一个出站阶段。
type OutboundHandler interface {
	Write(ctx *Context, msg any) error
}

// InboundAdapter 把所有入站事件原样向后传递，供嵌入后只覆盖关心的方法。
type InboundAdapter struct{}

func (InboundAdapter) OnActive(ctx *Context)              { ctx.FireActive() }
func (InboundAdapter) OnRead(ctx *Context, msg any)       { ctx.FireRead(msg) }
func (InboundAdapter) OnInactive(ctx *Context, err error) { ctx.FireInactive(err) }
func (InboundAdapter) OnError(ctx *Context, err error)    { ctx.FireError(err) }

// PassThrough 是双向透传阶段，无状态，可共享。
// 未配置编解码器时用它占位，保持 decoder/encoder 的位置稳定。
type PassThrough struct {
	InboundAdapter
}

func (PassThrough) Write(ctx *Context, msg any) error { return ctx.Write(msg) }

// headHandler 把出站字节交给 Channel
type headHandler struct{}

func (headHandler) Write(ctx *Context, msg any) error {
	b, ok := msg.([]byte)
	if !ok {
		return ErrUnsupportedMessage
	}
	return ctx.Channel().Send(b)
}

// tailHandler 吸收未被处理的入站事件；未处理的错误关闭连接。
type tailHandler struct{}

func (tailHandler) OnActive(*Context)             {}
func (tailHandler) OnRead(*Context, any)          {}
func (tailHandler) OnInactive(*Context, error)    {}
func (tailHandler) OnError(ctx *Context, _ error) { _ = ctx.Channel().Close() }
