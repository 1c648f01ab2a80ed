package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName      = errors.New("pipeline: duplicate stage name")
	ErrStageNotFound      = errors.New("pipeline: stage not found")
	ErrInvalidHandler     = errors.New("pipeline: handler is neither inbound nor outbound")
	ErrUnsupportedMessage = errors.New("pipeline: message reached the head without being encoded to []byte")
)

// Context 把一个阶段挂在链上，并负责向相邻阶段传播事件。
type Context struct {
	name string
	h    Handler
	in   InboundHandler
	out  OutboundHandler
	p    *Pipeline

	prev, next *Context
}

func (c *Context) Name() string        { return c.name }
func (c *Context) Handler() Handler    { return c.h }
func (c *Context) Pipeline() *Pipeline { return c.p }
func (c *Context) Channel() Channel    { return c.p.ch }

func (c *Context) nextInbound() *Context {
	n := c.next
	for n != nil && n.in == nil {
		n = n.next
	}
	return n
}

func (c *Context) prevOutbound() *Context {
	n := c.prev
	for n != nil && n.out == nil {
		n = n.prev
	}
	return n
}

func (c *Context) FireActive() {
	if n := c.nextInbound(); n != nil {
		n.in.OnActive(n)
	}
}

func (c *Context) FireRead(msg any) {
	if n := c.nextInbound(); n != nil {
		n.in.OnRead(n, msg)
	}
}

func (c *Context) FireInactive(err error) {
	if n := c.nextInbound(); n != nil {
		n.in.OnInactive(n, err)
	}
}

func (c *Context) FireError(err error) {
	if n := c.nextInbound(); n != nil {
		n.in.OnError(n, err)
	}
}

// Write 把消息交给前一个出站阶段，最终由 head 写到 Channel。
func (c *Context) Write(msg any) error {
	if n := c.prevOutbound(); n != nil {
		return n.out.Write(n, msg)
	}
	return ErrUnsupportedMessage
}

// Close 关闭所属连接。
func (c *Context) Close() error { return c.p.ch.Close() }

// Pipeline 是有序的阶段链，head 与 tail 为内置哨兵。
// 结构修改应在装配期或所属事件循环上进行。
type Pipeline struct {
	ch    Channel
	head  *Context
	tail  *Context
	names map[string]*Context
}

// New 为 ch 创建空流水线。
func New(ch Channel) *Pipeline {
	p := &Pipeline{ch: ch, names: make(map[string]*Context)}
	p.head = &Context{name: "head", out: headHandler{}, p: p}
	p.tail = &Context{name: "tail", in: tailHandler{}, p: p}
	p.head.next = p.tail
	p.tail.prev = p.head
	return p
}

func (p *Pipeline) Channel() Channel { return p.ch }

func (p *Pipeline) newContext(name string, h Handler) (*Context, error) {
	if _, ok := p.names[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	c := &Context{name: name, h: h, p: p}
	c.in, _ = h.(InboundHandler)
	c.out, _ = h.(OutboundHandler)
	if c.in == nil && c.out == nil {
		return nil, fmt.Errorf("%w: %q (%T)", ErrInvalidHandler, name, h)
	}
	return c, nil
}

func (p *Pipeline) insertAfter(at, c *Context) {
	c.prev = at
	c.next = at.next
	at.next.prev = c
	at.next = c
	p.names[c.name] = c
}

func (p *Pipeline) lookup(name string) (*Context, error) {
	c, ok := p.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStageNotFound, name)
	}
	return c, nil
}

// AddFirst 把阶段插到链首。
func (p *Pipeline) AddFirst(name string, h Handler) error {
	c, err := p.newContext(name, h)
	if err != nil {
		return err
	}
	p.insertAfter(p.head, c)
	return nil
}

// AddLast 把阶段追加到链尾。
func (p *Pipeline) AddLast(name string, h Handler) error {
	c, err := p.newContext(name, h)
	if err != nil {
		return err
	}
	p.insertAfter(p.tail.prev, c)
	return nil
}

// AddBefore 把阶段插到 base 之前。
func (p *Pipeline) AddBefore(base, name string, h Handler) error {
	at, err := p.lookup(base)
	if err != nil {
		return err
	}
	c, err := p.newContext(name, h)
	if err != nil {
		return err
	}
	p.insertAfter(at.prev, c)
	return nil
}

// AddAfter 把阶段插到 base 之后。
func (p *Pipeline) AddAfter(base, name string, h Handler) error {
	at, err := p.lookup(base)
	if err != nil {
		return err
	}
	c, err := p.newContext(name, h)
	if err != nil {
		return err
	}
	p.insertAfter(at, c)
	return nil
}

// Remove 摘除阶段并返回其 handler。
func (p *Pipeline) Remove(name string) (Handler, error) {
	c, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	c.prev.next = c.next
	c.next.prev = c.prev
	delete(p.names, name)
	return c.h, nil
}

// Get 返回阶段 handler，不存在时为 nil。
func (p *Pipeline) Get(name string) Handler {
	if c, ok := p.names[name]; ok {
		return c.h
	}
	return nil
}

// Context 返回阶段的上下文，不存在时为 nil。
func (p *Pipeline) Context(name string) *Context {
	return p.names[name]
}

// Names 按链上顺序返回阶段名（不含哨兵）。
func (p *Pipeline) Names() []string {
	out := make([]string, 0, len(p.names))
	for c := p.head.next; c != p.tail; c = c.next {
		out = append(out, c.name)
	}
	return out
}

func (p *Pipeline) FireActive()            { p.head.FireActive() }
func (p *Pipeline) FireRead(msg any)       { p.head.FireRead(msg) }
func (p *Pipeline) FireInactive(err error) { p.head.FireInactive(err) }
func (p *Pipeline) FireError(err error)    { p.head.FireError(err) }

// Write 从链尾开始出站写入。
func (p *Pipeline) Write(msg any) error { return p.tail.Write(msg) }
