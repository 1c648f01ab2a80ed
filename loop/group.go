package loop

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

// NameFunc 为组内第 idx 个循环命名。
type NameFunc func(idx int) string

// Named 返回形如 prefix-1、prefix-2 的命名函数。
func Named(prefix string) NameFunc {
	return func(idx int) string { return fmt.Sprintf("%s-%d", prefix, idx+1) }
}

// Group 是一组事件循环，Next 以轮询方式分配。
type Group struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewGroup 创建并启动 size 个事件循环；size<=0 时按 CPU 核数自动取值。
// 任一 selector 创建失败时，已启动的循环会被关闭。
func NewGroup(size int, names NameFunc, ioRatio int, newSelector SelectorFactory) (*Group, error) {
	if ioRatio < 1 || ioRatio > 100 {
		return nil, ErrInvalidIORatio
	}
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if names == nil {
		names = Named("loop")
	}
	g := &Group{loops: make([]*EventLoop, 0, size)}
	for i := 0; i < size; i++ {
		sel, err := newSelector()
		if err != nil {
			g.Shutdown()
			return nil, fmt.Errorf("loop: create selector for %s: %w", names(i), err)
		}
		l := newEventLoop(names(i), sel, ioRatio)
		g.loops = append(g.loops, l)
		l.start()
	}
	return g, nil
}

// Next 轮询返回下一个事件循环。
func (g *Group) Next() *EventLoop {
	idx := (g.next.Add(1) - 1) % uint64(len(g.loops))
	return g.loops[idx]
}

// Size 返回循环数量。
func (g *Group) Size() int { return len(g.loops) }

// Loops 返回循环列表的副本。
func (g *Group) Loops() []*EventLoop {
	out := make([]*EventLoop, len(g.loops))
	copy(out, g.loops)
	return out
}

// IORatio 返回组内第一个循环的 io 比例。
func (g *Group) IORatio() int {
	if len(g.loops) == 0 {
		return 0
	}
	return g.loops[0].IORatio()
}

// SetIORatio 统一调整组内所有循环的 io 比例。
func (g *Group) SetIORatio(ratio int) error {
	if ratio < 1 || ratio > 100 {
		return ErrInvalidIORatio
	}
	for _, l := range g.loops {
		_ = l.SetIORatio(ratio)
	}
	return nil
}

// Shutdown 通知所有循环退出，可重复调用。
func (g *Group) Shutdown() {
	for _, l := range g.loops {
		l.Shutdown()
	}
}

// ShuttingDown 报告组是否已开始关闭。
func (g *Group) ShuttingDown() bool {
	for _, l := range g.loops {
		if !l.ShuttingDown() {
			return false
		}
	}
	return true
}

// AwaitTermination 等待所有循环终止或 ctx 结束。
func (g *Group) AwaitTermination(ctx context.Context) error {
	for _, l := range g.loops {
		select {
		case <-l.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
