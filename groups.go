package gserve

import (
	"fmt"

	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/transport"
)

type newGroupFunc func(size int, names loop.NameFunc, ioRatio int, newSelector loop.SelectorFactory) (*loop.Group, error)

// groupFactory 提供 acceptor 与 worker 组；外部传入的组原样返回且不归 Server 所有。
type groupFactory struct {
	cfg              Config
	borrowedAcceptor *loop.Group
	borrowedWorker   *loop.Group
	newGroup         newGroupFunc
}

func (f *groupFactory) acceptor(kind transport.Kind) (*loop.Group, bool, error) {
	if f.borrowedAcceptor != nil {
		return f.borrowedAcceptor, false, transport.CheckGroup(kind, f.borrowedAcceptor)
	}
	g, err := f.newGroup(1, loop.Named(f.cfg.AcceptorName), f.cfg.AcceptorIORatio, transport.NewSelector(kind))
	if err != nil {
		return nil, false, fmt.Errorf("acceptor group: %w", err)
	}
	return g, true, nil
}

func (f *groupFactory) worker(kind transport.Kind) (*loop.Group, bool, error) {
	if f.borrowedWorker != nil {
		return f.borrowedWorker, false, transport.CheckGroup(kind, f.borrowedWorker)
	}
	g, err := f.newGroup(f.cfg.WorkerThreads, loop.Named(f.cfg.WorkerName), f.cfg.WorkerIORatio, transport.NewSelector(kind))
	if err != nil {
		return nil, false, fmt.Errorf("worker group: %w", err)
	}
	return g, true, nil
}
