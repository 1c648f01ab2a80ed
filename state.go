package gserve

import (
	"fmt"
	"sync/atomic"
)

// State 是服务端生命周期状态，只能单向前进。
type State int32

const (
	Created State = iota
	Initialized
	Starting
	Started
	Shutdown
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// lifecycle 只允许 CAS 修改状态。
type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() State { return State(l.v.Load()) }

func (l *lifecycle) transition(from, to State) bool {
	return l.v.CompareAndSwap(int32(from), int32(to))
}

// shutdown 从 Starting 或 Started 进入 Shutdown，返回转换前的状态。
func (l *lifecycle) shutdown() (State, bool) {
	for {
		cur := l.load()
		if cur != Starting && cur != Started {
			return cur, false
		}
		if l.transition(cur, Shutdown) {
			return cur, true
		}
	}
}
