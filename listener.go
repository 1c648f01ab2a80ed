//go:generate mockgen -source=listener.go -destination=internal/mock/bind_listener_mock.go -package=mock

package gserve

import "sync"

// BindListener 接收 Start/Stop 的异步结果。
// Start 的回调在 acceptor 循环上执行，不要在其中阻塞。
type BindListener interface {
	OnSuccess()
	OnFailure(err error)
}

// ListenerFuncs 用函数实现 BindListener，nil 字段忽略。
type ListenerFuncs struct {
	Success func()
	Failure func(err error)
}

func (f ListenerFuncs) OnSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

func (f ListenerFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// onceListener 保证 OnSuccess/OnFailure 合计最多触发一次，容忍 nil。
type onceListener struct {
	l    BindListener
	once sync.Once
}

func notifyOnce(l BindListener) *onceListener { return &onceListener{l: l} }

func (o *onceListener) success() {
	o.once.Do(func() {
		if o.l != nil {
			o.l.OnSuccess()
		}
	})
}

func (o *onceListener) failure(err error) {
	o.once.Do(func() {
		if o.l != nil {
			o.l.OnFailure(err)
		}
	})
}
