// Package loop 提供单 goroutine 事件循环与事件循环组。
//
// 每个 EventLoop 在一轮迭代中先等待并处理 I/O 就绪事件，再执行排队任务；
// ioRatio 决定一轮里 I/O 与任务各自能占用的时间比例。
package loop

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

var (
	// ErrLoopShutdown 事件循环已关闭，不再接收任务。
	ErrLoopShutdown = errors.New("loop: event loop is shut down")
	// ErrInvalidIORatio io 比例必须位于 [1, 100]。
	ErrInvalidIORatio = errors.New("loop: io ratio must be in [1, 100]")
)

// Selector 是事件循环的 I/O 来源。
// Select/ProcessReady/Close 只在循环 goroutine 上调用；Wakeup 可跨 goroutine。
type Selector interface {
	// Select 等待就绪事件，timeout<0 表示无限等待，0 表示立即返回。
	Select(timeout time.Duration) (int, error)
	// ProcessReady 分发上一次 Select 得到的事件。
	ProcessReady()
	// Wakeup 打断正在阻塞的 Select。
	Wakeup()
	Close() error
}

// SelectorFactory 为每个事件循环创建独立的 Selector。
type SelectorFactory func() (Selector, error)

const (
	stateRunning int32 = iota
	stateShuttingDown
	stateTerminated
)

// 每执行这么多个任务检查一次时间预算
const deadlineCheckInterval = 64

// EventLoop 绑定一个 goroutine，串行处理 I/O 与任务。
type EventLoop struct {
	name    string
	sel     Selector
	ioRatio atomic.Int32
	state   atomic.Int32

	mu    sync.Mutex // 保护 tasks，并与 state 的关闭转换互斥
	tasks *queue.Queue

	err  error
	done chan struct{}
}

func newEventLoop(name string, sel Selector, ioRatio int) *EventLoop {
	l := &EventLoop{
		name:  name,
		sel:   sel,
		tasks: queue.New(),
		done:  make(chan struct{}),
	}
	l.ioRatio.Store(int32(ioRatio))
	return l
}

// start 启动循环 goroutine，并以 pprof 标签标注名字，便于在 goroutine profile 中区分负载。
func (l *EventLoop) start() {
	go pprof.Do(context.Background(), pprof.Labels("loop", l.name), func(context.Context) {
		l.run()
	})
}

// Name 返回循环名，如 boss-1、worker-3。
func (l *EventLoop) Name() string { return l.name }

// Selector 返回循环持有的 I/O 来源。
func (l *EventLoop) Selector() Selector { return l.sel }

// IORatio 返回当前 io 比例。
func (l *EventLoop) IORatio() int { return int(l.ioRatio.Load()) }

// SetIORatio 调整 io 比例，下一轮迭代生效。
func (l *EventLoop) SetIORatio(ratio int) error {
	if ratio < 1 || ratio > 100 {
		return ErrInvalidIORatio
	}
	l.ioRatio.Store(int32(ratio))
	return nil
}

// Execute 把任务排入循环，任务总在循环 goroutine 上执行。
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return nil
	}
	l.mu.Lock()
	if l.state.Load() != stateRunning {
		l.mu.Unlock()
		return ErrLoopShutdown
	}
	l.tasks.Add(task)
	l.mu.Unlock()
	l.sel.Wakeup()
	return nil
}

// Schedule 在 d 之后把任务排入循环；返回的 Timer 可用于取消。
func (l *EventLoop) Schedule(d time.Duration, task func()) *time.Timer {
	return time.AfterFunc(d, func() { _ = l.Execute(task) })
}

// Shutdown 通知循环退出，不等待；用 Done 观察终止。
// 已排队的任务会在退出前执行完。
func (l *EventLoop) Shutdown() {
	l.mu.Lock()
	changed := l.state.CompareAndSwap(stateRunning, stateShuttingDown)
	l.mu.Unlock()
	if changed {
		l.sel.Wakeup()
	}
}

// Done 在循环彻底终止（selector 已关闭）后关闭。
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Err 返回导致循环异常退出的错误，仅在 Done 之后有意义。
func (l *EventLoop) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// ShuttingDown 报告循环是否已开始关闭。
func (l *EventLoop) ShuttingDown() bool { return l.state.Load() != stateRunning }

func (l *EventLoop) run() {
	defer l.terminate()
	for l.state.Load() == stateRunning {
		timeout := time.Duration(-1)
		if l.pending() > 0 {
			timeout = 0
		}
		n, err := l.sel.Select(timeout)
		if err != nil {
			l.err = err
			return
		}
		if n == 0 {
			l.runAllTasks()
			continue
		}
		ratio := l.IORatio()
		if ratio == 100 {
			l.sel.ProcessReady()
			l.runAllTasks()
			continue
		}
		start := time.Now()
		l.sel.ProcessReady()
		ioTime := time.Since(start)
		l.runTasksFor(ioTime * time.Duration(100-ratio) / time.Duration(ratio))
	}
}

func (l *EventLoop) terminate() {
	l.mu.Lock()
	l.state.Store(stateShuttingDown)
	l.mu.Unlock()
	// 此时 Execute 已拒绝新任务，队列有限
	for {
		task, ok := l.poll()
		if !ok {
			break
		}
		safeRun(task)
	}
	if err := l.sel.Close(); err != nil && l.err == nil {
		l.err = err
	}
	l.state.Store(stateTerminated)
	close(l.done)
}

func (l *EventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

func (l *EventLoop) poll() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tasks.Length() == 0 {
		return nil, false
	}
	return l.tasks.Remove().(func()), true
}

// runAllTasks 执行进入本轮时已排队的任务；执行期间新加入的任务留给下一轮，
// 避免自我重排的任务饿死 I/O。
func (l *EventLoop) runAllTasks() int {
	n := l.pending()
	ran := 0
	for ; ran < n; ran++ {
		task, ok := l.poll()
		if !ok {
			break
		}
		safeRun(task)
	}
	return ran
}

// runTasksFor 在预算内执行任务，每 deadlineCheckInterval 个任务检查一次截止时间。
func (l *EventLoop) runTasksFor(budget time.Duration) int {
	deadline := time.Now().Add(budget)
	ran := 0
	for {
		task, ok := l.poll()
		if !ok {
			return ran
		}
		safeRun(task)
		ran++
		if ran%deadlineCheckInterval == 0 && !time.Now().Before(deadline) {
			return ran
		}
	}
}

// safeRun 保证单个任务的 panic 不会终止事件循环。
func safeRun(task func()) {
	defer func() { _ = recover() }()
	task()
}
