// Package poller 封装平台原生的 I/O 多路复用（Linux epoll / Darwin kqueue）。
//
// 与常见的 Run 死循环不同，这里把一次事件循环拆成 Wait 与 Dispatch 两步，
// 由上层事件循环在两者之间统计 I/O 耗时，并穿插执行任务队列。
package poller

// FD 表示文件描述符。
type FD = int

// Handler 是 poller 的事件回调接口。
// 在调用 Dispatch 的 goroutine 中执行，要求无阻塞返回。
type Handler interface {
	OnReadable(fd FD)
	OnWritable(fd FD)
	OnClose(fd FD, err error)
}

// Poller 提供 fd 注册与单轮等待/分发。
// Wait 与 Dispatch 只能由同一个 goroutine 调用；Register/Mod/Unregister/Wake 可跨 goroutine。
type Poller interface {
	Register(fd FD, readable, writable bool) error
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error
	// Wait 阻塞等待就绪事件，msec<0 表示无限等待。
	// 返回就绪的 fd 事件数，唤醒事件已被吸收且不计入。
	Wait(msec int) (int, error)
	// Dispatch 分发最近一次 Wait 得到的事件。
	Dispatch(h Handler)
	Wake() error
	Close() error
}
