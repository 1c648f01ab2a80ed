//go:build linux || darwin

package transport

import (
	"syscall"

	"github.com/legamerdc/gserve/internal/netutil"
)

func (o Options) listenOptions() netutil.Options {
	return netutil.Options{ReuseAddr: true, ReusePort: o.ReusePort}
}

func (o Options) connOptions() netutil.Options {
	return netutil.Options{NoDelay: o.NoDelay, RecvBuf: o.RecvBuf, SendBuf: o.SendBuf}
}

// listenControl 在 bind 之前把监听选项应用到 net.ListenConfig 创建的 socket 上。
func listenControl(o Options) func(network, address string, c syscall.RawConn) error {
	lo := o.listenOptions()
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) { serr = netutil.ApplyListen(int(fd), lo) }); err != nil {
			return err
		}
		return serr
	}
}
