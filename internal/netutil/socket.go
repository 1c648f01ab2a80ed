//go:build linux || darwin

// Package netutil 汇总 socket 选项的设置，供原生传输与可移植传输的 Control 钩子共用。
package netutil

import (
	"golang.org/x/sys/unix"
)

// Options 描述需要应用到 socket 上的选项，零值表示保持系统默认。
type Options struct {
	ReuseAddr bool
	ReusePort bool
	NoDelay   bool
	RecvBuf   int
	SendBuf   int
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

func SetReusePort(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolInt(enable))
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

func SetRecvBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}

func SetSendBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

// ApplyListen 设置监听 socket 的复用选项，需在 bind 之前调用。
func ApplyListen(fd int, o Options) error {
	if o.ReuseAddr {
		if err := SetReuseAddr(fd, true); err != nil {
			return err
		}
	}
	if o.ReusePort {
		if err := SetReusePort(fd, true); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConn 设置已建立连接的选项。
func ApplyConn(fd int, o Options) error {
	if o.NoDelay {
		if err := SetNoDelay(fd, true); err != nil {
			return err
		}
	}
	if o.RecvBuf > 0 {
		if err := SetRecvBuf(fd, o.RecvBuf); err != nil {
			return err
		}
	}
	if o.SendBuf > 0 {
		if err := SetSendBuf(fd, o.SendBuf); err != nil {
			return err
		}
	}
	return nil
}
