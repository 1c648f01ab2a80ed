//go:build !linux && !darwin

package transport

import "syscall"

// 其他平台不支持 SO_REUSEPORT，使用 net 包默认选项。
func listenControl(Options) func(network, address string, c syscall.RawConn) error { return nil }
