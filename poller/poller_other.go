//go:build !linux && !darwin

package poller

import "errors"

// ErrUnsupported 当前平台没有原生多路复用实现。
var ErrUnsupported = errors.New("poller: platform not supported (requires epoll or kqueue)")

// New 在不支持的平台上直接返回错误。
func New() (Poller, error) {
	return nil, ErrUnsupported
}
