//go:build !linux && !darwin

package transport

import "github.com/legamerdc/gserve/loop"

const nativeCompiled = false

func nativeCheck() error { return ErrPlatformUnsupported }

func newNativeSelector() (loop.Selector, error) { return nil, ErrPlatformUnsupported }

func newNativeServerChannel(*loop.EventLoop, *loop.Group, Initializer, Options) (ServerChannel, error) {
	return nil, ErrPlatformUnsupported
}
