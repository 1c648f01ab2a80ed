package transport

import (
	"fmt"

	"github.com/legamerdc/gserve/internal/logger"
)

// Probe 决定本次启动使用哪种传输。
type Probe struct {
	// Disabled 强制使用可移植传输
	Disabled bool
	// Check 判断原生多路复用是否可用，nil 时创建并关闭一个 epoll/kqueue 实例
	Check  func() error
	Logger *logger.Logger
}

// Select 返回所选传输，不会失败：原生不可用时记录 debug 日志并回退到可移植传输。
func (p Probe) Select() Kind {
	if !nativeCompiled || p.Disabled {
		return PortableMultiplexer
	}
	check := p.Check
	if check == nil {
		check = nativeCheck
	}
	if err := check(); err != nil {
		log := p.Logger
		if log == nil {
			log = logger.Nop()
		}
		log.Debug().
			Err(fmt.Errorf("%w: %v", ErrPlatformUnsupported, err)).
			Msg("native multiplexer unavailable, falling back to portable")
		return PortableMultiplexer
	}
	return NativeMultiplexer
}
