package gserve

import (
	"net"

	"github.com/legamerdc/gserve/transport"
)

// bindAndNotify 提交异步绑定；完成回调在 acceptor 循环上执行。
// 成功时先切换到 Started 再通知 listener，失败时状态保持 Starting。
func (s *Server) bindAndNotify(ch transport.ServerChannel, addr string, l *onceListener) {
	ch.Bind(addr, func(bound net.Addr, err error) {
		if err != nil {
			s.log.Error().Err(err).Str("addr", addr).Msg("bind failed")
			l.failure(err)
			return
		}
		if !s.state.transition(Starting, Started) {
			s.log.Warn().Str("addr", bound.String()).Msg("server stopped before bind completed")
			_ = ch.Close()
			l.failure(ErrServerStopped)
			return
		}
		s.mu.Lock()
		s.addr = bound
		s.mu.Unlock()
		s.log.Info().Str("addr", bound.String()).Msg("server started")
		l.success()
	})
}
