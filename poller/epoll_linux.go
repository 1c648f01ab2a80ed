//go:build linux

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errHangup = errors.New("epoll: err|hup")

type epollPoller struct {
	efd    int
	wfd    int // eventfd，用于唤醒
	events []unix.EpollEvent
	ready  []unix.EpollEvent
}

// New 创建 epoll 实例并注册唤醒用的 eventfd。
func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return &epollPoller{
		efd:    efd,
		wfd:    wfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func epollFlags(readable, writable bool) uint32 {
	var flag uint32 = unix.EPOLLET | unix.EPOLLRDHUP
	if readable {
		flag |= unix.EPOLLIN
	}
	if writable {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Register(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Mod(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd FD) error {
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

func (p *epollPoller) Wait(msec int) (int, error) {
	p.ready = p.ready[:0]
	n, err := unix.EpollWait(p.efd, p.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		if int(p.events[i].Fd) == p.wfd {
			p.drainWake()
			continue
		}
		p.ready = append(p.ready, p.events[i])
	}
	return len(p.ready), nil
}

// drainWake 清空 eventfd 计数
func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wfd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Dispatch(h Handler) {
	for _, ev := range p.ready {
		fd := int(ev.Fd)
		// 先读后关：HUP 时缓冲区里可能还有数据
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			h.OnReadable(fd)
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			h.OnWritable(fd)
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			h.OnClose(fd, errHangup)
		}
	}
	p.ready = p.ready[:0]
}
