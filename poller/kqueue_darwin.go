//go:build darwin

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	errEOF    = errors.New("kqueue: eof")
	errKevent = errors.New("kqueue: ev_error")
)

type kqueuePoller struct {
	kq     int
	wfd    int // 管道写端，用于唤醒
	rfd    int // 管道读端，注册到 kqueue
	events []unix.Kevent_t
	ready  []unix.Kevent_t
}

// New 创建 kqueue 实例，以管道作为唤醒源。
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := fds[0], fds[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	var kev unix.Kevent_t
	unix.SetKevent(&kev, rfd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd, events: make([]unix.Kevent_t, 1024)}, nil
}

// changes 总是同时携带读写两个过滤器，未启用的以 EV_DISABLE 挂着，
// 这样 Mod/Unregister 不会遇到 ENOENT。
func changes(fd FD, readable, writable bool) []unix.Kevent_t {
	toggle := func(on bool) int {
		if on {
			return unix.EV_ADD | unix.EV_CLEAR | unix.EV_ENABLE
		}
		return unix.EV_ADD | unix.EV_CLEAR | unix.EV_DISABLE
	}
	var r, w unix.Kevent_t
	unix.SetKevent(&r, fd, unix.EVFILT_READ, toggle(readable))
	unix.SetKevent(&w, fd, unix.EVFILT_WRITE, toggle(writable))
	return []unix.Kevent_t{r, w}
}

func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	_, err := unix.Kevent(p.kq, changes(fd, readable, writable), nil, nil)
	return err
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	_, err := unix.Kevent(p.kq, changes(fd, readable, writable), nil, nil)
	return err
}

func (p *kqueuePoller) Unregister(fd FD) error {
	var r, w unix.Kevent_t
	unix.SetKevent(&r, fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&w, fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{r, w}, nil, nil)
	return err
}

func (p *kqueuePoller) Wake() error {
	b := [1]byte{1}
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Wait(msec int) (int, error) {
	p.ready = p.ready[:0]
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		if int(p.events[i].Ident) == p.rfd {
			p.drainWake()
			continue
		}
		p.ready = append(p.ready, p.events[i])
	}
	return len(p.ready), nil
}

func (p *kqueuePoller) drainWake() {
	var buf [16]byte
	for {
		if _, err := unix.Read(p.rfd, buf[:]); err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Dispatch(h Handler) {
	for _, ev := range p.ready {
		fd := int(ev.Ident)
		if ev.Flags&unix.EV_ERROR != 0 {
			h.OnClose(fd, errKevent)
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			h.OnReadable(fd)
			// 读完后若标记 EOF，再进行关闭回调
			if ev.Flags&unix.EV_EOF != 0 {
				h.OnClose(fd, errEOF)
			}
		case unix.EVFILT_WRITE:
			h.OnWritable(fd)
		}
	}
	p.ready = p.ready[:0]
}
