//go:build darwin

package transport

import "golang.org/x/sys/unix"

// darwin 没有 accept4，接受后再设置非阻塞与 close-on-exec。
func accept(lfd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	return fd, sa, nil
}
