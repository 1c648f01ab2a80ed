//go:build linux || darwin

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recorder struct {
	readable []FD
	writable []FD
	closed   []FD
}

func (r *recorder) OnReadable(fd FD)         { r.readable = append(r.readable, fd) }
func (r *recorder) OnWritable(fd FD)         { r.writable = append(r.writable, fd) }
func (r *recorder) OnClose(fd FD, err error) { r.closed = append(r.closed, fd) }

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestPoller_WaitTimeout verifies that Wait returns zero events once the timeout elapses.
func TestPoller_WaitTimeout(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	n, err := p.Wait(20)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

// TestPoller_WakeIsAbsorbed verifies that a wakeup interrupts Wait without
// being reported as an fd event.
func TestPoller_WakeIsAbsorbed(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Wake())
	n, err := p.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestPoller_ReadableDispatch verifies that data written to one end of a
// socket pair is reported as readable on the other end.
func TestPoller_ReadableDispatch(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Register(a, true, false))

	_, err = unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var rec recorder
	p.Dispatch(&rec)
	assert.Equal(t, []FD{a}, rec.readable)
	assert.Empty(t, rec.writable)
}

// TestPoller_ModWritable verifies that enabling write interest reports the fd as writable.
func TestPoller_ModWritable(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	require.NoError(t, p.Register(a, true, false))
	require.NoError(t, p.Mod(a, true, true))

	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var rec recorder
	p.Dispatch(&rec)
	assert.Equal(t, []FD{a}, rec.writable)

	require.NoError(t, p.Unregister(a))
}
