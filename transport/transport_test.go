package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/gserve/loop"
	"github.com/legamerdc/gserve/pipeline"
)

func kinds() []Kind {
	if nativeCompiled {
		return []Kind{PortableMultiplexer, NativeMultiplexer}
	}
	return []Kind{PortableMultiplexer}
}

func newGroups(t *testing.T, kind Kind) (*loop.Group, *loop.Group) {
	t.Helper()
	acceptor, err := loop.NewGroup(1, loop.Named("boss"), 100, NewSelector(kind))
	require.NoError(t, err)
	workers, err := loop.NewGroup(2, loop.Named("worker"), 70, NewSelector(kind))
	require.NoError(t, err)
	t.Cleanup(func() {
		acceptor.Shutdown()
		workers.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = acceptor.AwaitTermination(ctx)
		_ = workers.AwaitTermination(ctx)
	})
	return acceptor, workers
}

func bind(t *testing.T, sc ServerChannel, addr string) (net.Addr, error) {
	t.Helper()
	type result struct {
		addr net.Addr
		err  error
	}
	ch := make(chan result, 1)
	sc.Bind(addr, func(a net.Addr, err error) { ch <- result{a, err} })
	select {
	case r := <-ch:
		return r.addr, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("bind did not complete")
		return nil, nil
	}
}

type echo struct {
	pipeline.InboundAdapter
	active   chan pipeline.Channel
	inactive chan error
}

func newEcho() *echo {
	return &echo{active: make(chan pipeline.Channel, 8), inactive: make(chan error, 8)}
}

func (e *echo) OnActive(ctx *pipeline.Context)            { e.active <- ctx.Channel() }
func (e *echo) OnRead(ctx *pipeline.Context, msg any)     { _ = ctx.Write(msg) }
func (e *echo) OnInactive(_ *pipeline.Context, err error) { e.inactive <- err }

func (e *echo) initializer() Initializer {
	return func(ch pipeline.Channel) error { return ch.Pipeline().AddLast("handler", e) }
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "portable", PortableMultiplexer.String())
	assert.Equal(t, "native", NativeMultiplexer.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestProbe_Select(t *testing.T) {
	called := false
	check := func() error { called = true; return nil }

	assert.Equal(t, PortableMultiplexer, Probe{Disabled: true, Check: check}.Select())
	assert.False(t, called)

	assert.Equal(t, PortableMultiplexer, Probe{Check: func() error { return errors.New("no epoll") }}.Select())

	want := PortableMultiplexer
	if nativeCompiled {
		want = NativeMultiplexer
	}
	assert.Equal(t, want, Probe{Check: check}.Select())
	assert.Equal(t, nativeCompiled, called)
	assert.Equal(t, want, Probe{}.Select())
}

func TestKindOf(t *testing.T) {
	for _, kind := range kinds() {
		acceptor, _ := newGroups(t, kind)
		got, ok := KindOf(acceptor.Next())
		require.True(t, ok)
		assert.Equal(t, kind, got)
	}
}

func TestNewServerChannel_TransportMismatch(t *testing.T) {
	acceptor, workers := newGroups(t, PortableMultiplexer)
	_, err := NewServerChannel(NativeMultiplexer, acceptor, workers, newEcho().initializer(), Options{})
	assert.ErrorIs(t, err, ErrTransportMismatch)

	_, err = NewServerChannel(PortableMultiplexer, acceptor, workers, nil, Options{})
	assert.Error(t, err)
}

func TestServerChannel_Echo(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			acceptor, workers := newGroups(t, kind)
			h := newEcho()
			sc, err := NewServerChannel(kind, acceptor, workers, h.initializer(), Options{NoDelay: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = sc.Close() })

			addr, err := bind(t, sc, "127.0.0.1:0")
			require.NoError(t, err)
			assert.Equal(t, addr.String(), sc.LocalAddr().String())

			conn, err := net.Dial("tcp", addr.String())
			require.NoError(t, err)
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			_, err = conn.Write([]byte("ping"))
			require.NoError(t, err)
			buf := make([]byte, 4)
			_, err = io.ReadFull(conn, buf)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf))

			ch := <-h.active
			assert.Equal(t, conn.LocalAddr().String(), ch.RemoteAddr().String())

			require.NoError(t, conn.Close())
			select {
			case err := <-h.inactive:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("inactive not fired")
			}
		})
	}
}

func TestServerChannel_AddrInUse(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			acceptor, workers := newGroups(t, kind)
			first, err := NewServerChannel(kind, acceptor, workers, newEcho().initializer(), Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = first.Close() })
			addr, err := bind(t, first, "127.0.0.1:0")
			require.NoError(t, err)

			second, err := NewServerChannel(kind, acceptor, workers, newEcho().initializer(), Options{})
			require.NoError(t, err)
			_, err = bind(t, second, addr.String())
			assert.True(t, errors.Is(err, syscall.EADDRINUSE), "got %v", err)
			assert.Nil(t, second.LocalAddr())
		})
	}
}

func TestServerChannel_CloseReleasesPort(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			acceptor, workers := newGroups(t, kind)
			sc, err := NewServerChannel(kind, acceptor, workers, newEcho().initializer(), Options{})
			require.NoError(t, err)
			addr, err := bind(t, sc, "127.0.0.1:0")
			require.NoError(t, err)

			require.NoError(t, sc.Close())
			require.NoError(t, sc.Close())
			select {
			case <-sc.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("server channel not released")
			}
			ln, err := net.Listen("tcp", addr.String())
			require.NoError(t, err)
			_ = ln.Close()

			_, err = bind(t, sc, "127.0.0.1:0")
			assert.ErrorIs(t, err, ErrChannelClosed)
		})
	}
}

func TestServerChannel_InitializerErrorClosesConnection(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			acceptor, workers := newGroups(t, kind)
			failing := func(pipeline.Channel) error { return errors.New("boom") }
			sc, err := NewServerChannel(kind, acceptor, workers, failing, Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = sc.Close() })
			addr, err := bind(t, sc, "127.0.0.1:0")
			require.NoError(t, err)

			conn, err := net.Dial("tcp", addr.String())
			require.NoError(t, err)
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, err = conn.Read(make([]byte, 1))
			assert.Error(t, err)
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "connection was not closed")
			}
		})
	}
}

func TestServerChannel_WorkerShutdownClosesConnections(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			acceptor, workers := newGroups(t, kind)
			h := newEcho()
			sc, err := NewServerChannel(kind, acceptor, workers, h.initializer(), Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = sc.Close() })
			addr, err := bind(t, sc, "127.0.0.1:0")
			require.NoError(t, err)

			conn, err := net.Dial("tcp", addr.String())
			require.NoError(t, err)
			defer conn.Close()
			<-h.active

			workers.Shutdown()
			select {
			case err := <-h.inactive:
				assert.ErrorIs(t, err, loop.ErrLoopShutdown)
			case <-time.After(5 * time.Second):
				t.Fatal("inactive not fired on shutdown")
			}
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, err = conn.Read(make([]byte, 1))
			assert.Error(t, err)
		})
	}
}
