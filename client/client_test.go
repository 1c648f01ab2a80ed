package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/gserve/protocol"
)

type message struct {
	api     uint16
	payload string
}

type collector struct {
	open   chan struct{}
	msgs   chan message
	closed chan error
}

func newCollector() *collector {
	return &collector{open: make(chan struct{}, 1), msgs: make(chan message, 16), closed: make(chan error, 1)}
}

func (h *collector) OnOpen(*Client) { h.open <- struct{}{} }
func (h *collector) OnMessage(_ *Client, api uint16, msg []byte) {
	h.msgs <- message{api, string(msg)}
}
func (h *collector) OnClose(_ *Client, err error) { h.closed <- err }

// rawEcho 把收到的字节原样写回。
func rawEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func recv(t *testing.T, h *collector) message {
	t.Helper()
	select {
	case m := <-h.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
		return message{}
	}
}

func TestClient_WriteAndReceive(t *testing.T) {
	h := newCollector()
	c, err := Dial("tcp", rawEcho(t), h)
	require.NoError(t, err)
	<-h.open

	require.NoError(t, c.Write(1, []byte("hello")))
	require.NoError(t, c.WriteCompressed(2, []byte("zipped")))
	require.NoError(t, c.WriteBatch([]protocol.BatchItem{{Api: 3, Payload: []byte("a")}, {Api: 4, Payload: []byte("b")}}))

	assert.Equal(t, message{1, "hello"}, recv(t, h))
	assert.Equal(t, message{2, "zipped"}, recv(t, h))
	assert.Equal(t, message{3, "a"}, recv(t, h))
	assert.Equal(t, message{4, "b"}, recv(t, h))

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not exit")
	}
	assert.NoError(t, <-h.closed)
}

func TestClient_OversizeFrameCloses(t *testing.T) {
	h := newCollector()
	c, err := Dial("tcp", rawEcho(t), h, WithMaxPayload(8))
	require.NoError(t, err)
	require.NoError(t, c.Write(1, []byte("this payload is too long")))

	select {
	case err := <-h.closed:
		assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
	case <-time.After(5 * time.Second):
		t.Fatal("client not closed")
	}
}

func TestDial_Error(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial("tcp", addr, newCollector(), WithDialTimeout(time.Second))
	assert.Error(t, err)
}
