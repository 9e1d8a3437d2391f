package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/neterror"
)

type echoHandler struct {
	mutex    sync.Mutex
	conns    []net.Conn
	accepted chan struct{}
	closed   chan struct{}
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		accepted: make(chan struct{}, 16),
		closed:   make(chan struct{}),
	}
}

func (h *echoHandler) ReadLoop(conn net.Conn) {
	h.mutex.Lock()
	h.conns = append(h.conns, conn)
	h.mutex.Unlock()
	h.accepted <- struct{}{}

	io.Copy(conn, conn)
	conn.Close()
}

func (h *echoHandler) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, conn := range h.conns {
		conn.Close()
	}
	close(h.closed)
}

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := l.Addr().String()
	require.NoError(t, l.Close())
	return address
}

func testProvider() *Provider {
	return NewProvider(&config.Config{TcpReconnectInterval: 1, LogPrefix: "tcp-test"})
}

func TestListenConnectEcho(t *testing.T) {
	p := testProvider()
	h := newEchoHandler()
	address := freeAddress(t)

	e, err := p.Listen(address, h)
	require.NoError(t, err)
	assert.Equal(t, address, e.Address())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := p.Connect(ctx, address)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	e.Shutdown()

	select {
	case <-h.closed:
	case <-time.After(time.Second):
		t.Fatal("handler was not closed on shutdown")
	}
}

func TestListenZeroPortReportsBoundAddress(t *testing.T) {
	p := testProvider()
	h := newEchoHandler()

	e, err := p.Listen("127.0.0.1:0", h)
	require.NoError(t, err)
	defer e.Shutdown()

	host, port, err := net.SplitHostPort(e.Address())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := p.Connect(ctx, e.Address())
	require.NoError(t, err)
	conn.Close()
}

func TestListenInvalidAddress(t *testing.T) {
	_, err := testProvider().Listen("no-port", newEchoHandler())
	require.ErrorIs(t, err, neterror.ErrTransport)
}

func TestListenAddressInUse(t *testing.T) {
	p := testProvider()
	address := freeAddress(t)

	e, err := p.Listen(address, newEchoHandler())
	require.NoError(t, err)
	defer e.Shutdown()

	_, err = p.Listen(address, newEchoHandler())
	require.ErrorIs(t, err, neterror.ErrTransport)
}

func TestConnectRefused(t *testing.T) {
	p := testProvider()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.Connect(ctx, freeAddress(t))
	require.ErrorIs(t, err, neterror.ErrTransport)
}

func TestRedialReconnects(t *testing.T) {
	p := testProvider()
	server := newEchoHandler()
	address := freeAddress(t)

	e, err := p.Listen(address, server)
	require.NoError(t, err)
	defer e.Shutdown()

	client := newEchoHandler()
	r, err := p.Redial(address, client)
	require.NoError(t, err)
	defer r.Shutdown()

	select {
	case <-server.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("first stream not accepted")
	}

	// drop every server side stream, the redialer comes back after the reconnect interval
	server.mutex.Lock()
	for _, conn := range server.conns {
		conn.Close()
	}
	server.mutex.Unlock()

	select {
	case <-server.accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("stream not redialed")
	}
}
