package protocol

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/registry"
	"github.com/Meander-Cloud/go-netevent/wire"
)

type closeResult struct {
	conn  *Conn
	cause error
}

type pipeFixture struct {
	registry *registry.Registry
	conn     *Conn
	peer     net.Conn
	closed   chan closeResult
}

func newPipeFixture(t *testing.T, c *config.Config) *pipeFixture {
	t.Helper()
	if c == nil {
		c = &config.Config{}
	}
	r := newRegistry(t, c, func(r *registry.Registry) error {
		return registry.Register[Ping](r)
	})
	c = c.WithDefaults()

	local, peer := net.Pipe()
	f := &pipeFixture{
		registry: r,
		peer:     peer,
		closed:   make(chan closeResult, 1),
	}
	f.conn = newConn(
		&connOptions{
			registry:            r,
			maxFrameLength:      c.MaxFrameLength,
			outboundQueueLength: c.OutboundQueueLength,
			writeTimeout:        time.Second,
			onClose: func(conn *Conn, cause error) {
				f.closed <- closeResult{conn: conn, cause: cause}
			},
			logPrefix: "conn-test",
		},
		local,
		"[%d]%s<-<%s>",
		"self",
	)
	t.Cleanup(func() {
		f.conn.Close()
		peer.Close()
	})
	return f
}

func (f *pipeFixture) writeFrame(t *testing.T, v any) {
	t.Helper()
	tag, payload, err := f.registry.Encode(v)
	require.NoError(t, err)
	frame, err := wire.Encode(tag, payload)
	require.NoError(t, err)
	_, err = f.peer.Write(frame)
	require.NoError(t, err)
}

func (f *pipeFixture) waitClosed(t *testing.T) closeResult {
	t.Helper()
	select {
	case res := <-f.closed:
		return res
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
		return closeResult{}
	}
}

func TestConnDeliversInOrder(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	for i := uint32(1); i <= 20; i++ {
		f.writeFrame(t, Ping{Seq: i})
	}

	pings := drainUntil[Ping](t, f.registry, 20)
	for i, p := range pings {
		assert.Equal(t, f.conn.ID(), p.Origin)
		assert.Equal(t, uint32(i+1), p.Value.Seq)
	}
	assert.Equal(t, StateConnected, f.conn.State())
}

func TestConnWritesFrames(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	tag, payload, err := f.registry.Encode(Pong{Seq: 9})
	require.NoError(t, err)
	frame, err := wire.Encode(tag, payload)
	require.NoError(t, err)
	require.NoError(t, f.conn.enqueue(frame))

	f.peer.SetReadDeadline(time.Now().Add(waitFor))
	gotTag, gotPayload, err := wire.ReadFrame(f.peer, wire.DefaultMaxFrameLength)
	require.NoError(t, err)
	assert.Equal(t, tag, gotTag)
	assert.Equal(t, payload, gotPayload)
}

func TestConnOversizedFrameCloses(t *testing.T) {
	f := newPipeFixture(t, &config.Config{MaxFrameLength: 64})
	go f.conn.run()

	var header [wire.HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], 65)
	_, err := f.peer.Write(header[:4])
	require.NoError(t, err)

	res := f.waitClosed(t)
	assert.Same(t, f.conn, res.conn)
	require.ErrorIs(t, res.cause, neterror.ErrFrame)
	assert.Equal(t, f.conn.ID(), res.cause.(*neterror.Error).ConnID)
	assert.False(t, f.conn.Alive())

	// stream closed on our side
	_, err = f.peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnUnregisteredTagCloses(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	f.writeFrame(t, Pong{Seq: 1})

	res := f.waitClosed(t)
	require.ErrorIs(t, res.cause, neterror.ErrUnregisteredType)
}

func TestConnBadPayloadCloses(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	frame, err := wire.Encode(registry.TagOf[Ping](), []byte{0xC1})
	require.NoError(t, err)
	_, err = f.peer.Write(frame)
	require.NoError(t, err)

	res := f.waitClosed(t)
	require.ErrorIs(t, res.cause, neterror.ErrDeserialization)
}

func TestConnPeerCloseIsOrderly(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	require.NoError(t, f.peer.Close())

	res := f.waitClosed(t)
	assert.NoError(t, res.cause)
	<-f.conn.Done()
	assert.Equal(t, StateDisconnected, f.conn.State())
}

func TestConnLocalCloseIdempotent(t *testing.T) {
	f := newPipeFixture(t, nil)
	go f.conn.run()

	f.conn.Close()
	f.conn.Close()

	res := f.waitClosed(t)
	assert.NoError(t, res.cause)

	err := f.conn.enqueue([]byte{})
	require.ErrorIs(t, err, neterror.ErrNotConnected)

	select {
	case <-f.closed:
		t.Fatal("onClose invoked twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnQueueFull(t *testing.T) {
	f := newPipeFixture(t, &config.Config{OutboundQueueLength: 2})

	// loops not running, nothing drains the queue
	frame, err := wire.Encode(wire.Tag(1), nil)
	require.NoError(t, err)
	require.NoError(t, f.conn.enqueue(frame))
	require.NoError(t, f.conn.enqueue(frame))
	require.ErrorIs(t, f.conn.enqueue(frame), neterror.ErrQueueFull)
	assert.Equal(t, StateConnecting, f.conn.State())
}
