package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/net/tcp"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/registry"
)

func TestConnectRefused(t *testing.T) {
	c := &config.Config{ConnectAddress: freeAddress(t), TcpDialTimeout: 1}
	r := newRegistry(t, c, nil)

	_, err := Connect(c, r, tcp.NewProvider(c))
	require.ErrorIs(t, err, neterror.ErrTransport)
}

func TestConnectInvalid(t *testing.T) {
	r := newRegistry(t, nil, nil)

	_, err := Connect(&config.Config{}, r, tcp.NewProvider(&config.Config{}))
	require.ErrorIs(t, err, neterror.ErrInvalidConfig)

	_, err = Connect(&config.Config{ConnectAddress: "127.0.0.1:1"}, r, nil)
	require.ErrorIs(t, err, neterror.ErrInvalidConfig)
}

func TestClientSendTo(t *testing.T) {
	f := startServer(t, nil)
	client, _ := f.connect(t)

	require.NoError(t, client.SendTo(client.ID(), Ping{Seq: 3}))
	pings := drainUntil[Ping](t, f.registry, 1)
	assert.Equal(t, uint32(3), pings[0].Value.Seq)

	err := client.SendTo(client.ID()+1000, Ping{Seq: 4})
	require.ErrorIs(t, err, neterror.ErrConnectionNotFound)
}

func TestClientShutdown(t *testing.T) {
	f := startServer(t, nil)
	client, _ := f.connect(t)
	id := client.ID()
	serverID := f.identify(t, client, 1)

	client.Shutdown()
	client.Shutdown()

	evs := client.NetworkEvents()
	assert.Equal(t, []message.NetworkEvent{
		{Kind: message.EventConnected, ConnID: id},
		{Kind: message.EventDisconnected, ConnID: id},
	}, evs)

	eventsUntil(t, f.server, hasEvent(message.EventDisconnected, serverID))
}

func TestReconnectingClient(t *testing.T) {
	f := startServer(t, nil)

	c := &config.Config{
		ConnectAddress:       f.address,
		Reconnect:            true,
		TcpReconnectInterval: 1,
		LogPrefix:            "reconnect",
	}
	r := newRegistry(t, c, func(r *registry.Registry) error {
		return registry.Register[Pong](r)
	})

	client, err := Connect(c, r, tcp.NewProvider(c))
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)

	require.Eventually(t, client.HasConnections, waitFor, tick)
	first := client.ID()
	serverID := f.identify(t, client, 1)

	require.NoError(t, f.server.Disconnect(serverID))

	require.Eventually(t, func() bool {
		id := client.ID()
		return id != message.InvalidConnID && id != first
	}, waitFor, tick)

	second := f.identify(t, client, 2)
	assert.NotEqual(t, serverID, second)

	evs := eventsUntil(t, client, hasEvent(message.EventConnected, client.ID()))
	assert.True(t, hasEvent(message.EventDisconnected, first)(evs))
}
