// Package tcp provides the reference stream transport on top of go-transport.
package tcp

import (
	"context"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/net/transport"
	"github.com/Meander-Cloud/go-netevent/neterror"
)

const (
	// defaults for when not provided in Config
	ReconnectLogEvery uint32 = 60
)

type Provider struct {
	keepAliveInterval time.Duration
	keepAliveCount    uint16
	dialTimeout       time.Duration
	reconnectInterval time.Duration
	logPrefix         string
	logDebug          bool
}

type endpoint struct {
	address  string
	shutdown func()
}

func (e *endpoint) Address() string {
	return e.address
}

func (e *endpoint) Shutdown() {
	e.shutdown() // wait
}

var (
	_ transport.Provider = (*Provider)(nil)
	_ transport.Redialer = (*Provider)(nil)

	// go-transport drives any transport.Handler
	_ tcp.Protocol = (transport.Handler)(nil)
)

func NewProvider(c *config.Config) *Provider {
	var tcpKeepAliveCount uint16
	if c.TcpKeepAliveCount == 0 {
		tcpKeepAliveCount = config.TcpKeepAliveCount
	} else {
		tcpKeepAliveCount = c.TcpKeepAliveCount
	}

	return &Provider{
		keepAliveInterval: c.KeepAliveInterval(),
		keepAliveCount:    tcpKeepAliveCount,
		dialTimeout:       c.DialTimeout(),
		reconnectInterval: c.ReconnectInterval(),
		logPrefix:         c.LogPrefix,
		logDebug:          c.LogDebug,
	}
}

func (p *Provider) options(address string, h transport.Handler, role string) *tcp.Options {
	return &tcp.Options{
		Address:           address,
		KeepAliveInterval: p.keepAliveInterval,
		KeepAliveCount:    p.keepAliveCount,
		DialTimeout:       p.dialTimeout,
		ReconnectInterval: p.reconnectInterval,
		ReconnectLogEvery: ReconnectLogEvery,
		Protocol:          h,
		LogPrefix:         p.logPrefix + role,
		LogDebug:          p.logDebug,
	}
}

// Listen binds address through go-transport's TcpServer. The TcpServer keeps its listener private,
// so a zero port is first resolved to a concrete free port, making Endpoint.Address report the bound address.
// The TcpServer accept loop exits on its first Accept error without notifying h.
func (p *Provider) Listen(address string, h transport.Handler) (transport.Endpoint, error) {
	address, err := resolvePort(address)
	if err != nil {
		return nil, neterror.Wrap(neterror.CodeTransport, err, "%s: failed to resolve address=%s", p.logPrefix, address)
	}

	tcpServer, err := tcp.NewTcpServer(p.options(address, h, "-TcpServer"))
	if err != nil {
		return nil, neterror.Wrap(neterror.CodeTransport, err, "%s: failed to listen on address=%s", p.logPrefix, address)
	}

	return &endpoint{
		address:  address,
		shutdown: tcpServer.Shutdown,
	}, nil
}

func (p *Provider) Redial(address string, h transport.Handler) (transport.Endpoint, error) {
	tcpClient, err := tcp.NewTcpClient(p.options(address, h, "-TcpClient"))
	if err != nil {
		return nil, neterror.Wrap(neterror.CodeTransport, err, "%s: failed to start redial to address=%s", p.logPrefix, address)
	}

	return &endpoint{
		address:  address,
		shutdown: tcpClient.Shutdown,
	}, nil
}

func (p *Provider) Connect(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: p.dialTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     p.keepAliveInterval,
			Interval: p.keepAliveInterval,
			Count:    int(p.keepAliveCount),
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, neterror.Wrap(neterror.CodeTransport, err, "%s: failed to dial address=%s", p.logPrefix, address)
	}

	if connTCP, ok := conn.(*net.TCPConn); ok {
		// go enables TCP_NODELAY by default, make it explicit as go-transport does
		err = connTCP.SetNoDelay(true)
		if err != nil {
			log.Printf("%s: %s failed to enable TCP_NODELAY, err=%s", p.logPrefix, conn.RemoteAddr().String(), err.Error())
			// proceed
		}
	}

	if p.logDebug {
		log.Printf("%s: new %s connection %s", p.logPrefix, conn.RemoteAddr().Network(), conn.RemoteAddr().String())
	}

	return conn, nil
}

func resolvePort(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, err
	}
	if port != "0" && port != "" {
		return address, nil
	}

	// the port may be taken again between Close and the TcpServer bind, Listen then fails with address in use
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return address, err
	}
	defer listener.Close()

	return net.JoinHostPort(host, strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)), nil
}
