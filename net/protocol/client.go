package protocol

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/net/transport"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/registry"
	"github.com/Meander-Cloud/go-netevent/wire"
)

type ClientOptions struct {
	Config   *config.Config
	Registry *registry.Registry
	Provider transport.Provider
}

type Client struct {
	options    *ClientOptions
	config     *config.Config
	selfID     string
	inShutdown atomic.Bool

	// guards exitwg.Add against Close
	mutex  sync.Mutex
	exitwg sync.WaitGroup

	conn         atomic.Pointer[Conn]
	events       *events
	endpoint     transport.Endpoint // set in reconnect mode
	shutdownOnce sync.Once
}

var _ transport.Handler = (*Client)(nil)

// NewClient seals the registry and connects to Config.ConnectAddress.
// Without Config.Reconnect the stream is established before NewClient returns and a dial failure is returned,
// with it the transport keeps redialing in the background and every new stream gets a fresh ConnID.
func NewClient(options *ClientOptions) (*Client, error) {
	if options == nil || options.Config == nil {
		err := neterror.New(neterror.CodeInvalidConfig, "nil config")
		log.Printf("%s", err.Error())
		return nil, err
	}

	err := options.Config.Validate()
	if err != nil {
		return nil, err
	}
	c := options.Config.WithDefaults()

	if c.ConnectAddress == "" {
		err := neterror.New(neterror.CodeInvalidConfig, "%s: invalid ConnectAddress=%s", c.LogPrefix, c.ConnectAddress)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.Registry == nil {
		err := neterror.New(neterror.CodeInvalidConfig, "%s: nil Registry", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.Provider == nil {
		err := neterror.New(neterror.CodeInvalidConfig, "%s: nil Provider", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	var redialer transport.Redialer
	if c.Reconnect {
		var ok bool
		redialer, ok = options.Provider.(transport.Redialer)
		if !ok {
			err := neterror.New(neterror.CodeInvalidConfig, "%s: provider %T cannot redial", c.LogPrefix, options.Provider)
			log.Printf("%s", err.Error())
			return nil, err
		}
	}

	options.Registry.Seal()

	p := &Client{
		options: options,
		config:  c,
		selfID:  selfID(c.Instance),
		events:  newEvents(c.EventQueueLength, c.LogPrefix, c.LogDebug),
	}

	if redialer != nil {
		p.endpoint, err = redialer.Redial(c.ConnectAddress, p)
		if err != nil {
			log.Printf("%s: %s", c.LogPrefix, err.Error())
			p.events.stop()
			return nil, err
		}
		return p, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout())
	defer cancel()

	raw, err := options.Provider.Connect(ctx, c.ConnectAddress)
	if err != nil {
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		p.events.stop()
		return nil, err
	}

	conn := p.attach(raw)
	if conn == nil {
		p.events.stop()
		return nil, neterror.New(neterror.CodeShutdown, "%s: client in shutdown", c.LogPrefix)
	}
	go p.serve(conn)

	return p, nil
}

// Connect is NewClient with positional arguments.
func Connect(c *config.Config, r *registry.Registry, p transport.Provider) (*Client, error) {
	return NewClient(
		&ClientOptions{
			Config:   c,
			Registry: r,
			Provider: p,
		},
	)
}

func (p *Client) SelfID() string {
	return p.selfID
}

// invoked on transport connect goroutine in reconnect mode, blocks until the connection is closed
func (p *Client) ReadLoop(raw net.Conn) {
	conn := p.attach(raw)
	if conn == nil {
		return
	}
	p.serve(conn)
}

func (p *Client) attach(raw net.Conn) *Conn {
	conn := newConn(
		&connOptions{
			registry:            p.options.Registry,
			maxFrameLength:      p.config.MaxFrameLength,
			outboundQueueLength: p.config.OutboundQueueLength,
			writeTimeout:        p.config.WriteTimeout(),
			onClose:             p.onClose,
			logPrefix:           p.config.LogPrefix,
			logDebug:            p.config.LogDebug,
		},
		raw,
		"[%d]%s-><%s>",
		p.selfID,
	)

	admitted := func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		if p.inShutdown.Load() {
			return false
		}

		p.exitwg.Add(1)
		p.conn.Store(conn)
		return true
	}()
	if !admitted {
		log.Printf("%s: %s: connection rejected, in shutdown", p.config.LogPrefix, conn.Descriptor())
		conn.Close()
		raw.Close()
		return nil
	}

	p.events.notify(message.EventConnected, conn.ID(), nil)
	return conn
}

func (p *Client) serve(conn *Conn) {
	defer p.exitwg.Done()
	conn.run() // wait
}

// invoked on connection goroutine
func (p *Client) onClose(conn *Conn, cause error) {
	p.conn.CompareAndSwap(conn, nil)

	if cause != nil {
		p.events.notify(message.EventError, conn.ID(), cause)
	}
	p.events.notify(message.EventDisconnected, conn.ID(), nil)
}

// Close is invoked by the transport on shutdown, it closes the active connection and waits for it.
func (p *Client) Close() {
	log.Printf("%s: protocol closing", p.config.LogPrefix)

	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		p.inShutdown.Store(true)
	}()

	conn := p.conn.Load()
	if conn != nil {
		conn.Close()
	}

	p.exitwg.Wait()
	log.Printf("%s: protocol closed", p.config.LogPrefix)
}

// Shutdown stops redialing and closes the connection, the resulting Disconnected event remains drainable.
func (p *Client) Shutdown() {
	p.shutdownOnce.Do(func() {
		if p.endpoint != nil {
			p.endpoint.Shutdown() // wait
		} else {
			p.Close()
		}
		p.events.stop()
	})
}

// ID returns the current connection id, InvalidConnID while disconnected.
func (p *Client) ID() message.ConnID {
	conn := p.conn.Load()
	if conn == nil {
		return message.InvalidConnID
	}
	return conn.ID()
}

// Send queues msg for the server, it never blocks.
func (p *Client) Send(msg any) error {
	conn := p.conn.Load()
	if conn == nil {
		err := neterror.New(neterror.CodeNotConnected, "%s: no active connection", p.config.LogPrefix)
		if p.config.LogDebug {
			log.Printf("%s", err.Error())
		}
		return err
	}

	return p.send(conn, msg)
}

// SendTo is Send bound to one connection id, satisfying request.Sender.
func (p *Client) SendTo(id message.ConnID, msg any) error {
	conn := p.conn.Load()
	if conn == nil || conn.ID() != id {
		err := neterror.New(neterror.CodeConnectionNotFound, "%s: connID=%d, no active connection", p.config.LogPrefix, id).WithConn(id)
		if p.config.LogDebug {
			log.Printf("%s", err.Error())
		}
		return err
	}

	return p.send(conn, msg)
}

func (p *Client) send(conn *Conn, msg any) error {
	tag, payload, err := p.options.Registry.Encode(msg)
	if err != nil {
		log.Printf("%s: %s", p.config.LogPrefix, err.Error())
		return err
	}

	frame := wire.AppendFrame(make([]byte, 0, wire.HeaderSize+len(payload)), tag, payload)
	return conn.enqueue(frame)
}

// Disconnect closes the active connection, in reconnect mode the transport dials a new one.
func (p *Client) Disconnect() error {
	conn := p.conn.Swap(nil)
	if conn == nil {
		err := neterror.New(neterror.CodeNotConnected, "%s: no active connection", p.config.LogPrefix)
		if p.config.LogDebug {
			log.Printf("%s", err.Error())
		}
		return err
	}

	log.Printf("%s: %s: disconnecting", p.config.LogPrefix, conn.Descriptor())
	conn.Close()
	return nil
}

// Connections returns the active connection id, empty while disconnected.
func (p *Client) Connections() []message.ConnID {
	conn := p.conn.Load()
	if conn == nil {
		return nil
	}
	return []message.ConnID{conn.ID()}
}

func (p *Client) HasConnections() bool {
	return p.conn.Load() != nil
}

func (p *Client) Count() int {
	if p.conn.Load() == nil {
		return 0
	}
	return 1
}

// NetworkEvents drains lifecycle events accumulated since the previous call, never blocks.
func (p *Client) NetworkEvents() []message.NetworkEvent {
	return p.events.drain()
}

func (p *Client) Registry() *registry.Registry {
	return p.options.Registry
}
