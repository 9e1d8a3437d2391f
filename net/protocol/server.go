package protocol

import (
	"errors"
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

type ServerOptions struct {
	Config   *config.Config
	Registry *registry.Registry
	Provider transport.Provider
}

type Server struct {
	options    *ServerOptions
	config     *config.Config
	selfID     string
	inShutdown atomic.Bool

	// guards exitwg.Add against Close
	mutex  sync.Mutex
	exitwg sync.WaitGroup

	connMap      *ConnMap
	events       *events
	endpoint     transport.Endpoint
	shutdownOnce sync.Once
}

var _ transport.Handler = (*Server)(nil)

// NewServer seals the registry and starts listening, the listen address is bound before NewServer returns.
func NewServer(options *ServerOptions) (*Server, error) {
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

	if c.ListenAddress == "" {
		err := neterror.New(neterror.CodeInvalidConfig, "%s: invalid ListenAddress=%s", c.LogPrefix, c.ListenAddress)
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

	options.Registry.Seal()

	s := &Server{
		options: options,
		config:  c,
		selfID:  selfID(c.Instance),
		connMap: NewConnMap(),
		events:  newEvents(c.EventQueueLength, c.LogPrefix, c.LogDebug),
	}

	s.endpoint, err = options.Provider.Listen(c.ListenAddress, s)
	if err != nil {
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		s.events.stop()
		return nil, err
	}

	log.Printf("%s: server %s listening on %s", c.LogPrefix, s.selfID, s.endpoint.Address())
	return s, nil
}

// Listen is NewServer with positional arguments.
func Listen(c *config.Config, r *registry.Registry, p transport.Provider) (*Server, error) {
	return NewServer(
		&ServerOptions{
			Config:   c,
			Registry: r,
			Provider: p,
		},
	)
}

// Address is the bound listen address, a zero port in ListenAddress is resolved by the provider.
func (s *Server) Address() string {
	return s.endpoint.Address()
}

func (s *Server) SelfID() string {
	return s.selfID
}

// invoked on transport accept goroutine, blocks until the connection is closed
func (s *Server) ReadLoop(raw net.Conn) {
	conn := newConn(
		&connOptions{
			registry:            s.options.Registry,
			maxFrameLength:      s.config.MaxFrameLength,
			outboundQueueLength: s.config.OutboundQueueLength,
			writeTimeout:        s.config.WriteTimeout(),
			onClose:             s.onClose,
			logPrefix:           s.config.LogPrefix,
			logDebug:            s.config.LogDebug,
		},
		raw,
		"[%d]%s<-<%s>",
		s.selfID,
	)

	admitted := func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if s.inShutdown.Load() {
			return false
		}

		if !s.connMap.Insert(conn) {
			log.Printf("%s: %s: duplicate connID=%d in connection map", s.config.LogPrefix, conn.Descriptor(), conn.ID())
			return false
		}

		s.exitwg.Add(1)
		return true
	}()
	if !admitted {
		log.Printf("%s: %s: connection rejected", s.config.LogPrefix, conn.Descriptor())
		conn.Close()
		raw.Close()
		return
	}
	defer s.exitwg.Done()

	s.events.notify(message.EventConnected, conn.ID(), nil)
	conn.run() // wait
}

// invoked on connection goroutine
func (s *Server) onClose(conn *Conn, cause error) {
	// absent when already removed by Disconnect
	s.connMap.Remove(conn.ID())

	if cause != nil {
		s.events.notify(message.EventError, conn.ID(), cause)
	}
	s.events.notify(message.EventDisconnected, conn.ID(), nil)
}

// Close is invoked by the transport once the listener is closed, it closes every connection and waits for them.
func (s *Server) Close() {
	log.Printf("%s: protocol closing", s.config.LogPrefix)

	func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.inShutdown.Store(true)
	}()

	for _, conn := range s.connMap.Conns() {
		conn.Close()
	}

	s.exitwg.Wait()
	log.Printf("%s: protocol closed", s.config.LogPrefix)
}

// Shutdown closes the listener and every connection, the resulting Disconnected events remain drainable.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.endpoint.Shutdown() // wait
		s.events.stop()
	})
}

// Send queues msg for one connection, it never blocks.
func (s *Server) Send(id message.ConnID, msg any) error {
	conn, found := s.connMap.Get(id)
	if !found {
		err := neterror.New(neterror.CodeConnectionNotFound, "%s: connID=%d, no active connection", s.config.LogPrefix, id).WithConn(id)
		if s.config.LogDebug {
			log.Printf("%s", err.Error())
		}
		return err
	}

	frame, err := s.encode(msg)
	if err != nil {
		return err
	}

	return conn.enqueue(frame)
}

// SendTo is Send, satisfying request.Sender.
func (s *Server) SendTo(id message.ConnID, msg any) error {
	return s.Send(id, msg)
}

// Broadcast queues msg once per live connection, serializing it once.
// Failed connections are skipped and reported together.
func (s *Server) Broadcast(msg any) error {
	return s.broadcast(message.InvalidConnID, msg)
}

// BroadcastExcept is Broadcast skipping the connection except.
func (s *Server) BroadcastExcept(except message.ConnID, msg any) error {
	return s.broadcast(except, msg)
}

func (s *Server) broadcast(except message.ConnID, msg any) error {
	frame, err := s.encode(msg)
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range s.connMap.Conns() {
		if conn.ID() == except {
			continue
		}

		// frames are never mutated after encoding, connections share one buffer
		err := conn.enqueue(frame)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		log.Printf("%s: broadcast failed for %d connections", s.config.LogPrefix, len(errs))
	}
	return errors.Join(errs...)
}

// Disconnect closes one connection, a second call for the same id returns CONNECTION_NOT_FOUND and does nothing.
func (s *Server) Disconnect(id message.ConnID) error {
	conn, found := s.connMap.Remove(id)
	if !found {
		err := neterror.New(neterror.CodeConnectionNotFound, "%s: connID=%d, no active connection", s.config.LogPrefix, id).WithConn(id)
		if s.config.LogDebug {
			log.Printf("%s", err.Error())
		}
		return err
	}

	log.Printf("%s: %s: disconnecting", s.config.LogPrefix, conn.Descriptor())
	conn.Close()
	return nil
}

// Connections returns the live connection ids in ascending order.
func (s *Server) Connections() []message.ConnID {
	return s.connMap.Snapshot()
}

func (s *Server) HasConnections() bool {
	return s.connMap.Count() != 0
}

func (s *Server) Count() int {
	return s.connMap.Count()
}

func (s *Server) Conn(id message.ConnID) (*Conn, bool) {
	return s.connMap.Get(id)
}

// NetworkEvents drains lifecycle events accumulated since the previous call, never blocks.
func (s *Server) NetworkEvents() []message.NetworkEvent {
	return s.events.drain()
}

func (s *Server) Registry() *registry.Registry {
	return s.options.Registry
}

func (s *Server) encode(msg any) ([]byte, error) {
	tag, payload, err := s.options.Registry.Encode(msg)
	if err != nil {
		log.Printf("%s: %s", s.config.LogPrefix, err.Error())
		return nil, err
	}
	return wire.AppendFrame(make([]byte, 0, wire.HeaderSize+len(payload)), tag, payload), nil
}
