package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/registry"
	"github.com/Meander-Cloud/go-netevent/wire"
)

type connOptions struct {
	registry            *registry.Registry
	maxFrameLength      uint32
	outboundQueueLength uint32
	writeTimeout        time.Duration

	// invoked exactly once on the connection goroutine after both loops exited,
	// cause is nil for a local close or an orderly end of stream
	onClose func(conn *Conn, cause error)

	logPrefix string
	logDebug  bool
}

// Conn is one established stream with its read and write loops.
type Conn struct {
	options    *connOptions
	id         message.ConnID
	raw        net.Conn
	descriptor string

	state  atomic.Uint32
	sendch chan []byte // encoded frames

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newConn(options *connOptions, raw net.Conn, descriptorFormat string, self string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		options: options,
		id:      message.NextConnID(),
		raw:     raw,

		sendch: make(chan []byte, options.outboundQueueLength),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.descriptor = formatDescriptor(descriptorFormat, c.id, self, raw)
	c.state.Store(uint32(StateConnecting))

	return c
}

func formatDescriptor(format string, id message.ConnID, self string, raw net.Conn) string {
	remote := "unknown"
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return fmt.Sprintf(format, uint64(id), self, remote)
}

func (c *Conn) ID() message.ConnID {
	return c.id
}

func (c *Conn) Descriptor() string {
	return c.descriptor
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Alive reports whether the connection still accepts and delivers messages.
func (c *Conn) Alive() bool {
	return c.State() != StateDisconnected
}

// Done is closed once both loops exited and the stream is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close signals both loops to stop at their next suspension point, repeated calls are no-ops.
func (c *Conn) Close() {
	c.state.Store(uint32(StateDisconnected))
	c.cancel()
}

// invoked on any goroutine, never blocks
func (c *Conn) enqueue(frame []byte) error {
	if !c.Alive() {
		return neterror.New(neterror.CodeNotConnected, "%s: %s: connection closed", c.options.logPrefix, c.descriptor).WithConn(c.id)
	}

	select {
	case c.sendch <- frame:
		return nil
	default:
		err := neterror.New(neterror.CodeQueueFull, "%s: %s: outbound queue full, capacity=%d", c.options.logPrefix, c.descriptor, cap(c.sendch)).WithConn(c.id)
		log.Printf("%s", err.Error())
		return err
	}
}

// run blocks until the connection is closed
func (c *Conn) run() {
	network := "unknown"
	if addr := c.raw.RemoteAddr(); addr != nil {
		network = addr.Network()
	}
	log.Printf("%s: %s: new %s connection", c.options.logPrefix, c.descriptor, network)

	c.state.CompareAndSwap(uint32(StateConnecting), uint32(StateConnected))

	eg, ctx := errgroup.WithContext(c.ctx)
	eg.Go(func() error {
		return c.readLoop(ctx)
	})
	eg.Go(func() error {
		return c.writeLoop(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done() // wait

		// unblock a read or write in progress
		c.raw.Close()
		return nil
	})

	err := eg.Wait()

	var cause error
	switch {
	case err == nil,
		errors.Is(err, errPeerClosed),
		errors.Is(err, context.Canceled):
	default:
		cause = err
	}

	c.state.Store(uint32(StateDisconnected))
	c.cancel()

	if cause != nil {
		log.Printf("%s: %s: %s connection closed, err=%s", c.options.logPrefix, c.descriptor, network, cause.Error())
	} else {
		log.Printf("%s: %s: %s connection closed", c.options.logPrefix, c.descriptor, network)
	}

	if c.options.onClose != nil {
		c.options.onClose(c, cause)
	}
	close(c.done)
}

func (c *Conn) readLoop(ctx context.Context) error {
	reader := bufio.NewReaderSize(c.raw, readBufferLen)

	for {
		tag, payload, err := wire.ReadFrame(reader, c.options.maxFrameLength)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return errPeerClosed
			}
			return scoped(err, c.id)
		}

		if c.options.logDebug {
			log.Printf("%s: %s: read frame tag=%s, %d payload bytes", c.options.logPrefix, c.descriptor, tag, len(payload))
		}

		// blocks while the inbound queue is full
		err = c.options.registry.Deliver(ctx, c.id, c, tag, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("%s: %s: %s", c.options.logPrefix, c.descriptor, err.Error())
			return err
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.sendch:
			if c.options.writeTimeout > 0 {
				c.raw.SetWriteDeadline(time.Now().UTC().Add(c.options.writeTimeout))
			}

			// one write per frame keeps frames from interleaving
			n, err := c.raw.Write(frame)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return neterror.Wrap(neterror.CodeTransport, err, "%s: %s: failed to write %d bytes", c.options.logPrefix, c.descriptor, len(frame)).WithConn(c.id)
			}

			if c.options.logDebug {
				log.Printf("%s: %s: wrote %d bytes, header %X", c.options.logPrefix, c.descriptor, n, frame[:wire.HeaderSize])
			}
		}
	}
}

func scoped(err error, id message.ConnID) error {
	var e *neterror.Error
	if errors.As(err, &e) {
		return e.WithConn(id)
	}
	return neterror.Wrap(neterror.CodeTransport, err, "read failed").WithConn(id)
}
