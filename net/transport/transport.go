// Package transport is the contract a stream transport fulfills for the messaging layer.
// Handler carries the same method set as go-transport's tcp.Protocol, so a protocol implementation plugs into either.
package transport

import (
	"context"
	"net"
)

// Handler consumes established streams.
type Handler interface {
	// Close is invoked once when the endpoint shuts down, it must unblock every running ReadLoop.
	Close()

	// ReadLoop owns conn until it returns.
	ReadLoop(conn net.Conn)
}

// Endpoint is a running listener or redialer.
type Endpoint interface {
	Address() string
	Shutdown()
}

// Provider is a stream-oriented transport, the bytes it carries are framed by the caller.
type Provider interface {
	// Listen binds address synchronously and hands each accepted stream to h on its own goroutine.
	Listen(address string, h Handler) (Endpoint, error)

	// Connect opens a single stream, bounded by ctx.
	Connect(ctx context.Context, address string) (net.Conn, error)
}

// Redialer is implemented by providers able to keep a client stream alive across failures.
// Each new stream is handed to h.ReadLoop synchronously, a new stream is dialed after ReadLoop returns.
type Redialer interface {
	Redial(address string, h Handler) (Endpoint, error)
}
