package message

import (
	"fmt"
	"sync/atomic"
)

// ConnID identifies one connection for its whole lifetime, ids are never reused within a process
type ConnID uint64

const InvalidConnID ConnID = 0

// if increment overflow would wrap to zero, unreachable in practice with 64 bits
var connIDGen atomic.Uint64

// invoked on any goroutine
func NextConnID() ConnID {
	return ConnID(connIDGen.Add(1))
}

func (id ConnID) String() string {
	return fmt.Sprintf("Conn-%d", uint64(id))
}

// Named pins the wire name of a message type, so that the tag survives package moves.
// Types not implementing Named are identified by package path and type name.
type Named interface {
	MessageName() string
}

// Data is one decoded inbound message together with the connection it arrived on.
type Data[T any] struct {
	Origin ConnID
	Value  T
}
