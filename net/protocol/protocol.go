// Package protocol runs framed message streams over a transport and tracks the live connections.
package protocol

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	readBufferLen int = 65536 // 64 KB
)

var errPeerClosed = errors.New("peer closed stream")

type State uint32

const (
	StateInvalid      State = 0
	StateConnecting   State = 1
	StateConnected    State = 2
	StateDisconnected State = 3
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid State"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown State"
	}
}

// selfID names this process in connection descriptors.
func selfID(instance string) string {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		instance = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	return fmt.Sprintf(
		"%s-%d",
		instance,
		time.Now().UTC().UnixMilli(),
	)
}
