package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/Meander-Cloud/go-chdyn/chdyn"

	"github.com/Meander-Cloud/go-netevent/message"
)

// events buffers lifecycle notifications from connection goroutines until the consumer drains them.
// Producers never block on a slow consumer, chdyn grows as needed.
type events struct {
	ch   *chdyn.Chan[message.NetworkEvent]
	sent atomic.Uint64

	// consumer side
	mutex    sync.Mutex
	received uint64
	residual []message.NetworkEvent
	stopped  bool
}

func newEvents(size uint16, logPrefix string, logDebug bool) *events {
	return &events{
		ch: chdyn.New(
			&chdyn.Options[message.NetworkEvent]{
				InSize:    size,
				OutSize:   size,
				LogPrefix: logPrefix + "-Events",
				LogDebug:  logDebug,
			},
		),
	}
}

// must not be invoked after stop
func (e *events) notify(kind message.EventKind, id message.ConnID, err error) {
	e.sent.Add(1)
	e.ch.In() <- message.NetworkEvent{
		Kind:   kind,
		ConnID: id,
		Err:    err,
	}
}

// invoked on consumer goroutine, never blocks
func (e *events) drain() []message.NetworkEvent {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	out := e.residual
	e.residual = nil

	if e.stopped {
		return out
	}

	for {
		select {
		case ev := <-e.ch.Out():
			e.received++
			out = append(out, ev)
		default:
			return out
		}
	}
}

// stop collects every event still in flight for a final drain, then releases the bridge goroutine.
// Caller guarantees no further notify.
func (e *events) stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.stopped {
		return
	}

	for e.received < e.sent.Load() {
		ev := <-e.ch.Out() // wait
		e.received++
		e.residual = append(e.residual, ev)
	}

	e.ch.Stop() // wait
	e.stopped = true
}
