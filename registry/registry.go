// Package registry binds message types to wire tags and buffers decoded inbound messages until the consumer drains them.
package registry

import (
	"context"
	"log"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/wire"
)

// Liveness reports whether the connection a message arrived on is still open.
type Liveness interface {
	Alive() bool
}

type item struct {
	origin message.ConnID
	alive  Liveness
	value  any
}

type sharedItem struct {
	entry *entry
	item  item
}

type entry struct {
	tag  wire.Tag
	name string
	typ  reflect.Type

	decode func(payload []byte) (any, error)

	// per-type policy
	queue chan item

	// shared policy, guarded by Registry.drainMutex
	pending []item

	// set when bound through Handle, invoked from Dispatch
	handler func([]item)
}

type Registry struct {
	logPrefix        string
	logDebug         bool
	codec            wire.Codec
	maxFrameLength   uint32
	queueLength      uint32
	sharedQueue      bool
	discardUndrained bool

	mutex   sync.Mutex
	sealed  atomic.Bool
	byTag   atomic.Pointer[map[wire.Tag]*entry]
	byType  atomic.Pointer[map[reflect.Type]*entry]
	ordered []*entry

	sharedch chan sharedItem
	// one slot per item queued but not yet returned to the consumer, wherever it sits
	sharedSlots chan struct{}
	drainMutex  sync.Mutex

	tagCache sync.Map // reflect.Type -> wire.Tag
}

func New(c *config.Config) (*Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = c.WithDefaults()

	codec, err := wire.CodecByName(c.Codec)
	if err != nil {
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return nil, err
	}

	r := &Registry{
		logPrefix:        c.LogPrefix,
		logDebug:         c.LogDebug,
		codec:            codec,
		maxFrameLength:   c.MaxFrameLength,
		queueLength:      c.InboundQueueLength,
		sharedQueue:      c.QueuePolicy == config.QueuePolicyShared,
		discardUndrained: c.UndrainedPolicy == config.UndrainedPolicyDiscard,
	}

	byTag := make(map[wire.Tag]*entry)
	byType := make(map[reflect.Type]*entry)
	r.byTag.Store(&byTag)
	r.byType.Store(&byType)

	if r.sharedQueue {
		r.sharedch = make(chan sharedItem, r.queueLength)
		r.sharedSlots = make(chan struct{}, r.queueLength)
	}

	return r, nil
}

func (r *Registry) Codec() wire.Codec {
	return r.codec
}

func (r *Registry) MaxFrameLength() uint32 {
	return r.maxFrameLength
}

// Register binds T to its tag with a drainable inbound queue.
func Register[T any](r *Registry) error {
	_, err := register[T](r, nil)
	return err
}

// Handle binds T to fn, fn is invoked for each queued T in arrival order whenever Dispatch runs.
func Handle[T any](r *Registry, fn func(message.Data[T])) error {
	_, err := register[T](r, func(items []item) {
		for _, it := range items {
			fn(message.Data[T]{Origin: it.origin, Value: it.value.(T)})
		}
	})
	return err
}

func register[T any](r *Registry, handler func([]item)) (*entry, error) {
	typ := reflect.TypeFor[T]()
	name := wire.NameOf(typ)
	tag := wire.TagOf(name)
	codec := r.codec

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sealed.Load() {
		err := neterror.New(neterror.CodeRegistrationClosed, "cannot register name=%s after traffic started", name)
		log.Printf("%s: %s", r.logPrefix, err.Error())
		return nil, err
	}

	byTag := *r.byTag.Load()
	byType := *r.byType.Load()

	if _, found := byType[typ]; found {
		err := neterror.New(neterror.CodeDuplicateRegistration, "name=%s already registered", name)
		log.Printf("%s: %s", r.logPrefix, err.Error())
		return nil, err
	}

	if existing, found := byTag[tag]; found {
		err := neterror.New(neterror.CodeTagCollision, "name=%s tag=%s collides with name=%s", name, tag, existing.name)
		log.Printf("%s: %s", r.logPrefix, err.Error())
		return nil, err
	}

	e := &entry{
		tag:  tag,
		name: name,
		typ:  typ,
		decode: func(payload []byte) (any, error) {
			v := new(T)
			if err := codec.Unmarshal(payload, v); err != nil {
				return nil, err
			}
			return *v, nil
		},
		handler: handler,
	}
	if !r.sharedQueue {
		e.queue = make(chan item, r.queueLength)
	}

	// copy on write, readers load the map without locking
	nextTag := make(map[wire.Tag]*entry, len(byTag)+1)
	for k, v := range byTag {
		nextTag[k] = v
	}
	nextTag[tag] = e

	nextType := make(map[reflect.Type]*entry, len(byType)+1)
	for k, v := range byType {
		nextType[k] = v
	}
	nextType[typ] = e

	r.byTag.Store(&nextTag)
	r.byType.Store(&nextType)
	r.ordered = append(r.ordered, e)

	if r.logDebug {
		log.Printf("%s: registered name=%s tag=%s handler=%t", r.logPrefix, name, tag, handler != nil)
	}

	return e, nil
}

// Seal closes registration, invoked when the first orchestrator starts.
func (r *Registry) Seal() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sealed.Swap(true) {
		return
	}
	log.Printf("%s: registry sealed with %d message types", r.logPrefix, len(r.ordered))
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the registered name for tag.
func (r *Registry) Lookup(tag wire.Tag) (string, bool) {
	e, found := (*r.byTag.Load())[tag]
	if !found {
		return "", false
	}
	return e.name, true
}

// Deliver decodes payload as the type registered for tag and queues it for the consumer.
// When the queue is full it waits, applying backpressure to the caller, until space frees up or ctx ends.
func (r *Registry) Deliver(ctx context.Context, origin message.ConnID, alive Liveness, tag wire.Tag, payload []byte) error {
	e, found := (*r.byTag.Load())[tag]
	if !found {
		return neterror.New(neterror.CodeUnregisteredType, "tag=%s not registered", tag).WithConn(origin)
	}

	value, err := e.decode(payload)
	if err != nil {
		return neterror.Wrap(neterror.CodeDeserialization, err, "failed to decode name=%s tag=%s", e.name, tag).WithConn(origin)
	}

	it := item{
		origin: origin,
		alive:  alive,
		value:  value,
	}

	if r.sharedQueue {
		select {
		case r.sharedSlots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		// holding a slot, sharedch has room
		r.sharedch <- sharedItem{entry: e, item: it}
		return nil
	}

	select {
	case e.queue <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain returns and removes every queued T in arrival order, never blocks.
func Drain[T any](r *Registry) []message.Data[T] {
	e, found := (*r.byType.Load())[reflect.TypeFor[T]()]
	if !found {
		if r.logDebug {
			log.Printf("%s: drain of unregistered name=%s", r.logPrefix, wire.NameFor[T]())
		}
		return nil
	}

	items := r.drainEntry(e)
	if len(items) == 0 {
		return nil
	}

	out := make([]message.Data[T], 0, len(items))
	for _, it := range items {
		out = append(out, message.Data[T]{Origin: it.origin, Value: it.value.(T)})
	}
	return out
}

// Dispatch drains every handler bound type in registration order, returns the number of messages handled.
func (r *Registry) Dispatch() int {
	r.mutex.Lock()
	ordered := r.ordered
	r.mutex.Unlock()

	handled := 0
	for _, e := range ordered {
		if e.handler == nil {
			continue
		}
		items := r.drainEntry(e)
		if len(items) == 0 {
			continue
		}
		e.handler(items)
		handled += len(items)
	}
	return handled
}

func (r *Registry) drainEntry(e *entry) []item {
	var items []item

	if r.sharedQueue {
		r.drainMutex.Lock()
		n := len(r.sharedch)
		for i := 0; i < n; i++ {
			s := <-r.sharedch
			s.entry.pending = append(s.entry.pending, s.item)
		}
		items = e.pending
		e.pending = nil
		r.drainMutex.Unlock()

		// capacity frees only once items leave for the consumer
		for range items {
			<-r.sharedSlots
		}
	} else {
		n := len(e.queue)
		if n > 0 {
			items = make([]item, 0, n)
		}
	loop:
		for i := 0; i < n; i++ {
			select {
			case it := <-e.queue:
				items = append(items, it)
			default:
				// a concurrent drain took the rest
				break loop
			}
		}
	}

	if !r.discardUndrained || len(items) == 0 {
		return items
	}

	kept := items[:0]
	for _, it := range items {
		if it.alive != nil && !it.alive.Alive() {
			continue
		}
		kept = append(kept, it)
	}
	if r.logDebug && len(kept) != len(items) {
		log.Printf("%s: name=%s discarded %d events from disconnected origins", r.logPrefix, e.name, len(items)-len(kept))
	}
	return kept
}

// Encode serializes v and resolves its tag, v need not be registered locally.
func (r *Registry) Encode(v any) (wire.Tag, []byte, error) {
	if v == nil {
		return 0, nil, neterror.New(neterror.CodeSerialization, "cannot encode nil message")
	}

	typ := reflect.TypeOf(v)
	var tag wire.Tag
	if cached, found := r.tagCache.Load(typ); found {
		tag = cached.(wire.Tag)
	} else {
		tag = wire.TagOf(wire.NameOf(typ))
		r.tagCache.Store(typ, tag)
	}

	payload, err := r.codec.Marshal(v)
	if err != nil {
		return 0, nil, neterror.Wrap(neterror.CodeSerialization, err, "failed to encode type=%s", typ)
	}

	if uint64(wire.TagSize)+uint64(len(payload)) > uint64(r.maxFrameLength) {
		return 0, nil, neterror.New(neterror.CodeSerialization, "type=%s payload=%d exceeds maxFrameLength=%d", typ, len(payload), r.maxFrameLength)
	}

	return tag, payload, nil
}

// TagOf returns the wire tag messages of type T travel under.
func TagOf[T any]() wire.Tag {
	return wire.TagOf(wire.NameFor[T]())
}
