// Package request correlates typed requests with their responses on top of the event registry.
package request

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/neterror"
	"github.com/Meander-Cloud/go-netevent/registry"
	"github.com/Meander-Cloud/go-netevent/wire"
)

// Sender is satisfied by both protocol.Server and protocol.Client.
type Sender interface {
	SendTo(id message.ConnID, msg any) error
}

type Request[Req any] struct {
	ID   uint64 `msgpack:"id" json:"id"`
	Body Req    `msgpack:"body" json:"body"`
}

func (Request[Req]) MessageName() string {
	return "request:" + wire.NameFor[Req]()
}

type Response[Resp any] struct {
	ID   uint64 `msgpack:"id" json:"id"`
	Body Resp   `msgpack:"body" json:"body"`
}

func (Response[Resp]) MessageName() string {
	return "response:" + wire.NameFor[Resp]()
}

// Pending is one outstanding request, completed by Requester.Poll.
type Pending[Resp any] struct {
	id       uint64
	conn     message.ConnID
	deadline time.Time

	mutex sync.Mutex
	done  bool
	value Resp
	err   error
}

func (p *Pending[Resp]) ID() uint64 {
	return p.id
}

func (p *Pending[Resp]) Conn() message.ConnID {
	return p.conn
}

// TryRecv returns the response once it arrived, it never blocks.
// A pending that failed reports false forever, see Err.
func (p *Pending[Resp]) TryRecv() (Resp, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.done || p.err != nil {
		var zero Resp
		return zero, false
	}
	return p.value, true
}

func (p *Pending[Resp]) Done() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.done
}

func (p *Pending[Resp]) Err() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.err
}

func (p *Pending[Resp]) complete(value Resp, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.done {
		return
	}
	p.done = true
	p.value = value
	p.err = err
}

type Requester[Req, Resp any] struct {
	registry *registry.Registry
	timeout  time.Duration

	idGen   atomic.Uint64
	pending cmap.ConcurrentMap[uint64, *Pending[Resp]]
}

func shard(id uint64) uint32 {
	return uint32(id) ^ uint32(id>>32)
}

// RegisterRequester registers the response type inbound, timeout zero means requests never expire.
func RegisterRequester[Req, Resp any](r *registry.Registry, timeout time.Duration) (*Requester[Req, Resp], error) {
	err := registry.Register[Response[Resp]](r)
	if err != nil {
		return nil, err
	}

	return &Requester[Req, Resp]{
		registry: r,
		timeout:  timeout,
		pending:  cmap.NewWithCustomShardingFunction[uint64, *Pending[Resp]](shard),
	}, nil
}

// Send transmits req to connection id, the returned Pending completes during a later Poll.
func (q *Requester[Req, Resp]) Send(sender Sender, id message.ConnID, req Req) (*Pending[Resp], error) {
	p := &Pending[Resp]{
		id:   q.idGen.Add(1),
		conn: id,
	}
	if q.timeout > 0 {
		p.deadline = time.Now().UTC().Add(q.timeout)
	}
	q.pending.Set(p.id, p)

	err := sender.SendTo(id, Request[Req]{ID: p.id, Body: req})
	if err != nil {
		q.pending.Remove(p.id)
		return nil, err
	}

	return p, nil
}

// Poll drains responses and completes their pendings, then expires overdue ones.
// Invoked once per tick, returns the number of completed responses.
func (q *Requester[Req, Resp]) Poll() int {
	matched := 0
	for _, d := range registry.Drain[Response[Resp]](q.registry) {
		p, found := q.pending.Get(d.Value.ID)
		if !found || p.conn != d.Origin {
			log.Printf("dropping unmatched response id=%d from %s", d.Value.ID, d.Origin)
			continue
		}
		q.pending.Remove(d.Value.ID)

		p.complete(d.Value.Body, nil)
		matched++
	}

	if q.timeout > 0 {
		now := time.Now().UTC()
		var expired []*Pending[Resp]
		q.pending.IterCb(func(_ uint64, p *Pending[Resp]) {
			if now.After(p.deadline) {
				expired = append(expired, p)
			}
		})

		for _, p := range expired {
			if _, found := q.pending.Pop(p.id); !found {
				continue
			}
			var zero Resp
			p.complete(zero, neterror.New(neterror.CodeTimeout, "request id=%d to %s timed out after %v", p.id, p.conn, q.timeout).WithConn(p.conn))
		}
	}

	return matched
}

// Abandon fails every pending request sent to connection id, typically on its Disconnected event.
func (q *Requester[Req, Resp]) Abandon(id message.ConnID) int {
	var lost []*Pending[Resp]
	q.pending.IterCb(func(_ uint64, p *Pending[Resp]) {
		if p.conn == id {
			lost = append(lost, p)
		}
	})

	abandoned := 0
	for _, p := range lost {
		if _, found := q.pending.Pop(p.id); !found {
			continue
		}
		var zero Resp
		p.complete(zero, neterror.New(neterror.CodeNotConnected, "request id=%d abandoned, %s disconnected", p.id, id).WithConn(id))
		abandoned++
	}
	return abandoned
}

// Outstanding returns the number of requests awaiting a response.
func (q *Requester[Req, Resp]) Outstanding() int {
	return q.pending.Count()
}

type Responder[Req, Resp any] struct {
	registry *registry.Registry
}

// RegisterResponder registers the request type inbound.
func RegisterResponder[Req, Resp any](r *registry.Registry) (*Responder[Req, Resp], error) {
	err := registry.Register[Request[Req]](r)
	if err != nil {
		return nil, err
	}

	return &Responder[Req, Resp]{
		registry: r,
	}, nil
}

type Incoming[Req, Resp any] struct {
	Origin message.ConnID
	ID     uint64
	Body   Req
}

// Respond sends resp back to the connection the request came from.
func (in Incoming[Req, Resp]) Respond(sender Sender, resp Resp) error {
	return sender.SendTo(in.Origin, Response[Resp]{ID: in.ID, Body: resp})
}

// Drain returns requests received since the previous call in arrival order, it never blocks.
func (s *Responder[Req, Resp]) Drain() []Incoming[Req, Resp] {
	requests := registry.Drain[Request[Req]](s.registry)
	if len(requests) == 0 {
		return nil
	}

	out := make([]Incoming[Req, Resp], 0, len(requests))
	for _, d := range requests {
		out = append(out, Incoming[Req, Resp]{
			Origin: d.Origin,
			ID:     d.Value.ID,
			Body:   d.Value.Body,
		})
	}
	return out
}
