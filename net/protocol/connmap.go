package protocol

import (
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Meander-Cloud/go-netevent/message"
)

// ConnMap is the sharded registry of live connections.
// Operations on different connections contend only when their ids share a shard.
type ConnMap struct {
	m cmap.ConcurrentMap[message.ConnID, *Conn]
}

func shard(id message.ConnID) uint32 {
	return uint32(id) ^ uint32(id>>32)
}

func NewConnMap() *ConnMap {
	return &ConnMap{
		m: cmap.NewWithCustomShardingFunction[message.ConnID, *Conn](shard),
	}
}

// Insert returns false when id is already present.
func (m *ConnMap) Insert(conn *Conn) bool {
	return m.m.SetIfAbsent(conn.ID(), conn)
}

// Remove returns the removed connection, at most one caller observes found for a given id.
func (m *ConnMap) Remove(id message.ConnID) (*Conn, bool) {
	return m.m.Pop(id)
}

func (m *ConnMap) Get(id message.ConnID) (*Conn, bool) {
	return m.m.Get(id)
}

func (m *ConnMap) Has(id message.ConnID) bool {
	return m.m.Has(id)
}

// Snapshot returns the ids present at call time in ascending order.
func (m *ConnMap) Snapshot() []message.ConnID {
	ids := m.m.Keys()
	slices.Sort(ids)
	return ids
}

// Conns returns the connections present at call time in ascending id order.
func (m *ConnMap) Conns() []*Conn {
	items := m.m.Items()
	conns := make([]*Conn, 0, len(items))
	for _, conn := range items {
		conns = append(conns, conn)
	}
	slices.SortFunc(conns, func(a, b *Conn) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	return conns
}

func (m *ConnMap) Count() int {
	return m.m.Count()
}
