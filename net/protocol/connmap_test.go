package protocol

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/message"
)

func testConn(t *testing.T) *Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newConn(&connOptions{outboundQueueLength: 1, logPrefix: "connmap-test"}, a, "[%d]%s<-<%s>", "self")
}

func TestConnMapInsertRemove(t *testing.T) {
	m := NewConnMap()
	c1 := testConn(t)
	c2 := testConn(t)

	require.True(t, m.Insert(c1))
	require.False(t, m.Insert(c1))
	require.True(t, m.Insert(c2))
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.Has(c1.ID()))

	got, found := m.Get(c2.ID())
	require.True(t, found)
	assert.Same(t, c2, got)

	removed, found := m.Remove(c1.ID())
	require.True(t, found)
	assert.Same(t, c1, removed)

	_, found = m.Remove(c1.ID())
	assert.False(t, found)
	assert.Equal(t, []message.ConnID{c2.ID()}, m.Snapshot())
}

func TestConnMapSnapshotSorted(t *testing.T) {
	m := NewConnMap()
	var conns []*Conn
	for i := 0; i < 40; i++ {
		conn := testConn(t)
		conns = append(conns, conn)
		require.True(t, m.Insert(conn))
	}

	ids := m.Snapshot()
	require.Len(t, ids, 40)
	assert.IsNonDecreasing(t, ids)

	ordered := m.Conns()
	require.Len(t, ordered, 40)
	for i, conn := range ordered {
		assert.Equal(t, ids[i], conn.ID())
	}
}

func TestConnMapConcurrentRemoveOnce(t *testing.T) {
	m := NewConnMap()
	conn := testConn(t)
	require.True(t, m.Insert(conn))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, found := m.Remove(conn.ID()); found {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, m.Count())
}
