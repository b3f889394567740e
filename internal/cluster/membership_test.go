package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quotad/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyPinger answers heartbeats according to a switchable per-peer table.
type flakyPinger struct {
	mu   sync.Mutex
	down map[string]bool
}

func newFlakyPinger() *flakyPinger {
	return &flakyPinger{down: make(map[string]bool)}
}

func (p *flakyPinger) setDown(id string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[id] = down
}

func (p *flakyPinger) Ping(_ context.Context, to Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[to.ID] {
		return errors.New("peer unreachable")
	}
	return nil
}

func testMembership(t *testing.T, pinger Pinger) *Membership {
	t.Helper()
	self := Node{ID: "node-a", Addr: "127.0.0.1:1"}
	seeds := []Node{
		{ID: "node-b", Addr: "127.0.0.1:2"},
		{ID: "node-c", Addr: "127.0.0.1:3"},
	}
	m := NewMembership(self, seeds, 10*time.Millisecond, 50*time.Millisecond, pinger)
	t.Cleanup(m.Stop)
	return m
}

func TestMembership_PeersJoinOnHeartbeatSuccess(t *testing.T) {
	m := testMembership(t, newFlakyPinger())
	m.Start()

	require.Eventually(t, func() bool {
		return len(m.Members()) == 3
	}, time.Second, 5*time.Millisecond)

	members := m.Members()
	assert.Equal(t, "node-a", members[0].ID, "members must be sorted by id")
	assert.Equal(t, "node-b", members[1].ID)
	assert.Equal(t, "node-c", members[2].ID)
}

func TestMembership_PeerLeavesAfterOfflineThreshold(t *testing.T) {
	pinger := newFlakyPinger()
	m := testMembership(t, pinger)
	events := m.Watch()
	m.Start()

	require.Eventually(t, func() bool {
		return len(m.Members()) == 3
	}, time.Second, 5*time.Millisecond)

	pinger.setDown("node-b", true)

	require.Eventually(t, func() bool {
		for _, n := range m.Members() {
			if n.ID == "node-b" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "node-b should be expired")

	var sawLeave bool
	deadline := time.After(time.Second)
	for !sawLeave {
		select {
		case ev := <-events:
			if ev.Type == Leave && ev.Node.ID == "node-b" {
				sawLeave = true
			}
		case <-deadline:
			t.Fatal("expected a Leave event for node-b")
		}
	}
}

func TestMembership_PeerRejoins(t *testing.T) {
	pinger := newFlakyPinger()
	pinger.setDown("node-b", true)
	m := testMembership(t, pinger)
	m.Start()

	require.Eventually(t, func() bool {
		return len(m.Members()) == 2
	}, time.Second, 5*time.Millisecond)

	pinger.setDown("node-b", false)

	require.Eventually(t, func() bool {
		return len(m.Members()) == 3
	}, time.Second, 5*time.Millisecond, "node-b should rejoin once reachable")
}

func TestMembership_ObserveHeartbeatAddsUnknownPeer(t *testing.T) {
	m := testMembership(t, newFlakyPinger())

	err := m.ObserveHeartbeat(Node{ID: "node-z", Addr: "127.0.0.1:9"}, version.Protocol)
	require.NoError(t, err)

	members := m.Members()
	assert.Len(t, members, 2) // self + node-z; seeds are still dead
	assert.Equal(t, "node-z", members[1].ID)
}

func TestMembership_ObserveHeartbeatRejectsIncompatibleProtocol(t *testing.T) {
	m := testMembership(t, newFlakyPinger())

	err := m.ObserveHeartbeat(Node{ID: "node-z", Addr: "127.0.0.1:9"}, "99.0.0")
	assert.Error(t, err)
	assert.Len(t, m.Members(), 1, "incompatible nodes must not join")
}

func TestMembership_ObserveHeartbeatRejectsSelfID(t *testing.T) {
	m := testMembership(t, newFlakyPinger())

	err := m.ObserveHeartbeat(Node{ID: "node-a", Addr: "127.0.0.1:9"}, version.Protocol)
	assert.Error(t, err)
}

func TestCompatibleProtocol(t *testing.T) {
	assert.NoError(t, CompatibleProtocol(version.Protocol))
	assert.NoError(t, CompatibleProtocol("1.9.7"))
	assert.Error(t, CompatibleProtocol("2.0.0"))
	assert.Error(t, CompatibleProtocol("not-a-version"))
}

func TestSortNodes(t *testing.T) {
	nodes := []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	SortNodes(nodes)
	assert.Equal(t, "a", nodes[0].ID)
	assert.Equal(t, "c", nodes[2].ID)
}
