package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quotad/internal/version"

	"github.com/Masterminds/semver/v3"
)

// Pinger sends one heartbeat to a specific peer. Implementations carry the
// transport; the glue between transport and registry gossip lives outside
// this package so membership stays testable with a fake.
type Pinger interface {
	Ping(ctx context.Context, to Node) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context, to Node) error

func (f PingFunc) Ping(ctx context.Context, to Node) error { return f(ctx, to) }

type peerState struct {
	node     Node
	alive    bool
	lastSeen time.Time
}

// Membership maintains the live view of the cluster. Each seed peer is
// heartbeated on a fixed interval; a peer that neither answers our heartbeats
// nor sends its own for offlineAfter is marked Left. Incoming heartbeats
// (ObserveHeartbeat) also refresh liveness, so one working direction is
// enough to keep a peer alive.
type Membership struct {
	self         Node
	interval     time.Duration
	offlineAfter time.Duration
	pinger       Pinger

	mu    sync.RWMutex
	peers map[string]*peerState
	subs  []chan Event

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewMembership creates a membership tracker for self with the given seed
// peers. Peers start out dead until the first successful heartbeat.
func NewMembership(self Node, seeds []Node, interval, offlineAfter time.Duration, pinger Pinger) *Membership {
	peers := make(map[string]*peerState, len(seeds))
	for _, n := range seeds {
		if n.ID == self.ID {
			continue
		}
		peers[n.ID] = &peerState{node: n}
	}
	return &Membership{
		self:         self,
		interval:     interval,
		offlineAfter: offlineAfter,
		pinger:       pinger,
		peers:        peers,
		done:         make(chan struct{}),
	}
}

// Self returns this node's identity.
func (m *Membership) Self() Node {
	return m.self
}

// Members returns the live cluster view including self, sorted by node ID.
// The order is the election order.
func (m *Membership) Members() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := []Node{m.self}
	for _, p := range m.peers {
		if p.alive {
			members = append(members, p.node)
		}
	}
	SortNodes(members)
	return members
}

// View returns the full peer table including dead peers, for the status API.
func (m *Membership) View() map[Node]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view := make(map[Node]bool, len(m.peers)+1)
	view[m.self] = true
	for _, p := range m.peers {
		view[p.node] = p.alive
	}
	return view
}

// Watch returns a channel of membership transitions. Events are dropped for
// slow consumers rather than blocking the heartbeat loop; consumers are
// expected to reconcile periodically anyway.
func (m *Membership) Watch() <-chan Event {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Start launches one heartbeat loop per seed peer plus a sweeper that expires
// peers past the offline threshold.
func (m *Membership) Start() {
	m.mu.RLock()
	peers := make([]Node, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p.node)
	}
	m.mu.RUnlock()

	for _, peer := range peers {
		m.wg.Add(1)
		go m.heartbeatLoop(peer)
	}

	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop terminates all heartbeat loops and waits for them to exit.
func (m *Membership) Stop() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

// ObserveHeartbeat records an incoming heartbeat from a peer. Unknown nodes
// join the peer table dynamically. A protocol major-version mismatch rejects
// the heartbeat so incompatible nodes never enter the member list.
func (m *Membership) ObserveHeartbeat(from Node, protocolVersion string) error {
	if from.ID == m.self.ID {
		return fmt.Errorf("heartbeat from own node id %q", from.ID)
	}
	if err := CompatibleProtocol(protocolVersion); err != nil {
		return err
	}
	m.markAlive(from)
	return nil
}

// CompatibleProtocol reports whether a peer's wire-protocol version can
// interoperate with ours. Only the major version must match.
func CompatibleProtocol(v string) error {
	theirs, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("unparseable protocol version %q: %w", v, err)
	}
	ours := semver.MustParse(version.Protocol)
	if theirs.Major() != ours.Major() {
		return fmt.Errorf("protocol version %s is incompatible with %s", theirs, ours)
	}
	return nil
}

func (m *Membership) heartbeatLoop(peer Node) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			err := m.pinger.Ping(ctx, peer)
			cancel()
			if err == nil {
				m.markAlive(peer)
			}
		}
	}
}

func (m *Membership) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.expire(time.Now().Add(-m.offlineAfter))
		}
	}
}

func (m *Membership) markAlive(node Node) {
	m.mu.Lock()
	p, ok := m.peers[node.ID]
	if !ok {
		p = &peerState{node: node}
		m.peers[node.ID] = p
	}
	wasAlive := p.alive
	p.alive = true
	p.lastSeen = time.Now()
	m.mu.Unlock()

	if !wasAlive {
		slog.Info("cluster member joined", "peer_id", node.ID, "peer_addr", node.Addr)
		m.publish(Event{Type: Join, Node: node})
	}
}

func (m *Membership) expire(cutoff time.Time) {
	var left []Node

	m.mu.Lock()
	for _, p := range m.peers {
		if p.alive && p.lastSeen.Before(cutoff) {
			p.alive = false
			left = append(left, p.node)
		}
	}
	m.mu.Unlock()

	for _, node := range left {
		slog.Warn("cluster member left", "peer_id", node.ID, "peer_addr", node.Addr)
		m.publish(Event{Type: Leave, Node: node})
	}
}

func (m *Membership) publish(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
