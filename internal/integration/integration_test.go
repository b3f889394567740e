// Package integration wires full in-process nodes together over real HTTP
// and exercises election, quota enforcement, and failover end to end.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quotad/internal/api"
	"quotad/internal/cluster"
	"quotad/internal/dispatch"
	"quotad/internal/journal"
	"quotad/internal/models"
	"quotad/internal/registry"
	"quotad/internal/supervisor"
	"quotad/internal/transport"
	"quotad/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// swappableHandler lets the httptest server exist before the router that
// serves it, breaking the listener/address cycle.
type swappableHandler struct {
	mu sync.RWMutex
	h  http.Handler
}

func (s *swappableHandler) set(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
}

func (s *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.h
	s.mu.RUnlock()
	if h == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

type clientAnnouncer struct {
	client *transport.Client
}

func (a clientAnnouncer) Announce(ctx context.Context, to cluster.Node, h registry.Handle) (bool, registry.Handle, error) {
	resp, err := a.client.Announce(ctx, to, h)
	if err != nil {
		return false, registry.Handle{}, err
	}
	return resp.Accepted, resp.Current, nil
}

type testNode struct {
	node       cluster.Node
	srv        *httptest.Server
	membership *cluster.Membership
	reg        *registry.Registry
	sup        *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
}

func (n *testNode) stop() {
	n.sup.Stop()
	n.membership.Stop()
	n.srv.Close()
}

// startCluster brings up size full nodes over loopback HTTP with fast
// heartbeat and reconcile intervals.
func startCluster(t *testing.T, size int) []*testNode {
	t.Helper()

	ids := []string{"node-a", "node-b", "node-c", "node-d", "node-e"}[:size]

	handlers := make([]*swappableHandler, size)
	servers := make([]*httptest.Server, size)
	addrs := make(map[string]string, size)
	for i := 0; i < size; i++ {
		handlers[i] = &swappableHandler{}
		servers[i] = httptest.NewServer(handlers[i])
		addrs[ids[i]] = strings.TrimPrefix(servers[i].URL, "http://")
	}

	nodes := make([]*testNode, size)
	for i := 0; i < size; i++ {
		self := cluster.Node{ID: ids[i], Addr: addrs[ids[i]]}
		var seeds []cluster.Node
		for _, id := range ids {
			if id != self.ID {
				seeds = append(seeds, cluster.Node{ID: id, Addr: addrs[id]})
			}
		}

		client := transport.NewClient()
		reg := registry.New()

		pinger := cluster.PingFunc(func(ctx context.Context, to cluster.Node) error {
			resp, err := client.Heartbeat(ctx, to, transport.HeartbeatRequest{
				NodeID:          self.ID,
				Addr:            self.Addr,
				ProtocolVersion: version.Protocol,
				Handles:         reg.Snapshot(),
			})
			if err != nil {
				return err
			}
			for _, h := range resp.Handles {
				reg.Apply(h)
			}
			return nil
		})

		membership := cluster.NewMembership(self, seeds, 20*time.Millisecond, 120*time.Millisecond, pinger)

		sup := supervisor.New(supervisor.Config{
			Name:              "rate_limiter",
			MaxPerWindow:      2,
			WindowDuration:    time.Hour,
			RestartDelay:      10 * time.Millisecond,
			ReconcileInterval: 20 * time.Millisecond,
		}, membership, reg, clientAnnouncer{client: client}, journal.Nop{})

		dispatcher := dispatch.New("rate_limiter", self, 500*time.Millisecond, sup, reg, client)

		h := api.NewHandlers(dispatcher, membership, reg, sup, nil)
		handlers[i].set(api.SetupRoutes(h, models.NewDefaultConfig(), nil))

		membership.Start()
		sup.Start()

		nodes[i] = &testNode{
			node:       self,
			srv:        servers[i],
			membership: membership,
			reg:        reg,
			sup:        sup,
			dispatcher: dispatcher,
		}
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.stop()
		}
	})

	return nodes
}

// waitConverged blocks until every listed node sees the full member set and
// all replicas agree on a single live owner.
func waitConverged(t *testing.T, nodes []*testNode, wantMembers int) registry.Handle {
	t.Helper()

	var owner registry.Handle
	require.Eventually(t, func() bool {
		var first registry.Handle
		owners := 0
		for i, n := range nodes {
			if len(n.membership.Members()) != wantMembers {
				return false
			}
			h, ok := n.reg.Lookup("rate_limiter")
			if !ok {
				return false
			}
			if i == 0 {
				first = h
			} else if h != first {
				return false
			}
			if n.sup.IsOwner() {
				owners++
			}
		}
		owner = first
		return owners == 1
	}, 5*time.Second, 10*time.Millisecond, "cluster must converge on exactly one owner")

	return owner
}

func checkViaHTTP(t *testing.T, n *testNode, key string) (int, models.CheckResponse) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"key": key})
	require.NoError(t, err)

	resp, err := http.Post(n.srv.URL+"/api/v1/check", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out models.CheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCluster_ElectsLowestNodeID(t *testing.T) {
	nodes := startCluster(t, 3)
	owner := waitConverged(t, nodes, 3)

	assert.Equal(t, "node-a", owner.Owner.ID)
	assert.True(t, nodes[0].sup.IsOwner())
	assert.False(t, nodes[1].sup.IsOwner())
	assert.False(t, nodes[2].sup.IsOwner())
}

func TestCluster_QuotaIsGlobal(t *testing.T) {
	nodes := startCluster(t, 3)
	waitConverged(t, nodes, 3)

	// Two allowed then denied, regardless of which node serves each call.
	code, out := checkViaHTTP(t, nodes[1], "tenant-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ResultAllowed, out.Result)

	code, out = checkViaHTTP(t, nodes[2], "tenant-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ResultAllowed, out.Result)
	assert.Equal(t, int64(2), out.Count)

	code, out = checkViaHTTP(t, nodes[0], "tenant-1")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, models.ResultDenied, out.Result)
	assert.Equal(t, int64(3), out.Count, "denied calls still count")

	// A different key has its own budget.
	code, out = checkViaHTTP(t, nodes[1], "tenant-2")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), out.Count)
}

func TestCluster_FailoverUnderFiveSeconds(t *testing.T) {
	nodes := startCluster(t, 3)
	first := waitConverged(t, nodes, 3)
	require.Equal(t, "node-a", first.Owner.ID)

	// Spend some quota so we can observe the post-failover reset.
	checkViaHTTP(t, nodes[1], "tenant-1")
	checkViaHTTP(t, nodes[1], "tenant-1")

	// Kill the owner without any graceful unregister.
	nodes[0].srv.Close()
	start := time.Now()

	survivors := nodes[1:]
	var second registry.Handle
	require.Eventually(t, func() bool {
		for _, n := range survivors {
			h, ok := n.reg.Lookup("rate_limiter")
			if !ok || h.Owner.ID == "node-a" {
				return false
			}
			second = h
		}
		return nodes[1].sup.IsOwner()
	}, 5*time.Second, 10*time.Millisecond, "a survivor must take over within the failover budget")

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "node-b", second.Owner.ID, "next-lowest live node takes over")
	assert.Greater(t, second.Incarnation, first.Incarnation)

	// Counter state restarts with the new incarnation.
	code, out := checkViaHTTP(t, nodes[1], "tenant-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ResultAllowed, out.Result)
	assert.Equal(t, int64(1), out.Count)
}

func TestCluster_SingleNodeOperatesAlone(t *testing.T) {
	nodes := startCluster(t, 1)
	owner := waitConverged(t, nodes, 1)

	assert.Equal(t, "node-a", owner.Owner.ID)

	code, out := checkViaHTTP(t, nodes[0], "tenant-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ResultAllowed, out.Result)
}

func TestCluster_StatusReflectsOwnership(t *testing.T) {
	nodes := startCluster(t, 3)
	waitConverged(t, nodes, 3)

	resp, err := http.Get(nodes[2].srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "node-c", status.NodeID)
	assert.Len(t, status.Members, 3)
	require.NotNil(t, status.Owner)
	assert.Equal(t, "node-a", status.Owner.NodeID)
	assert.Nil(t, status.LocalWindow, "non-owners expose no local window")
}
