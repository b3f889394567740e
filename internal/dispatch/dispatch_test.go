package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quotad/internal/cluster"
	"quotad/internal/counter"
	"quotad/internal/registry"
	"quotad/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocal struct {
	store       *counter.Store
	incarnation int64
}

func (f *fakeLocal) Local() (*counter.Store, int64, bool) {
	if f.store == nil {
		return nil, 0, false
	}
	return f.store, f.incarnation, true
}

// fakeRemote scripts per-call responses; each call consumes one entry.
type fakeRemote struct {
	mu    sync.Mutex
	calls []cluster.Node
	queue []func() (transport.IncrementResponse, error)
}

func (f *fakeRemote) push(fn func() (transport.IncrementResponse, error)) {
	f.queue = append(f.queue, fn)
}

func (f *fakeRemote) Increment(_ context.Context, to cluster.Node, _ string) (transport.IncrementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	if len(f.queue) == 0 {
		return transport.IncrementResponse{}, errors.New("no scripted response")
	}
	fn := f.queue[0]
	f.queue = f.queue[1:]
	return fn()
}

var (
	selfNode  = cluster.Node{ID: "node-a", Addr: "127.0.0.1:1"}
	ownerNode = cluster.Node{ID: "node-b", Addr: "127.0.0.1:2"}
)

func registryWith(t *testing.T, h registry.Handle) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(h))
	return reg
}

func TestDispatcher_LocalOwner(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: selfNode, Incarnation: 3})
	local := &fakeLocal{store: counter.NewStore(2), incarnation: 3}

	d := New("rate_limiter", selfNode, time.Second, local, reg, &fakeRemote{})

	for i, want := range []Outcome{Allowed, Allowed, Denied} {
		res := d.Check(context.Background(), "tenant-1")
		assert.Equal(t, want, res.Outcome, "call %d", i+1)
		assert.Equal(t, int64(i+1), res.Count)
	}

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, int64(4), res.Count, "denied calls still count")
	assert.Equal(t, "node-a", res.OwnerID)
	assert.Equal(t, int64(3), res.Incarnation)
}

func TestDispatcher_NoOwnerIsUnavailable(t *testing.T) {
	d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, registry.New(), &fakeRemote{})

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Unavailable, res.Outcome)
}

func TestDispatcher_LocalHandleWithoutInstanceIsUnavailable(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: selfNode, Incarnation: 3})
	d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, reg, &fakeRemote{})

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Unavailable, res.Outcome)
}

func TestDispatcher_StaleLocalIncarnationIsUnavailable(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: selfNode, Incarnation: 5})
	local := &fakeLocal{store: counter.NewStore(2), incarnation: 3}
	d := New("rate_limiter", selfNode, time.Second, local, reg, &fakeRemote{})

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Unavailable, res.Outcome)
}

func TestDispatcher_RemoteOwner(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: ownerNode, Incarnation: 2})
	remote := &fakeRemote{}
	remote.push(func() (transport.IncrementResponse, error) {
		return transport.IncrementResponse{
			Result: transport.ResultDenied, Count: 3, Remaining: 0,
			WindowID: 7, Incarnation: 2, NodeID: "node-b",
		}, nil
	})

	d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, reg, remote)

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, int64(7), res.WindowID)
	assert.Equal(t, "node-b", res.OwnerID)
	require.Len(t, remote.calls, 1)
	assert.Equal(t, "node-b", remote.calls[0].ID)
}

func TestDispatcher_RetriesOnceOnNotOwner(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: ownerNode, Incarnation: 2})
	remote := &fakeRemote{}
	remote.push(func() (transport.IncrementResponse, error) {
		// First call hits a node that just relinquished; freshen the registry
		// the way a gossip update would, then let the retry succeed.
		require.True(t, reg.Apply(registry.Handle{
			Name: "rate_limiter", Owner: cluster.Node{ID: "node-c", Addr: "127.0.0.1:3"}, Incarnation: 4,
		}))
		return transport.IncrementResponse{}, transport.ErrNotOwner
	})
	remote.push(func() (transport.IncrementResponse, error) {
		return transport.IncrementResponse{
			Result: transport.ResultAllowed, Count: 1, Remaining: 1,
			WindowID: 1, Incarnation: 4, NodeID: "node-c",
		}, nil
	})

	d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, reg, remote)

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Allowed, res.Outcome)
	require.Len(t, remote.calls, 2)
	assert.Equal(t, "node-c", remote.calls[1].ID, "retry must go to the freshly resolved owner")
}

func TestDispatcher_SecondNotOwnerIsUnavailable(t *testing.T) {
	reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: ownerNode, Incarnation: 2})
	remote := &fakeRemote{}
	for i := 0; i < 2; i++ {
		remote.push(func() (transport.IncrementResponse, error) {
			return transport.IncrementResponse{}, transport.ErrNotOwner
		})
	}

	d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, reg, remote)

	res := d.Check(context.Background(), "tenant-1")
	assert.Equal(t, Unavailable, res.Outcome)
	assert.Len(t, remote.calls, 2, "exactly one retry")
}

func TestDispatcher_TransportErrorsAreUnavailableNotAllowed(t *testing.T) {
	for _, err := range []error{transport.ErrTimeout, transport.ErrUnavailable} {
		reg := registryWith(t, registry.Handle{Name: "rate_limiter", Owner: ownerNode, Incarnation: 2})
		remote := &fakeRemote{}
		scripted := err
		remote.push(func() (transport.IncrementResponse, error) {
			return transport.IncrementResponse{}, scripted
		})

		d := New("rate_limiter", selfNode, time.Second, &fakeLocal{}, reg, remote)

		res := d.Check(context.Background(), "tenant-1")
		assert.Equal(t, Unavailable, res.Outcome, "error %v", err)
		assert.NotEqual(t, Allowed, res.Outcome)
		assert.Len(t, remote.calls, 1, "only not-owner errors are retried")
	}
}
