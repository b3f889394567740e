// Package dispatch routes rate-limit checks to wherever the singleton lives:
// the local counter store when this node owns it, a remote call otherwise.
// Every outcome is three-way. Unavailable is never collapsed into Allowed; a
// caller that cannot reach the limiter is told so and decides for itself.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quotad/internal/cluster"
	"quotad/internal/counter"
	"quotad/internal/registry"
	"quotad/internal/transport"
)

// Outcome is the three-way result of a rate-limit check.
type Outcome string

const (
	Allowed     Outcome = "allowed"
	Denied      Outcome = "denied"
	Unavailable Outcome = "unavailable"
)

// Result carries the outcome plus the counter and ownership details behind
// it. Count/Remaining/WindowID are zero when the outcome is Unavailable.
type Result struct {
	Outcome     Outcome
	Count       int64
	Remaining   int64
	WindowID    int64
	OwnerID     string
	Incarnation int64
}

// Checker is the check surface consumed by the API layer; *Dispatcher is the
// canonical implementation and the observability wrapper decorates it.
type Checker interface {
	Check(ctx context.Context, key string) Result
}

// LocalProvider exposes the node-local singleton instance when it exists.
// *supervisor.Supervisor satisfies it.
type LocalProvider interface {
	Local() (*counter.Store, int64, bool)
}

// Resolver locates the current owner handle. *registry.Registry satisfies it.
type Resolver interface {
	Lookup(name string) (registry.Handle, bool)
}

// RemoteClient performs the increment against a remote owner.
type RemoteClient interface {
	Increment(ctx context.Context, to cluster.Node, key string) (transport.IncrementResponse, error)
}

// Dispatcher resolves the singleton owner per call; ownership can move
// between two checks and the dispatcher must not cache it.
type Dispatcher struct {
	name        string
	self        cluster.Node
	callTimeout time.Duration
	local       LocalProvider
	resolver    Resolver
	client      RemoteClient
}

func New(name string, self cluster.Node, callTimeout time.Duration, local LocalProvider, resolver Resolver, client RemoteClient) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Dispatcher{
		name:        name,
		self:        self,
		callTimeout: callTimeout,
		local:       local,
		resolver:    resolver,
		client:      client,
	}
}

// Check increments the counter for key and reports the verdict. A remote call
// that fails with "not owner" is retried exactly once against a fresh lookup,
// which covers the common failover race; anything else degrades to
// Unavailable.
func (d *Dispatcher) Check(ctx context.Context, key string) Result {
	const attempts = 2

	for attempt := 1; ; attempt++ {
		h, ok := d.resolver.Lookup(d.name)
		if !ok {
			slog.Debug("rate limiter has no registered owner", "name", d.name, "key", key)
			return Result{Outcome: Unavailable}
		}

		if h.Owner.ID == d.self.ID {
			return d.checkLocal(h, key)
		}

		res, err := d.checkRemote(ctx, h, key)
		if err == nil {
			return res
		}
		if errors.Is(err, transport.ErrNotOwner) && attempt < attempts {
			slog.Debug("stale owner handle, retrying after re-lookup",
				"name", d.name, "stale_owner", h.Owner.ID)
			continue
		}

		slog.Warn("rate limiter unreachable",
			"name", d.name, "owner", h.Owner.ID, "error", err)
		return Result{Outcome: Unavailable, OwnerID: h.Owner.ID, Incarnation: h.Incarnation}
	}
}

func (d *Dispatcher) checkLocal(h registry.Handle, key string) Result {
	store, inc, ok := d.local.Local()
	if !ok || inc != h.Incarnation {
		// The registry points at us but the instance is gone or from another
		// tenure; the supervisor will reconcile shortly.
		return Result{Outcome: Unavailable, OwnerID: d.self.ID, Incarnation: h.Incarnation}
	}

	dec := store.Increment(key)
	return Result{
		Outcome:     verdict(dec.Allowed),
		Count:       dec.Count,
		Remaining:   dec.Remaining,
		WindowID:    dec.WindowID,
		OwnerID:     d.self.ID,
		Incarnation: inc,
	}
}

func (d *Dispatcher) checkRemote(ctx context.Context, h registry.Handle, key string) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	resp, err := d.client.Increment(callCtx, h.Owner, key)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:     Outcome(resp.Result),
		Count:       resp.Count,
		Remaining:   resp.Remaining,
		WindowID:    resp.WindowID,
		OwnerID:     resp.NodeID,
		Incarnation: resp.Incarnation,
	}, nil
}

func verdict(allowed bool) Outcome {
	if allowed {
		return Allowed
	}
	return Denied
}
