// Package supervisor guarantees that exactly one live rate-limiter instance
// exists cluster-wide. Each node runs a supervisor; the election rule is
// deterministic (the live node with the lowest ID starts the singleton when
// no live owner is known), and every ownership change is mediated through the
// registry's incarnation ordering. A supervisor that loses a conflict stops
// its instance and discards its counters: state loss across failover is an
// accepted tradeoff, not a bug.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quotad/internal/cluster"
	"quotad/internal/counter"
	"quotad/internal/journal"
	"quotad/internal/registry"
)

// MembershipView is the slice of cluster.Membership the supervisor needs.
type MembershipView interface {
	Self() cluster.Node
	Members() []cluster.Node
	Watch() <-chan cluster.Event
}

// Announcer pushes a freshly registered handle to one peer. When the peer's
// replica refuses the handle it returns the entry the peer currently holds,
// so a losing supervisor learns the winner immediately instead of waiting for
// gossip.
type Announcer interface {
	Announce(ctx context.Context, to cluster.Node, h registry.Handle) (accepted bool, current registry.Handle, err error)
}

// Config carries the singleton parameters.
type Config struct {
	Name              string
	MaxPerWindow      int64
	WindowDuration    time.Duration
	RestartDelay      time.Duration
	ReconcileInterval time.Duration
	AnnounceTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 250 * time.Millisecond
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Second
	}
	if c.AnnounceTimeout <= 0 {
		c.AnnounceTimeout = 2 * time.Second
	}
}

// instance is one tenure of the singleton on this node.
type instance struct {
	store       *counter.Store
	sched       *counter.Scheduler
	incarnation int64
}

// Supervisor runs the election/restart loop for one node.
type Supervisor struct {
	cfg        Config
	membership MembershipView
	reg        *registry.Registry
	announcer  Announcer
	recorder   journal.Recorder

	mu   sync.Mutex
	inst *instance

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a supervisor. recorder may be journal.Nop{}.
func New(cfg Config, membership MembershipView, reg *registry.Registry, announcer Announcer, recorder journal.Recorder) *Supervisor {
	cfg.applyDefaults()
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Supervisor{
		cfg:        cfg,
		membership: membership,
		reg:        reg,
		announcer:  announcer,
		recorder:   recorder,
		done:       make(chan struct{}),
	}
}

// Start launches the supervision loop. The first election happens after one
// reconcile interval so a restarting node can hear about an existing owner
// before deciding to start its own instance.
func (s *Supervisor) Start() {
	events := s.membership.Watch()
	updates := s.reg.Watch()

	s.wg.Add(1)
	go s.run(events, updates)
}

// Stop terminates the loop, stops any local instance, and unregisters it.
func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()

	s.mu.Lock()
	inst := s.inst
	s.inst = nil
	s.mu.Unlock()

	if inst != nil {
		inst.sched.Stop()
		s.reg.Unregister(s.cfg.Name, inst.incarnation)
		s.record(journal.KindUnregistered, inst.incarnation, "supervisor stopped")
		slog.Info("singleton stopped and unregistered",
			"name", s.cfg.Name, "incarnation", inst.incarnation)
	}
}

// Local returns the live counter store and its incarnation when this node
// currently owns the singleton.
func (s *Supervisor) Local() (*counter.Store, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inst == nil {
		return nil, 0, false
	}
	return s.inst.store, s.inst.incarnation, true
}

// Name returns the singleton name this supervisor manages.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// IsOwner reports whether this node currently runs the singleton.
func (s *Supervisor) IsOwner() bool {
	_, _, ok := s.Local()
	return ok
}

func (s *Supervisor) run(events <-chan cluster.Event, updates <-chan registry.Handle) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		var crashed <-chan struct{}
		s.mu.Lock()
		if s.inst != nil {
			crashed = s.inst.sched.Crashed()
		}
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		case ev := <-events:
			if ev.Type == cluster.Leave {
				s.reg.Evict(ev.Node.ID)
			}
			s.reconcile()
		case <-updates:
			s.reconcile()
		case <-ticker.C:
			s.reconcile()
		case <-crashed:
			s.restartAfterCrash()
		}
	}
}

// reconcile drives the member view, the registry, and the local instance
// toward a single live owner. It is idempotent and runs on every membership
// event, registry update, and reconcile tick.
func (s *Supervisor) reconcile() {
	self := s.membership.Self()
	members := s.membership.Members()

	h, known := s.reg.Lookup(s.cfg.Name)
	if known && !isMember(members, h.Owner.ID) {
		slog.Warn("singleton owner no longer in member list, evicting",
			"name", s.cfg.Name, "owner", h.Owner.ID, "incarnation", h.Incarnation)
		s.reg.Evict(h.Owner.ID)
		known = false
	}

	s.mu.Lock()
	inst := s.inst
	s.mu.Unlock()

	switch {
	case known && h.Owner.ID == self.ID:
		// Registry and instance can disagree right after a conflict loss or
		// crash; a live instance with a matching incarnation needs nothing.
		if inst == nil || inst.incarnation != h.Incarnation {
			s.relinquish("registry entry does not match local instance")
			s.startInstance()
		}
	case known:
		if inst != nil {
			// Another node holds a handle with precedence: relinquish.
			s.relinquish(fmt.Sprintf("superseded by %s (incarnation %d)", h.Owner.ID, h.Incarnation))
		}
	default:
		// No live owner. Deterministic rule: lowest node ID starts it.
		if len(members) > 0 && members[0].ID == self.ID {
			s.startInstance()
		} else if inst != nil {
			s.relinquish("no longer the election candidate")
		}
	}
}

func (s *Supervisor) startInstance() {
	self := s.membership.Self()
	inc := s.reg.NextIncarnation(s.cfg.Name)
	h := registry.Handle{Name: s.cfg.Name, Owner: self, Incarnation: inc}

	if err := s.reg.Register(h); err != nil {
		slog.Warn("lost registration race for singleton", "name", s.cfg.Name, "error", err)
		return
	}

	store := counter.NewStore(s.cfg.MaxPerWindow)
	sched := counter.NewScheduler(store, s.cfg.WindowDuration, counter.WithResetHook(func(windowID int64) {
		s.record(journal.KindWindowReset, inc, fmt.Sprintf("window %d started", windowID))
	}))
	sched.Start()

	s.mu.Lock()
	s.inst = &instance{store: store, sched: sched, incarnation: inc}
	s.mu.Unlock()

	slog.Info("elected as singleton owner",
		"name", s.cfg.Name, "incarnation", inc, "window_duration", s.cfg.WindowDuration)
	s.record(journal.KindElected, inc, "")

	go s.announceAll(h)
}

// announceAll pushes the handle to every other live member. A refusal means
// some peer already knows a handle with precedence; applying the peer's
// current entry makes the next reconcile relinquish.
func (s *Supervisor) announceAll(h registry.Handle) {
	self := s.membership.Self()
	for _, member := range s.membership.Members() {
		if member.ID == self.ID {
			continue
		}
		go func(to cluster.Node) {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnnounceTimeout)
			defer cancel()

			accepted, current, err := s.announcer.Announce(ctx, to, h)
			if err != nil {
				slog.Debug("announce failed, heartbeat gossip will catch up",
					"peer", to.ID, "error", err)
				return
			}
			if !accepted {
				s.reg.Apply(current)
			}
		}(member)
	}
}

func (s *Supervisor) relinquish(reason string) {
	s.mu.Lock()
	inst := s.inst
	s.inst = nil
	s.mu.Unlock()

	if inst == nil {
		return
	}
	inst.sched.Stop()
	s.reg.Unregister(s.cfg.Name, inst.incarnation)

	slog.Info("relinquished singleton ownership",
		"name", s.cfg.Name, "incarnation", inst.incarnation, "reason", reason)
	s.record(journal.KindRelinquished, inst.incarnation, reason)
}

// restartAfterCrash replaces a crashed instance with a fresh one under a new
// incarnation. Restarts are unlimited: a transient gap in enforcement beats a
// permanently dead limiter.
func (s *Supervisor) restartAfterCrash() {
	s.mu.Lock()
	inst := s.inst
	s.inst = nil
	s.mu.Unlock()

	if inst == nil {
		return
	}
	inst.sched.Stop()
	s.reg.Unregister(s.cfg.Name, inst.incarnation)

	slog.Error("singleton instance crashed, restarting",
		"name", s.cfg.Name, "incarnation", inst.incarnation)
	s.record(journal.KindRestarted, inst.incarnation, "instance crashed")

	select {
	case <-s.done:
		return
	case <-time.After(s.cfg.RestartDelay):
	}
	s.reconcile()
}

func (s *Supervisor) record(kind string, incarnation int64, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.recorder.Record(ctx, journal.Event{
		Kind:        kind,
		NodeID:      s.membership.Self().ID,
		Incarnation: incarnation,
		Detail:      detail,
	}); err != nil {
		slog.Warn("failed to record journal event", "kind", kind, "error", err)
	}
}

func isMember(members []cluster.Node, id string) bool {
	for _, m := range members {
		if m.ID == id {
			return true
		}
	}
	return false
}
