// Package spu implements the Subscription Processing Unit: the
// per-predicate worker that owns a result set and computes the delta
// between successive endpoint states.
package spu

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arces-wot/sepa/internal/apierror"
	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/notify"
	"github.com/arces-wot/sepa/internal/rdf"
	"github.com/arces-wot/sepa/internal/subscription"
)

// State is one of the SPU lifecycle states.
type State int

const (
	Initializing State = iota
	Idle
	PreProcessing
	AwaitingEndpoint
	PostProcessing
	Terminating
	Dead
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Idle:
		return "Idle"
	case PreProcessing:
		return "PreProcessing"
	case AwaitingEndpoint:
		return "AwaitingEndpoint"
	case PostProcessing:
		return "PostProcessing"
	case Terminating:
		return "Terminating"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ManagerCapability is the narrow surface an SPU uses to talk back to
// its Manager, avoiding a direct SPU<->Manager reference cycle: the
// SPU knows only its own spuid and this capability.
type ManagerCapability interface {
	EndOfProcessing(spuid string)
	ExceptionOnProcessing(spuid string)
	NotifyEvent(n notify.Notification)
}

// SPU is one Subscription Processing Unit, unique per predicate
// fingerprint.
type SPU struct {
	id        string
	predicate subscription.Request
	endpoint  endpoint.Client
	manager   ManagerCapability
	log       *slog.Logger

	mu           sync.Mutex
	state        State
	lastBindings rdf.BindingSet
	seq          uint64
}

// New constructs an SPU in the Initializing state; call Init before it
// participates in any barrier.
func New(id string, predicate subscription.Request, ep endpoint.Client, mgr ManagerCapability, log *slog.Logger) *SPU {
	return &SPU{
		id:        id,
		predicate: predicate,
		endpoint:  ep,
		manager:   mgr,
		log:       log.With("spuid", id),
		state:     Initializing,
	}
}

// ID returns the SPU's stable identifier.
func (s *SPU) ID() string { return s.id }

// Predicate returns the subscribe request that birthed this SPU.
func (s *SPU) Predicate() subscription.Request { return s.predicate }

// LastBindings returns the most recently computed result set.
func (s *SPU) LastBindings() rdf.BindingSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBindings
}

// State returns the SPU's current lifecycle state.
func (s *SPU) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init synchronously evaluates the predicate and seeds last_bindings.
// A non-nil error means the SPU must be discarded before registration.
func (s *SPU) Init(ctx context.Context) error {
	bindings, err := s.endpoint.Query(ctx, s.predicate.Query, s.predicate.DefaultGraphs, s.predicate.NamedGraphs)
	if err != nil {
		s.mu.Lock()
		s.state = Dead
		s.mu.Unlock()
		return apierror.Endpoint(err.Error())
	}

	s.mu.Lock()
	s.lastBindings = bindings
	s.state = Idle
	s.mu.Unlock()
	return nil
}

// InitialSnapshot builds the InitialSnapshot notification a fresh
// subscriber should receive. It takes the next number from the same
// per-SPU sequence counter as Added/Removed/Terminated, so it is
// numbered ahead of every notification the subscriber receives after it.
func (s *SPU) InitialSnapshot() notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return notify.Notification{SPUID: s.id, Seq: s.seq, Tag: notify.InitialSnapshot, Bindings: s.lastBindings}
}

// PreUpdateProcessing runs the pre-barrier phase. The default policy
// is a no-op that acknowledges immediately; it exists as an extension
// point for SPUs that can locally rule out being affected by update.
func (s *SPU) PreUpdateProcessing(ctx context.Context, update subscription.Update) {
	s.mu.Lock()
	s.state = PreProcessing
	s.mu.Unlock()

	s.mu.Lock()
	s.state = AwaitingEndpoint
	s.mu.Unlock()

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()

	s.manager.EndOfProcessing(s.id)
}

// PostUpdateProcessing runs the post-barrier phase: re-evaluate the
// predicate, diff against last_bindings, emit Added/Removed, and
// acknowledge. If the endpoint mutation itself failed, it acknowledges
// without recomputation, per spec.
func (s *SPU) PostUpdateProcessing(ctx context.Context, result endpoint.UpdateResult) {
	s.mu.Lock()
	s.state = PostProcessing
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
	}()

	if result.Failed() {
		s.manager.EndOfProcessing(s.id)
		return
	}

	newBindings, err := s.endpoint.Query(ctx, s.predicate.Query, s.predicate.DefaultGraphs, s.predicate.NamedGraphs)
	if err != nil {
		s.log.Error("post-update predicate re-evaluation failed", "error", err)
		s.manager.ExceptionOnProcessing(s.id)
		return
	}

	s.mu.Lock()
	oldBindings := s.lastBindings
	added := newBindings.Diff(oldBindings)
	removed := oldBindings.Diff(newBindings)
	s.lastBindings = newBindings

	if !added.IsEmpty() {
		s.seq++
		n := notify.Notification{SPUID: s.id, Seq: s.seq, Tag: notify.Added, Bindings: added}
		s.mu.Unlock()
		s.manager.NotifyEvent(n)
		s.mu.Lock()
	}
	if !removed.IsEmpty() {
		s.seq++
		n := notify.Notification{SPUID: s.id, Seq: s.seq, Tag: notify.Removed, Bindings: removed}
		s.mu.Unlock()
		s.manager.NotifyEvent(n)
		s.mu.Lock()
	}
	s.mu.Unlock()

	s.manager.EndOfProcessing(s.id)
}

// Finish transitions the SPU to Terminating then Dead and emits a
// Terminated notification to whatever subscribers are still attached
// at the registry level. The barrier methods do not check for Dead;
// the Manager keeps a finished SPU out of later barriers by removing
// it from the registry. The Manager must call Finish before removing this
// SPU (and its subscribers) from the registry, or NotifyEvent's
// registry lookup will find nothing to deliver to.
func (s *SPU) Finish(reason notify.Reason) {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return
	}
	s.state = Terminating
	s.seq++
	n := notify.Notification{SPUID: s.id, Seq: s.seq, Tag: notify.Terminated, Reason: reason}
	s.state = Dead
	s.mu.Unlock()

	s.manager.NotifyEvent(n)
}
