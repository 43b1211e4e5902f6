// Package manager implements the SPU Manager: the sole serialization
// point for update admission, the sole mutator of the registry, and
// the coordinator of the pre-update/endpoint-mutate/post-update
// barrier protocol described in spec.md §4.3 and §5.
//
// Concurrency is a coarse monitor split across two mutexes rather than
// one, so that an SPU's asynchronous completion ack can make progress
// while Update is blocked in a barrier wait: admissionMu serializes
// whole Update/Subscribe/Unsubscribe/KillSubscription calls exactly as
// the single-monitor design would, while poolMu guards only the
// processing pool and its done-channel, which EndOfProcessing and
// ExceptionOnProcessing touch without ever needing admissionMu. This
// is the local split spec.md §9 anticipates without changing the
// coarse-monitor semantics it asks to preserve.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arces-wot/sepa/internal/apierror"
	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/filter"
	"github.com/arces-wot/sepa/internal/notify"
	"github.com/arces-wot/sepa/internal/rdf"
	"github.com/arces-wot/sepa/internal/registry"
	"github.com/arces-wot/sepa/internal/spu"
	"github.com/arces-wot/sepa/internal/subscription"
)

// DependabilityNotifier is the external collaborator unsubscribe
// reports to, fire-and-forget, after removing a subscriber. Never
// consulted by the Manager itself.
type DependabilityNotifier interface {
	SubscriptionRemoved(sid, spuid, gid, reason string)
}

// PreProcessor stateless-rewrites an update before it reaches the
// filter and barrier steps. The default is the identity function.
type PreProcessor func(subscription.Update) (subscription.Update, error)

// SubscribeResult is the payload returned to a successful subscribe.
type SubscribeResult struct {
	Sid             string
	Alias           string
	InitialBindings rdf.BindingSet
}

// Manager coordinates the barrier protocol across the SPU population.
type Manager struct {
	admissionMu sync.Mutex

	poolMu sync.Mutex
	pool   map[string]struct{}
	doneCh chan struct{}

	reg  *registry.Registry
	spus map[string]*spu.SPU

	ep            endpoint.Client
	filt          filter.Filter
	preProcess    PreProcessor
	dependability DependabilityNotifier
	log           *slog.Logger
	idGen         func() string

	perSPUTimeout time.Duration
	retryBudget   int
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithFilter(f filter.Filter) Option { return func(m *Manager) { m.filt = f } }

func WithPreProcessor(p PreProcessor) Option { return func(m *Manager) { m.preProcess = p } }

func WithDependabilityNotifier(n DependabilityNotifier) Option {
	return func(m *Manager) { m.dependability = n }
}

func WithRetryBudget(n int) Option { return func(m *Manager) { m.retryBudget = n } }

func WithPerSPUTimeout(d time.Duration) Option { return func(m *Manager) { m.perSPUTimeout = d } }

// New builds a Manager. idGen mints spuids; sidGen (passed to the
// registry) mints subscriber ids.
func New(ep endpoint.Client, idGen func() string, sidGen func() string, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		reg:           registry.New(sidGen),
		spus:          make(map[string]*spu.SPU),
		ep:            ep,
		filt:          filter.All{},
		idGen:         idGen,
		log:           log,
		perSPUTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update runs one SPARQL update through the full pre-barrier /
// endpoint-mutate / post-barrier protocol.
func (m *Manager) Update(ctx context.Context, u subscription.Update) (endpoint.UpdateResult, error) {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()

	if m.preProcess != nil {
		rewritten, err := m.preProcess(u)
		if err != nil {
			return endpoint.UpdateResult{}, apierror.PreUpdateFailed(err.Error())
		}
		u = rewritten
	}

	active := m.filterActive(u)

	if err := m.runBarrier(active, m.preTimeout(len(active)), apierror.PhasePre, func(s *spu.SPU) {
		s.PreUpdateProcessing(ctx, u)
	}); err != nil {
		return endpoint.UpdateResult{}, err
	}

	result := m.applyWithRetry(ctx, u)

	if err := m.runBarrier(active, m.perSPUTimeout, apierror.PhasePost, func(s *spu.SPU) {
		s.PostUpdateProcessing(ctx, result)
	}); err != nil {
		return result, err
	}

	return result, nil
}

func (m *Manager) preTimeout(poolSize int) time.Duration {
	return m.perSPUTimeout * time.Duration(poolSize)
}

func (m *Manager) applyWithRetry(ctx context.Context, u subscription.Update) endpoint.UpdateResult {
	var result endpoint.UpdateResult
	attempts := m.retryBudget + 1
	for i := 0; i < attempts; i++ {
		r, err := m.ep.Update(ctx, u.Text, u.UsingGraphs, u.UsingNamedGraphs)
		if err == nil && !r.Failed() {
			return r
		}
		result = r
		if err != nil {
			result = endpoint.UpdateResult{StatusCode: 500, Body: err.Error()}
		}
	}
	return result
}

func (m *Manager) filterActive(u subscription.Update) []*spu.SPU {
	all := m.reg.AllSPUs()
	candidates := make([]filter.Candidate, len(all))
	for i, h := range all {
		candidates[i] = h
	}
	selected := m.filt.Select(u, candidates)
	out := make([]*spu.SPU, 0, len(selected))
	for _, c := range selected {
		if s, ok := m.spus[c.ID()]; ok {
			out = append(out, s)
		}
	}
	return out
}

// runBarrier dispatches every active SPU's phase work concurrently and
// waits for the pool to drain or the timeout to expire, whichever
// comes first. It never blocks holding poolMu.
func (m *Manager) runBarrier(active []*spu.SPU, timeout time.Duration, phase apierror.Phase, dispatch func(*spu.SPU)) error {
	if len(active) == 0 {
		return nil
	}

	m.poolMu.Lock()
	pool := make(map[string]struct{}, len(active))
	for _, s := range active {
		pool[s.ID()] = struct{}{}
	}
	done := make(chan struct{})
	m.pool = pool
	m.doneCh = done
	m.poolMu.Unlock()

	for _, s := range active {
		go dispatch(s)
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return apierror.Timeout(phase, len(active))
	}
}

// ackDone removes spuid from the current pool and, if it was the last
// member, signals the barrier's done channel. Late acks for an spuid
// not in the current pool (a straggler from an already-completed or
// timed-out barrier) are ignored, per spec.md §5.
func (m *Manager) ackDone(spuid string) {
	m.poolMu.Lock()
	if _, ok := m.pool[spuid]; !ok {
		m.poolMu.Unlock()
		return
	}
	delete(m.pool, spuid)
	empty := len(m.pool) == 0
	done := m.doneCh
	m.poolMu.Unlock()

	if empty {
		close(done)
	}
}

// EndOfProcessing implements spu.ManagerCapability.
func (m *Manager) EndOfProcessing(spuid string) { m.ackDone(spuid) }

// ExceptionOnProcessing implements spu.ManagerCapability. The SPU has
// already logged the failure; from the barrier's point of view a
// failed ack drains the pool exactly like a successful one.
func (m *Manager) ExceptionOnProcessing(spuid string) { m.ackDone(spuid) }

// NotifyEvent implements spu.ManagerCapability: looks the SPU up by id
// (a membership check that defeats stragglers from already-terminated
// SPUs) and delegates to the registry's fan-out.
func (m *Manager) NotifyEvent(n notify.Notification) {
	if _, ok := m.reg.GetSPUByID(n.SPUID); !ok {
		return
	}
	m.reg.NotifySubscribers(n.SPUID, n, m.handleConnectionLost)
}

// handleConnectionLost is called from an SPU's own goroutine during
// fan-out; it must never block on admissionMu synchronously, or a
// barrier holding admissionMu while waiting on this very SPU's ack
// would deadlock. Spawning a goroutine defers the kill_subscription
// call until admissionMu is free.
func (m *Manager) handleConnectionLost(gid string) {
	go m.ConnectionLost(gid)
}

// ConnectionLost tears down every subscriber attached to gid via
// kill_subscription (no dependability notification), for a gateway
// that has itself detected the connection is gone (e.g. a WebSocket
// read pump whose read failed). Safe to call synchronously from gateway code, which
// never holds admissionMu.
func (m *Manager) ConnectionLost(gid string) {
	for _, sub := range m.reg.SubscribersOfGid(gid) {
		m.KillSubscription(sub.Sid, gid)
	}
}

// Subscribe attaches to an existing SPU matching req's fingerprint, or
// creates and initializes a new one.
func (m *Manager) Subscribe(ctx context.Context, req subscription.Request) (SubscribeResult, error) {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()

	if existing, ok := m.reg.GetSPU(req); ok {
		s := m.spus[existing.ID()]
		sub := m.reg.AddSubscriber(req, existing)
		m.deliverInitialSnapshot(s, sub)
		return SubscribeResult{Sid: sub.Sid, Alias: req.Alias, InitialBindings: s.LastBindings()}, nil
	}

	id := m.idGen()
	s := spu.New(id, req, m.ep, m, m.log)
	if err := s.Init(ctx); err != nil {
		return SubscribeResult{}, err
	}
	if err := m.reg.Register(req, s); err != nil {
		return SubscribeResult{}, err
	}
	m.spus[id] = s

	sub := m.reg.AddSubscriber(req, s)
	m.deliverInitialSnapshot(s, sub)
	return SubscribeResult{Sid: sub.Sid, Alias: req.Alias, InitialBindings: s.LastBindings()}, nil
}

func (m *Manager) deliverInitialSnapshot(s *spu.SPU, sub *registry.Subscriber) {
	n := s.InitialSnapshot()
	if err := sub.Sink.Send(n); err != nil {
		m.handleConnectionLost(sub.Gid)
	}
}

// Unsubscribe removes a subscriber and, if it was the last on its
// SPU, terminates that SPU; then notifies the dependability
// collaborator.
func (m *Manager) Unsubscribe(sid, gid string) error {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()
	return m.unsubscribeLocked(sid, gid, true)
}

// KillSubscription is Unsubscribe without the dependability
// notification, used when the gateway reports an already-dead
// connection.
func (m *Manager) KillSubscription(sid, gid string) error {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()
	return m.unsubscribeLocked(sid, gid, false)
}

func (m *Manager) unsubscribeLocked(sid, gid string, notifyDependability bool) error {
	sub, err := m.reg.GetSubscriber(sid)
	if err != nil {
		return err
	}

	// Finish must run while sub is still attached in the registry: it
	// notifies through the SPU's own NotifyEvent -> registry fan-out,
	// which requires GetSPUByID and SubscribersOf to still see this
	// SPU and its last subscriber. Removing first would make the
	// Terminated notification undeliverable.
	s, hasSPU := m.spus[sub.SPUID]
	if hasSPU && len(m.reg.SubscribersOf(sub.SPUID)) == 1 {
		s.Finish(notify.ReasonUnsubscribed)
		fp := s.Predicate().Fingerprint()
		m.reg.RemoveSPU(sub.SPUID, fp)
		delete(m.spus, sub.SPUID)
	} else {
		m.reg.RemoveSubscriber(sub)
	}

	if notifyDependability && m.dependability != nil {
		m.dependability.SubscriptionRemoved(sub.Sid, sub.SPUID, gid, "unsubscribed")
	}
	return nil
}

// Shutdown terminates every live SPU, emitting Terminated(Shutdown) to
// their subscribers, and clears the registry. Finish runs before
// RemoveSPU for the same reason unsubscribeLocked orders them that
// way: NotifyEvent's registry fan-out needs the SPU and its
// subscribers still registered to deliver the Terminated notification.
func (m *Manager) Shutdown() {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()

	for id, s := range m.spus {
		s.Finish(notify.ReasonShutdown)
		fp := s.Predicate().Fingerprint()
		m.reg.RemoveSPU(id, fp)
	}
	m.spus = make(map[string]*spu.SPU)
}
