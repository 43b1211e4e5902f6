// Package registry is the canonical home of live SPUs and Subscribers:
// it enforces the identity and uniqueness invariants spec.md §4.1
// names and provides constant-time lookup across five tables. Most
// operations are called while the SPU Manager holds its admission lock
// (see internal/manager), but NotifySubscribers and the lookups it and
// Manager.ConnectionLost use also run from SPU and gateway goroutines
// without it, so the registry guards its tables with its own RWMutex.
package registry

import (
	"sync"

	"github.com/arces-wot/sepa/internal/apierror"
	"github.com/arces-wot/sepa/internal/notify"
	"github.com/arces-wot/sepa/internal/subscription"
)

// SPUHandle is the narrow view of an SPU the registry needs: its id and
// predicate, enough to key it, without importing package spu (which
// would cycle back through ManagerCapability).
type SPUHandle interface {
	ID() string
	Predicate() subscription.Request
}

// Subscriber is a live subscription attached to an SPU.
type Subscriber struct {
	Sid   string
	Gid   string
	SPUID string
	Sink  notify.EventSink
}

// Registry holds the five lookup tables described in spec.md §3.
type Registry struct {
	mu sync.RWMutex

	byFingerprint map[subscription.Fingerprint]SPUHandle
	bySPUID       map[string]SPUHandle
	bySid         map[string]*Subscriber
	byGid         map[string]map[string]struct{} // gid -> set of sid
	spuSubscribers map[string]map[string]struct{} // spuid -> set of sid

	nextSid func() string
}

// New builds an empty Registry. sidGen generates fresh subscriber ids.
func New(sidGen func() string) *Registry {
	return &Registry{
		byFingerprint:  make(map[subscription.Fingerprint]SPUHandle),
		bySPUID:        make(map[string]SPUHandle),
		bySid:          make(map[string]*Subscriber),
		byGid:          make(map[string]map[string]struct{}),
		spuSubscribers: make(map[string]map[string]struct{}),
		nextSid:        sidGen,
	}
}

// Contains reports whether a live SPU already answers req's fingerprint.
func (r *Registry) Contains(req subscription.Request) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byFingerprint[req.Fingerprint()]
	return ok
}

// GetSPU returns the SPU matching req's fingerprint, if any.
func (r *Registry) GetSPU(req subscription.Request) (SPUHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spu, ok := r.byFingerprint[req.Fingerprint()]
	return spu, ok
}

// GetSPUByID returns the SPU with the given spuid, if live.
func (r *Registry) GetSPUByID(spuid string) (SPUHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spu, ok := r.bySPUID[spuid]
	return spu, ok
}

// Register inserts a freshly initialized SPU into by_fingerprint and
// by_spuid. Fails with AlreadyExists if the fingerprint is already
// occupied.
func (r *Registry) Register(req subscription.Request, spu SPUHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := req.Fingerprint()
	if _, ok := r.byFingerprint[fp]; ok {
		return apierror.AlreadyExists("subscription already registered for this predicate")
	}
	r.byFingerprint[fp] = spu
	r.bySPUID[spu.ID()] = spu
	r.spuSubscribers[spu.ID()] = make(map[string]struct{})
	return nil
}

// AddSubscriber creates a fresh Subscriber attached to spu and req's
// gateway/sink, and links it into by_sid, by_gid, and spu_subscribers.
func (r *Registry) AddSubscriber(req subscription.Request, spu SPUHandle) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscriber{Sid: r.nextSid(), Gid: req.GatewayID, SPUID: spu.ID(), Sink: req.Sink}
	r.bySid[sub.Sid] = sub

	if r.spuSubscribers[spu.ID()] == nil {
		r.spuSubscribers[spu.ID()] = make(map[string]struct{})
	}
	r.spuSubscribers[spu.ID()][sub.Sid] = struct{}{}

	if r.byGid[sub.Gid] == nil {
		r.byGid[sub.Gid] = make(map[string]struct{})
	}
	r.byGid[sub.Gid][sub.Sid] = struct{}{}

	return sub
}

// GetSubscriber looks up a Subscriber by sid.
func (r *Registry) GetSubscriber(sid string) (*Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.bySid[sid]
	if !ok {
		return nil, apierror.NotFound(sid)
	}
	return sub, nil
}

// RemoveSubscriber unlinks sub from by_sid, by_gid, and
// spu_subscribers. It returns true iff spu_subscribers[sub.SPUID]
// became empty, in which case the caller must terminate that SPU.
func (r *Registry) RemoveSubscriber(sub *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bySid, sub.Sid)
	if set, ok := r.byGid[sub.Gid]; ok {
		delete(set, sub.Sid)
		if len(set) == 0 {
			delete(r.byGid, sub.Gid)
		}
	}

	empty := false
	if set, ok := r.spuSubscribers[sub.SPUID]; ok {
		delete(set, sub.Sid)
		empty = len(set) == 0
	}
	return empty
}

// SubscribersOfGid returns every live subscriber attached to gid, for
// connection-scoped mass unsubscription.
func (r *Registry) SubscribersOfGid(gid string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byGid[gid]
	if !ok {
		return nil
	}
	out := make([]*Subscriber, 0, len(set))
	for sid := range set {
		if sub, ok := r.bySid[sid]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// SubscribersOf returns the current subscribers of an SPU.
func (r *Registry) SubscribersOf(spuid string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.spuSubscribers[spuid]
	if !ok {
		return nil
	}
	out := make([]*Subscriber, 0, len(set))
	for sid := range set {
		if sub, ok := r.bySid[sid]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// RemoveSPU atomically drops spu and every table entry that
// references it: by_fingerprint, by_spuid, spu_subscribers, and every
// subscriber still attached (by_sid, by_gid). Returns the removed
// subscribers so the caller can notify them.
func (r *Registry) RemoveSPU(spuid string, fp subscription.Fingerprint) []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byFingerprint, fp)
	delete(r.bySPUID, spuid)

	set := r.spuSubscribers[spuid]
	delete(r.spuSubscribers, spuid)

	var removed []*Subscriber
	for sid := range set {
		sub, ok := r.bySid[sid]
		if !ok {
			continue
		}
		delete(r.bySid, sid)
		if gidSet, ok := r.byGid[sub.Gid]; ok {
			delete(gidSet, sid)
			if len(gidSet) == 0 {
				delete(r.byGid, sub.Gid)
			}
		}
		removed = append(removed, sub)
	}
	return removed
}

// AllSPUs returns every live SPU, for the Manager's filter step.
func (r *Registry) AllSPUs() []SPUHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SPUHandle, 0, len(r.bySPUID))
	for _, s := range r.bySPUID {
		out = append(out, s)
	}
	return out
}

// NotifySubscribers fans a notification out to every subscriber of
// spuid. Delivery is best-effort: a sink error is reported through
// onConnectionLost (typically the gateway's connection_lost hook) and
// never aborts delivery to other subscribers.
func (r *Registry) NotifySubscribers(spuid string, n notify.Notification, onConnectionLost func(gid string)) {
	for _, sub := range r.SubscribersOf(spuid) {
		if err := sub.Sink.Send(n); err != nil && onConnectionLost != nil {
			onConnectionLost(sub.Gid)
		}
	}
}
