package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arces-wot/sepa/internal/endpoint"
	memstore "github.com/arces-wot/sepa/internal/endpoint/memory"
	"github.com/arces-wot/sepa/internal/notify"
	"github.com/arces-wot/sepa/internal/spu"
	"github.com/arces-wot/sepa/internal/subscription"
)

type recordingSink struct {
	received []notify.Notification
}

func (s *recordingSink) Send(n notify.Notification) error {
	s.received = append(s.received, n)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func counter(prefix string) func() string {
	var n int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1)) }
}

func seededStore(t *testing.T) endpoint.Client {
	t.Helper()
	s := memstore.New()
	_, err := s.Update(context.Background(), `INSERT DATA { <http://ex/a> <http://ex/p> "1" . }`, nil, nil)
	require.NoError(t, err)
	return s
}

func TestUpdateWithNoSubscribersReturnsEndpointResponseUnchanged(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger())

	res, err := m.Update(context.Background(), subscription.Update{Text: `INSERT DATA { <http://ex/b> <http://ex/p> "2" . }`})
	require.NoError(t, err)
	assert.False(t, res.Failed())
}

func TestSubscribeInitialSnapshotThenUpdateNotifies(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger())

	sink := &recordingSink{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`, GatewayID: "gw-1", Sink: sink}
	res, err := m.Subscribe(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InitialBindings.Len())
	require.Len(t, sink.received, 1)
	assert.Equal(t, notify.InitialSnapshot, sink.received[0].Tag)

	_, err = m.Update(context.Background(), subscription.Update{
		Text: `DELETE DATA { <http://ex/a> <http://ex/p> "1" . } ; INSERT DATA { <http://ex/a> <http://ex/p> "2" . }`,
	})
	require.NoError(t, err)

	require.Len(t, sink.received, 3)
	assert.Equal(t, notify.Added, sink.received[1].Tag)
	assert.Equal(t, notify.Removed, sink.received[2].Tag)
}

func TestSubscribeDedupSharesSameSPU(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger())

	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`, GatewayID: "gw-1", Sink: &recordingSink{}}
	res1, err := m.Subscribe(context.Background(), req)
	require.NoError(t, err)

	req2 := req
	req2.Sink = &recordingSink{}
	req2.GatewayID = "gw-2"
	res2, err := m.Subscribe(context.Background(), req2)
	require.NoError(t, err)

	assert.NotEqual(t, res1.Sid, res2.Sid)
	assert.Len(t, m.spus, 1)
}

func TestUnsubscribeLastSubscriberTerminatesSPU(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger())

	sink := &recordingSink{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`, GatewayID: "gw-1", Sink: sink}
	res, err := m.Subscribe(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, m.spus, 1)

	require.NoError(t, m.Unsubscribe(res.Sid, "gw-1"))
	assert.Empty(t, m.spus)

	require.Len(t, sink.received, 2)
	assert.Equal(t, notify.Terminated, sink.received[1].Tag)
	assert.Equal(t, notify.ReasonUnsubscribed, sink.received[1].Reason)
}

func TestUnsubscribeUnknownSidReturnsNotFound(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger())
	err := m.Unsubscribe("missing", "gw-1")
	require.Error(t, err)
}

type killSpy struct {
	calls []string
}

func (k *killSpy) SubscriptionRemoved(sid, spuid, gid, reason string) {
	k.calls = append(k.calls, sid)
}

func TestKillSubscriptionSkipsDependabilityNotification(t *testing.T) {
	store := seededStore(t)
	spy := &killSpy{}
	m := New(store, counter("spu"), counter("sid"), testLogger(), WithDependabilityNotifier(spy))

	sink := &recordingSink{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`, GatewayID: "gw-1", Sink: sink}
	res, err := m.Subscribe(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, m.KillSubscription(res.Sid, "gw-1"))
	assert.Empty(t, spy.calls)
}

func TestUnsubscribeNotifiesDependability(t *testing.T) {
	store := seededStore(t)
	spy := &killSpy{}
	m := New(store, counter("spu"), counter("sid"), testLogger(), WithDependabilityNotifier(spy))

	sink := &recordingSink{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`, GatewayID: "gw-1", Sink: sink}
	res, err := m.Subscribe(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(res.Sid, "gw-1"))
	assert.Equal(t, []string{res.Sid}, spy.calls)
}

// TestBarrierTimeoutAbandonsPoolWait exercises the pre-barrier timeout
// path directly against runBarrier/ackDone, standing in for a slow
// SPU worker without needing a slow endpoint round trip.
func TestBarrierTimeoutAbandonsPoolWait(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger(), WithPerSPUTimeout(10*time.Millisecond))

	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	fast := spu.New("spu-fast", req, store, m, testLogger())
	slow := spu.New("spu-slow", req, store, m, testLogger())
	require.NoError(t, fast.Init(context.Background()))
	require.NoError(t, slow.Init(context.Background()))
	active := []*spu.SPU{fast, slow}

	err := m.runBarrier(active, 20*time.Millisecond, "pre_update_processing", func(s *spu.SPU) {
		if s.ID() == "spu-slow" {
			time.Sleep(200 * time.Millisecond)
		}
		m.ackDone(s.ID())
	})

	require.Error(t, err)
}

func TestBarrierCompletesWithinTimeout(t *testing.T) {
	store := seededStore(t)
	m := New(store, counter("spu"), counter("sid"), testLogger(), WithPerSPUTimeout(50*time.Millisecond))

	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	a := spu.New("spu-a", req, store, m, testLogger())
	require.NoError(t, a.Init(context.Background()))

	err := m.runBarrier([]*spu.SPU{a}, 100*time.Millisecond, "pre_update_processing", func(s *spu.SPU) {
		m.ackDone(s.ID())
	})
	require.NoError(t, err)
}
