package spu

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arces-wot/sepa/internal/endpoint"
	memstore "github.com/arces-wot/sepa/internal/endpoint/memory"
	"github.com/arces-wot/sepa/internal/notify"
	"github.com/arces-wot/sepa/internal/subscription"
)

// fakeManager records the acks and notifications an SPU sends back,
// standing in for the real Manager's capability surface.
type fakeManager struct {
	mu            sync.Mutex
	acked         []string
	exceptions    []string
	notifications []notify.Notification
}

func (f *fakeManager) EndOfProcessing(spuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, spuid)
}

func (f *fakeManager) ExceptionOnProcessing(spuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exceptions = append(f.exceptions, spuid)
}

func (f *fakeManager) NotifyEvent(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) endpoint.Client {
	t.Helper()
	s := memstore.New()
	_, err := s.Update(context.Background(), `INSERT DATA { <http://ex/a> <http://ex/p> "1" . }`, nil, nil)
	require.NoError(t, err)
	return s
}

func TestSPUInitSeedsLastBindings(t *testing.T) {
	store := setupStore(t)
	mgr := &fakeManager{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}

	s := New("spu-1", req, store, mgr, testLogger())
	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, s.LastBindings().Len())
}

func TestSPUPostUpdateEmitsAddedAndRemoved(t *testing.T) {
	store := setupStore(t)
	mgr := &fakeManager{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	s := New("spu-1", req, store, mgr, testLogger())
	require.NoError(t, s.Init(context.Background()))

	_, err := store.Update(context.Background(), `DELETE DATA { <http://ex/a> <http://ex/p> "1" . } ; INSERT DATA { <http://ex/a> <http://ex/p> "2" . }`, nil, nil)
	require.NoError(t, err)

	s.PostUpdateProcessing(context.Background(), endpoint.UpdateResult{StatusCode: 200})

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	require.Len(t, mgr.acked, 1)
	require.Len(t, mgr.notifications, 2)
	assert.Equal(t, notify.Added, mgr.notifications[0].Tag)
	assert.Equal(t, notify.Removed, mgr.notifications[1].Tag)
	assert.Equal(t, Idle, s.State())
}

func TestSPUPostUpdateSkipsRecomputeOnFailedResult(t *testing.T) {
	store := setupStore(t)
	mgr := &fakeManager{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	s := New("spu-1", req, store, mgr, testLogger())
	require.NoError(t, s.Init(context.Background()))

	before := s.LastBindings()
	s.PostUpdateProcessing(context.Background(), endpoint.UpdateResult{StatusCode: 500})

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Len(t, mgr.acked, 1)
	assert.Empty(t, mgr.notifications)
	assert.True(t, before.Equal(s.LastBindings()))
}

func TestSPUPreUpdateProcessingAcksImmediately(t *testing.T) {
	store := setupStore(t)
	mgr := &fakeManager{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	s := New("spu-1", req, store, mgr, testLogger())
	require.NoError(t, s.Init(context.Background()))

	s.PreUpdateProcessing(context.Background(), subscription.Update{Text: "INSERT DATA {}"})

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Equal(t, []string{"spu-1"}, mgr.acked)
	assert.Equal(t, Idle, s.State())
}

func TestSPUFinishEmitsTerminated(t *testing.T) {
	store := setupStore(t)
	mgr := &fakeManager{}
	req := subscription.Request{Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`}
	s := New("spu-1", req, store, mgr, testLogger())
	require.NoError(t, s.Init(context.Background()))

	s.Finish(notify.ReasonUnsubscribed)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	require.Len(t, mgr.notifications, 1)
	assert.Equal(t, notify.Terminated, mgr.notifications[0].Tag)
	assert.Equal(t, notify.ReasonUnsubscribed, mgr.notifications[0].Reason)
	assert.Equal(t, Dead, s.State())
}
