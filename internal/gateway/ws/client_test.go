package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arces-wot/sepa/internal/auth"
	memstore "github.com/arces-wot/sepa/internal/endpoint/memory"
	"github.com/arces-wot/sepa/internal/manager"
	"github.com/arces-wot/sepa/internal/subscription"
)

func subscriptionUpdate(text string) subscription.Update {
	return subscription.Update{Text: text}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func counter(prefix string) func() string {
	var n int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1)) }
}

func newTestServer(t *testing.T, validator auth.TokenValidator) (*httptest.Server, *manager.Manager) {
	t.Helper()
	store := memstore.New()
	mgr := manager.New(store, counter("spu"), counter("sid"), testLogger())
	h := NewHandler(mgr, validator, counter("gid"), testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscriptions/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	_, err := mgr.Update(context.Background(), subscriptionUpdate(`INSERT DATA { <http://ex/a> <http://ex/p> "1" . }`))
	require.NoError(t, err)

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(subscribeFrame{
		Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame notificationFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "InitialSnapshot", frame.Tag)
}

func TestSubscribeReceivesAddedOnLaterUpdate(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(subscribeFrame{
		Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot notificationFrame
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "InitialSnapshot", snapshot.Tag)

	_, err := mgr.Update(context.Background(), subscriptionUpdate(`INSERT DATA { <http://ex/a> <http://ex/p> "1" . }`))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var added notificationFrame
	require.NoError(t, conn.ReadJSON(&added))
	assert.Equal(t, "Added", added.Tag)
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	ts := auth.NewTokenService([]byte("secret"), time.Hour)
	srv, _ := newTestServer(t, ts)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscriptions/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSAcceptsValidTokenInQuery(t *testing.T) {
	ts := auth.NewTokenService([]byte("secret"), time.Hour)
	token, err := ts.Mint("alice", []string{"user"})
	require.NoError(t, err)
	srv, _ := newTestServer(t, ts)

	conn := dial(t, srv, "?access_token="+token)
	require.NoError(t, conn.WriteJSON(subscribeFrame{
		Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`,
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame notificationFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "InitialSnapshot", frame.Tag)
}

func TestConnectionLostTearsDownSubscriberOnClose(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(subscribeFrame{
		Query: `SELECT ?v WHERE { <http://ex/a> <http://ex/p> ?v }`,
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot notificationFrame
	require.NoError(t, conn.ReadJSON(&snapshot))

	conn.Close()
	time.Sleep(100 * time.Millisecond)

	_, err := mgr.Update(context.Background(), subscriptionUpdate(`INSERT DATA { <http://ex/a> <http://ex/p> "1" . }`))
	require.NoError(t, err)
}
