// Package dependability publishes best-effort side-channel events about
// subscription lifecycle to a message bus, for operators who want to
// track churn without polling the broker's own APIs. The Manager
// treats this collaborator as fire-and-forget: publish failures are
// logged, never surfaced to the caller of Unsubscribe.
package dependability

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject subscription-removed events publish to.
const Subject = "sepa.subscriptions.removed"

// SubscriptionRemovedEvent is the JSON payload published on
// subscription removal.
type SubscriptionRemovedEvent struct {
	Sid       string    `json:"sid"`
	SPUID     string    `json:"spuid"`
	GatewayID string    `json:"gateway_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Publisher is the narrow slice of *nats.Conn this package depends on,
// so tests can substitute a fake without a live broker.
type Publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSNotifier implements manager.DependabilityNotifier over a NATS
// core connection. Publishing is at-most-once; there is no consumer
// acknowledgment or replay, matching the "dependability-adjacent
// logging" scope this collaborator covers, not exactly-once delivery.
type NATSNotifier struct {
	conn Publisher
	log  *slog.Logger
	now  func() time.Time
}

// NewNATSNotifier wraps an already-connected *nats.Conn.
func NewNATSNotifier(conn *nats.Conn, log *slog.Logger) *NATSNotifier {
	return &NATSNotifier{conn: conn, log: log, now: time.Now}
}

// SubscriptionRemoved implements manager.DependabilityNotifier.
func (n *NATSNotifier) SubscriptionRemoved(sid, spuid, gid, reason string) {
	evt := SubscriptionRemovedEvent{Sid: sid, SPUID: spuid, GatewayID: gid, Reason: reason, At: n.now()}
	data, err := json.Marshal(evt)
	if err != nil {
		n.log.Error("dependability: marshal event", "err", err, "sid", sid)
		return
	}
	if err := n.conn.Publish(Subject, data); err != nil {
		n.log.Warn("dependability: publish failed", "err", err, "sid", sid)
	}
}

// Close drains and closes the underlying connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
