// Package notify defines the notification types and the per-subscriber
// delivery capability the SPU Manager fans out through.
package notify

import "github.com/arces-wot/sepa/internal/rdf"

// Tag identifies the kind of a Notification.
type Tag int

const (
	// InitialSnapshot carries the full result set observed at subscribe time.
	InitialSnapshot Tag = iota
	// Added carries bindings that entered the result set on the last update.
	Added
	// Removed carries bindings that left the result set on the last update.
	Removed
	// Terminated signals that the emitting SPU is going away.
	Terminated
)

func (t Tag) String() string {
	switch t {
	case InitialSnapshot:
		return "InitialSnapshot"
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Reason qualifies a Terminated notification.
type Reason string

const (
	ReasonUnsubscribed  Reason = "unsubscribed"
	ReasonConnectionLost Reason = "connection_lost"
	ReasonShutdown       Reason = "shutdown"
)

// Notification is the tagged event delivered from an SPU to its
// subscribers, carrying the emitting spuid and a monotonically
// increasing per-SPU sequence number.
type Notification struct {
	SPUID    string
	Seq      uint64
	Tag      Tag
	Bindings rdf.BindingSet
	Reason   Reason
}

// EventSink is the per-subscriber delivery capability the gateway
// attaches when it registers interest; the registry's fan-out calls
// Send for every subscriber of an emitting SPU.
type EventSink interface {
	// Send delivers a notification frame to the subscriber. A non-nil
	// error means the connection is presumed dead, and the fan-out
	// reports it to the gateway via the registry's connection-lost hook.
	Send(Notification) error
}
