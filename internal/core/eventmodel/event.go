// Package eventmodel defines the Event type and the domain event taxonomy
// emitted by the agent core. Payloads are untyped maps built by each
// emitter; their keys are not checked against the event kind.
package eventmodel

import "time"

// Kind discriminates an Event's payload shape.
type Kind string

const (
	KindAgentStarted           Kind = "agent.started"
	KindAgentStopped           Kind = "agent.stopped"
	KindContainerRegistered    Kind = "container.registered"
	KindContainerUnregistered  Kind = "container.unregistered"
	KindContainerStatusChanged Kind = "container.status_changed"
	KindUpdateAvailable        Kind = "update.available"
	KindUpdateStarted          Kind = "update.started"
	KindUpdateApplied          Kind = "update.applied"
	KindUpdateFailed           Kind = "update.failed"
	KindRuntimeUnavailable     Kind = "runtime.unavailable"
	KindRuntimeRecovered       Kind = "runtime.recovered"
)

// Event is one domain occurrence, assigned a strictly monotonic Sequence by
// the Event Bus at emission time.
type Event struct {
	Sequence    uint64
	Kind        Kind
	At          time.Time
	ContainerID string
	Payload     map[string]any
}
