// Package containermodel defines the Container Record and its pure
// lifecycle rules. Nothing here performs I/O; the registry and runtime
// shells are the only callers that touch the outside world.
package containermodel

import "time"

// Status is the lifecycle status of a container as reported by the runtime.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusRestarting Status = "restarting"
	StatusExited     Status = "exited"
	StatusRemoving   Status = "removing"
	StatusDead       Status = "dead"
	StatusUnknown    Status = "unknown"
)

// UpdateState is the per-container update state machine position.
type UpdateState string

const (
	UpdateIdle             UpdateState = "idle"
	UpdateChecking         UpdateState = "checking"
	UpdateAvailable        UpdateState = "update_available"
	UpdateUpdating         UpdateState = "updating"
	UpdateUpdated          UpdateState = "updated"
	UpdateFailed           UpdateState = "failed"
)

// validTransitions enumerates the legal edges of the update state machine.
// A transition not listed here is rejected by CanTransition.
var validTransitions = map[UpdateState]map[UpdateState]bool{
	UpdateIdle:      {UpdateChecking: true, UpdateUpdating: true},
	UpdateChecking:  {UpdateIdle: true, UpdateAvailable: true},
	UpdateAvailable: {UpdateUpdating: true, UpdateIdle: true},
	UpdateUpdating:  {UpdateUpdated: true, UpdateFailed: true},
	UpdateUpdated:   {UpdateIdle: true},
	UpdateFailed:    {UpdateIdle: true},
}

// CanTransition reports whether moving from "from" to "to" is a legal edge
// of the update state machine. idle and failed are the only states every
// other state can fall back through; the machine never jumps backwards
// along its linear progression without passing through one of them.
func CanTransition(from, to UpdateState) bool {
	if from == to {
		return true
	}
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// PortBinding is one published port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// Record is what the agent knows about one container.
type Record struct {
	ID             string
	Name           string
	ImageRef       string
	ImageDigest    string
	Status         Status
	CreatedAt      time.Time
	StartedAt      time.Time
	LastSeenAt     time.Time
	Labels         map[string]string
	Ports          []PortBinding
	EnvFingerprint string

	UpdateState          UpdateState
	UpdateStateChangedAt time.Time
	LastUpdateError      string
}

// Clone returns a deep-enough copy of the record safe to hand to a reader
// that must not observe subsequent mutation. Map and slice fields are
// copied; scalar fields are copied by value.
func (r Record) Clone() Record {
	c := r
	if r.Labels != nil {
		c.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = v
		}
	}
	if r.Ports != nil {
		c.Ports = make([]PortBinding, len(r.Ports))
		copy(c.Ports, r.Ports)
	}
	return c
}

// HasStableFingerprint reports whether the record carries enough
// information to safely derive a recreation spec. An empty fingerprint
// means inspection never completed or the runtime never returned enough
// detail, in which case update is refused with ConfigNotReplicable.
func (r Record) HasStableFingerprint() bool {
	return r.EnvFingerprint != ""
}
