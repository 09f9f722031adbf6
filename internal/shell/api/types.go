package api

import "time"

// StatusResponse answers "get agent status". AutoUpdate and Cleanup are a
// read-only echo of the live Agent Configuration's corresponding fields.
type StatusResponse struct {
	Status             string    `json:"status"`
	MonitoredCount     int       `json:"monitored_count"`
	LastCheckAt        time.Time `json:"last_check_at"`
	UpdateHistoryCount int       `json:"update_history_count"`
	AutoUpdate         bool      `json:"auto_update"`
	Cleanup            bool      `json:"cleanup"`
}

// StatsResponse answers "get aggregate counters", tallied from the
// current registry snapshot and the retained update history.
type StatsResponse struct {
	MonitoredCount          int            `json:"monitored_count"`
	ContainersByStatus      map[string]int `json:"containers_by_status"`
	ContainersByUpdateState map[string]int `json:"containers_by_update_state"`
	UpdatesApplied          int            `json:"updates_applied"`
	UpdatesFailed           int            `json:"updates_failed"`
}

// ImageResponse is the wire shape of one entry in "list known images".
type ImageResponse struct {
	RepoTag   string    `json:"repo_tag,omitempty"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ContainerResponse is the wire shape of a Container Record.
type ContainerResponse struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	ImageRef             string            `json:"image_ref"`
	ImageDigest          string            `json:"image_digest"`
	Status               string            `json:"status"`
	CreatedAt            time.Time         `json:"created_at"`
	StartedAt            time.Time         `json:"started_at,omitempty"`
	LastSeenAt           time.Time         `json:"last_seen_at"`
	Labels               map[string]string `json:"labels,omitempty"`
	UpdateState          string            `json:"update_state"`
	UpdateStateChangedAt time.Time         `json:"update_state_changed_at,omitempty"`
	LastUpdateError      string            `json:"last_update_error,omitempty"`
}

// AcceptedResponse acknowledges a runtime command that was enqueued for
// asynchronous execution rather than completed synchronously.
type AcceptedResponse struct {
	Accepted    bool   `json:"accepted"`
	ContainerID string `json:"container_id"`
}

// UpdateRecordResponse is one entry of the update history.
type UpdateRecordResponse struct {
	ID             string    `json:"id"`
	ContainerID    string    `json:"container_id"`
	OldImageDigest string    `json:"old_image_digest"`
	NewImageDigest string    `json:"new_image_digest,omitempty"`
	Outcome        string    `json:"outcome"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Error          string    `json:"error,omitempty"`
}

// ConfigResponse is the wire shape of the Agent Configuration.
type ConfigResponse struct {
	CheckInterval      string `json:"check_interval"`
	UpdateInterval     string `json:"update_interval"`
	AutoUpdate         bool   `json:"auto_update"`
	Cleanup            bool   `json:"cleanup"`
	LabelFilter        string `json:"label_filter,omitempty"`
	EventBufferSize    int    `json:"event_buffer_size"`
	MaxParallelUpdates int    `json:"max_parallel_updates"`
}

// ConfigPatchRequest is the PUT /config request body; every field is
// optional so a partial body only overrides what it supplies.
type ConfigPatchRequest struct {
	CheckInterval      *string `json:"check_interval,omitempty"`
	UpdateInterval     *string `json:"update_interval,omitempty"`
	AutoUpdate         *bool   `json:"auto_update,omitempty"`
	Cleanup            *bool   `json:"cleanup,omitempty"`
	LabelFilter        *string `json:"label_filter,omitempty"`
	EventBufferSize    *int    `json:"event_buffer_size,omitempty"`
	MaxParallelUpdates *int    `json:"max_parallel_updates,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// EventResponse is the wire shape of one Event, used both by the REST
// surface (not currently exposed) and the WebSocket push channel.
type EventResponse struct {
	Sequence    uint64         `json:"sequence"`
	Kind        string         `json:"kind"`
	At          time.Time      `json:"at"`
	ContainerID string         `json:"container_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// WSClientMessage is a control message a WebSocket client may send.
type WSClientMessage struct {
	Action       string  `json:"action"` // "subscribe" | "ping"
	FromSequence *uint64 `json:"from_sequence,omitempty"`
}

// WSGapMessage notifies a WebSocket client that events were dropped for
// its connection specifically.
type WSGapMessage struct {
	Type string `json:"type"` // "gap"
	From uint64 `json:"from"`
}
