// Package agentconfig defines the Agent Configuration entity and its
// validation rules, independent of how values are sourced (file,
// environment, or HTTP PUT).
package agentconfig

import (
	"fmt"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
)

// Config holds the recognised agent options.
type Config struct {
	CheckInterval      time.Duration `json:"check_interval"`
	UpdateInterval     time.Duration `json:"update_interval"`
	AutoUpdate         bool          `json:"auto_update"`
	Cleanup            bool          `json:"cleanup"`
	LabelFilter        string        `json:"label_filter,omitempty"`
	EventBufferSize    int           `json:"event_buffer_size"`
	MaxParallelUpdates int           `json:"max_parallel_updates"`
}

// Default returns the configuration with every field at its spec default.
func Default() Config {
	return Config{
		CheckInterval:      30 * time.Second,
		UpdateInterval:     300 * time.Second,
		AutoUpdate:         false,
		Cleanup:            true,
		EventBufferSize:    1024,
		MaxParallelUpdates: 1,
	}
}

// Validate checks field bounds and returns an InvalidConfig error naming
// the first offending field, or nil if every field validated.
func Validate(c Config) error {
	if c.CheckInterval < time.Second {
		return invalid("check_interval", "must be at least 1s")
	}
	if c.UpdateInterval < time.Second {
		return invalid("update_interval", "must be at least 1s")
	}
	if c.EventBufferSize < 1 {
		return invalid("event_buffer_size", "must be at least 1")
	}
	if c.MaxParallelUpdates < 1 {
		return invalid("max_parallel_updates", "must be at least 1")
	}
	return nil
}

func invalid(field, reason string) error {
	return agenterrors.New(agenterrors.KindInvalidConfig, "Validate",
		fmt.Sprintf("%s: %s", field, reason), nil)
}

// Merge applies non-nil fields from patch onto base, returning the result.
// It is used by the Control Surface's PUT /config handler so that a partial
// JSON body only overrides the fields it supplies, leaving the rest at
// their current values.
func Merge(base Config, patch Patch) Config {
	out := base
	if patch.CheckInterval != nil {
		out.CheckInterval = *patch.CheckInterval
	}
	if patch.UpdateInterval != nil {
		out.UpdateInterval = *patch.UpdateInterval
	}
	if patch.AutoUpdate != nil {
		out.AutoUpdate = *patch.AutoUpdate
	}
	if patch.Cleanup != nil {
		out.Cleanup = *patch.Cleanup
	}
	if patch.LabelFilter != nil {
		out.LabelFilter = *patch.LabelFilter
	}
	if patch.EventBufferSize != nil {
		out.EventBufferSize = *patch.EventBufferSize
	}
	if patch.MaxParallelUpdates != nil {
		out.MaxParallelUpdates = *patch.MaxParallelUpdates
	}
	return out
}

// Patch carries optional overrides for a configuration PUT; nil fields are
// left untouched by Merge.
type Patch struct {
	CheckInterval      *time.Duration
	UpdateInterval     *time.Duration
	AutoUpdate         *bool
	Cleanup            *bool
	LabelFilter        *string
	EventBufferSize    *int
	MaxParallelUpdates *int
}
