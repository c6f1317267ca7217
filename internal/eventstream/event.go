// Package eventstream defines the events emitted by background passes and
// the Publisher interface their backends implement.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeCrystalCreated is emitted after a crystal is committed.
	EventTypeCrystalCreated = "pps.crystal.created"

	// EventTypeCurationCompleted is emitted after a curation pass finishes.
	EventTypeCurationCompleted = "pps.curation.completed"

	// EventTypePassUnhealthy is emitted when a pass keeps failing.
	EventTypePassUnhealthy = "pps.pass.unhealthy"
)

// Event is a transport-neutral payload. Exactly one of the detail fields is
// set, matching EventType.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	Context       string    `json:"context,omitempty"`

	Crystal  *CrystalMeta  `json:"crystal,omitempty"`
	Curation *CurationMeta `json:"curation,omitempty"`
	Health   *HealthMeta   `json:"health,omitempty"`
}

// CrystalMeta describes a committed crystal.
type CrystalMeta struct {
	ID       string `json:"id"`
	StartSeq int64  `json:"start_seq"`
	EndSeq   int64  `json:"end_seq"`
	Slot     int    `json:"slot"`
}

// CurationMeta summarizes a curation report.
type CurationMeta struct {
	Scanned    int            `json:"scanned"`
	Deleted    int            `json:"deleted"`
	Remaining  int            `json:"remaining"`
	RuleCounts map[string]int `json:"rule_counts"`
	DryRun     bool           `json:"dry_run"`
}

// HealthMeta reports consecutive failures of a pass.
type HealthMeta struct {
	Pass                string `json:"pass"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error"`
}

// NewEvent returns an event of the given type with a fresh id.
func NewEvent(eventType, contextName string) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Context:       contextName,
	}
}
