package async

import (
	"encoding/json"
	"time"
)

// EventKind tags an entry in a job's history
type EventKind string

const (
	EventClaimed        EventKind = "claimed"
	EventPhase          EventKind = "phase"
	EventError          EventKind = "error"
	EventRetry          EventKind = "retry"
	EventFailed         EventKind = "failed"
	EventTimeout        EventKind = "timeout"
	EventRequeued       EventKind = "requeued"
	EventCompleted      EventKind = "completed"
	EventPersisted      EventKind = "persisted"
	EventPersistFailed  EventKind = "persist_failed"
	EventScheduled      EventKind = "scheduled"
	EventScheduleFailed EventKind = "schedule_failed"
)

// MaxHistoryEvents bounds Metadata.History; older events are dropped first
const MaxHistoryEvents = 50

// Event is one entry in a job's history
type Event struct {
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

// Metadata is the job's diagnostic record: current phase, the latest failure,
// and a bounded history of everything that happened to it.
type Metadata struct {
	Phase        string  `json:"phase,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
	RetryReason  string  `json:"retry_reason,omitempty"`
	TotalRetries int     `json:"total_retries,omitempty"`
	History      []Event `json:"history,omitempty"`
}

// Record appends an event, trimming history to MaxHistoryEvents
func (m *Metadata) Record(kind EventKind, at time.Time, message string, attempt int) {
	m.History = append(m.History, Event{
		Kind:    kind,
		At:      at.UTC(),
		Message: message,
		Attempt: attempt,
	})
	if over := len(m.History) - MaxHistoryEvents; over > 0 {
		m.History = append([]Event(nil), m.History[over:]...)
	}
}

// Last returns the most recent event of a kind
func (m *Metadata) Last(kind EventKind) (Event, bool) {
	for i := len(m.History) - 1; i >= 0; i-- {
		if m.History[i].Kind == kind {
			return m.History[i], true
		}
	}
	return Event{}, false
}

// Count returns how many events of a kind are in the retained history
func (m *Metadata) Count(kind EventKind) int {
	n := 0
	for _, e := range m.History {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// MarshalMetadata encodes metadata for storage
func MarshalMetadata(m Metadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadata decodes stored metadata; empty input yields zero metadata
func UnmarshalMetadata(data string) (Metadata, error) {
	var m Metadata
	if data == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return m, err
	}
	return m, nil
}
