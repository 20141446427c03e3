package model

import "time"

// EventType classifies an audit log entry
type EventType string

const (
	EventVerificationCreated  EventType = "VERIFICATION_CREATED"
	EventVerificationDegraded EventType = "VERIFICATION_DEGRADED"
	EventLineageTraced        EventType = "LINEAGE_TRACED"
	EventExportAllowed        EventType = "EXPORT_ALLOWED"
	EventExportBlocked        EventType = "EXPORT_BLOCKED"
	EventCorrection           EventType = "CORRECTION"
)

// Valid reports whether e is a known event type
func (e EventType) Valid() bool {
	switch e {
	case EventVerificationCreated, EventVerificationDegraded, EventLineageTraced,
		EventExportAllowed, EventExportBlocked, EventCorrection:
		return true
	}
	return false
}

// Actor identifies who performed an audited action
type Actor struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

// AuditEntry is one record in the append-only audit log
type AuditEntry struct {
	Sequence  uint64         `json:"sequence_number"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	ActorRole string         `json:"actor_role"`
	EventType EventType      `json:"event_type"`
	Subject   string         `json:"subject,omitempty"`  // Packet, study or manuscript the event concerns
	Corrects  uint64         `json:"corrects,omitempty"` // Sequence number of the corrected entry
	Payload   map[string]any `json:"payload,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Hash      string         `json:"hash,omitempty"`
}

// AuditFilter selects entries from the log. Zero fields match everything.
type AuditFilter struct {
	ActorID    string      `json:"actor_id,omitempty"`
	EventTypes []EventType `json:"event_types,omitempty"`
	Subject    string      `json:"subject,omitempty"`
	From       time.Time   `json:"from,omitempty"` // Inclusive
	To         time.Time   `json:"to,omitempty"`   // Exclusive
	AfterSeq   uint64      `json:"after_seq,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Matches reports whether an entry satisfies the filter (ignoring Limit)
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return e.Sequence > f.AfterSeq
}
