package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestOptional_JSON(t *testing.T) {
	var entry ManifestEntry
	if err := json.Unmarshal([]byte(`{"outcome_name":"pain","p_value":0.03,"effect_size":null}`), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p, ok := entry.PValue.Get(); !ok || p != 0.03 {
		t.Errorf("expected p_value 0.03, got %v (present=%v)", p, ok)
	}
	if entry.EffectSize.IsSome() {
		t.Errorf("expected effect_size to be absent")
	}

	out, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if back["effect_size"] != nil {
		t.Errorf("expected null effect_size, got %v", back["effect_size"])
	}
}

func TestOptional_YAMLMissingField(t *testing.T) {
	doc := "outcome_name: pain\neffect_size: 1.5\n"
	var entry ManifestEntry
	if err := yaml.Unmarshal([]byte(doc), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.PValue.IsSome() {
		t.Errorf("expected missing p_value to be absent")
	}
	if got := entry.EffectSize.OrElse(-1); got != 1.5 {
		t.Errorf("expected effect size 1.5, got %v", got)
	}
}

func TestLookupOutcome_CaseInsensitive(t *testing.T) {
	m := Manifest{Entries: []ManifestEntry{
		{OutcomeName: "Tumor Size Reduction", PValue: Some(0.03)},
		{OutcomeName: "pain score"},
	}}

	e, ok := m.Lookup("tumor size reduction")
	if !ok || e.OutcomeName != "Tumor Size Reduction" {
		t.Errorf("expected case-insensitive match, got %+v ok=%v", e, ok)
	}
	if _, ok := m.Lookup("survival"); ok {
		t.Errorf("expected no match for unknown outcome")
	}
}

func TestManuscript_SectionNames(t *testing.T) {
	m := Manuscript{
		Sections: map[string]string{"results": "", "abstract": "", "methods": "", "discussion": ""},
		Order:    []string{"abstract", "results", "missing"},
	}
	got := m.SectionNames()
	want := []string{"abstract", "results", "discussion", "methods"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestAuditFilter_Matches(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := AuditEntry{
		Sequence:  7,
		Timestamp: base,
		ActorID:   "u1",
		EventType: EventExportBlocked,
		Subject:   "study-1",
	}

	tests := []struct {
		name   string
		filter AuditFilter
		want   bool
	}{
		{"empty", AuditFilter{}, true},
		{"actor match", AuditFilter{ActorID: "u1"}, true},
		{"actor miss", AuditFilter{ActorID: "u2"}, false},
		{"type match", AuditFilter{EventTypes: []EventType{EventExportAllowed, EventExportBlocked}}, true},
		{"type miss", AuditFilter{EventTypes: []EventType{EventVerificationCreated}}, false},
		{"from inclusive", AuditFilter{From: base}, true},
		{"to exclusive", AuditFilter{To: base}, false},
		{"window", AuditFilter{From: base.Add(-time.Hour), To: base.Add(time.Hour)}, true},
		{"after seq", AuditFilter{AfterSeq: 7}, false},
		{"subject", AuditFilter{Subject: "study-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(entry); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	err := NewNotFound("manuscript", "m-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFoundError to match ErrNotFound")
	}

	cause := errors.New("disk full")
	wrapped := &AuditWriteError{EventType: EventExportAllowed, Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Errorf("expected AuditWriteError to unwrap to its cause")
	}

	blocked := &ExportBlockedError{StudyID: "s", Reasons: []string{"a", "b"}}
	if blocked.Error() != `export blocked for study "s": a; b` {
		t.Errorf("unexpected message: %s", blocked.Error())
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Verification.TolerancePercent = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected zero tolerance to fail validation")
	}

	cfg = DefaultConfig()
	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected postgres without DSN to fail validation")
	}
	cfg.Storage.DSN = "postgres://localhost/claimgate"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected postgres with DSN to validate: %v", err)
	}
}

func TestComputeLineageStats(t *testing.T) {
	stats := ComputeLineageStats([]LineageEntry{
		{PacketID: "p1", SchemaVariableID: "v1", ProtocolID: "proto", ProtocolVersionID: "1"},
		{PacketID: "p2", SchemaVariableID: "v1", ProtocolID: "proto", ProtocolVersionID: "1"},
		{PacketID: "p2", SchemaVariableID: "v2", ProtocolID: "proto", ProtocolVersionID: "2"},
	})
	if stats.Entries != 3 || stats.Packets != 2 || stats.DistinctVariables != 2 || stats.Protocols != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
