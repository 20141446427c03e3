package model

import "time"

// TargetMetadata describes where an export package is headed
type TargetMetadata struct {
	Journal     string `json:"journal" yaml:"journal"`
	ProjectName string `json:"project_name,omitempty" yaml:"project_name,omitempty"`
	PIName      string `json:"pi_name,omitempty" yaml:"pi_name,omitempty"` // Principal investigator certifying the export
	Notes       string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ExportRequest carries everything the export assembler consumes
type ExportRequest struct {
	ManuscriptID string               `json:"manuscript_id"`
	Packets      []VerificationPacket `json:"packets"`
	Lineage      []LineageEntry       `json:"lineage"`
	Target       TargetMetadata       `json:"target"`
	Actor        Actor                `json:"actor"`
}

// StatusCounts counts packets per overall status
type StatusCounts struct {
	Verified int `json:"verified"`
	Partial  int `json:"partial"`
	Conflict int `json:"conflict"`
	Error    int `json:"error"`
}

// AuditSummary is the headline section of the verification appendix
type AuditSummary struct {
	TotalClaims      int          `json:"total_claims"`
	Counts           StatusCounts `json:"counts"`
	ApprovalRate     float64      `json:"approval_rate"` // verified / total
	StatsMatched     int          `json:"statistical_claims_matched"`
	StatsUnmatched   int          `json:"statistical_claims_unmatched"`
	CitationGrounded int          `json:"citation_claims_grounded"`
	CitationPartial  int          `json:"citation_claims_partially_grounded"`
	CitationMissing  int          `json:"citation_claims_ungrounded"`
}

// ComplianceFlags are the derived readiness booleans
type ComplianceFlags struct {
	AllClaimsVerified   bool `json:"all_claims_verified"`
	DataMatchesManifest bool `json:"data_matches_manifest"`
	ReadyForSubmission  bool `json:"ready_for_submission"`
}

// Finding explains one appendix number with the inputs used to compute it
type Finding struct {
	Name        string         `json:"name"`
	Severity    string         `json:"severity"` // info, warning, critical
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// VerificationAppendix summarizes verification results for a manuscript
type VerificationAppendix struct {
	ManuscriptID    string               `json:"manuscript_id"`
	Summary         AuditSummary         `json:"summary"`
	Flags           ComplianceFlags      `json:"compliance_flags"`
	Findings        []Finding            `json:"findings,omitempty"`
	Packets         []VerificationPacket `json:"packets"`
	ProtocolVersion string               `json:"protocol_version,omitempty"`
	ManifestVersion string               `json:"manifest_version,omitempty"`
}

// ExportMetadata is the bundle's metadata object
type ExportMetadata struct {
	BundleID      string         `json:"bundle_id"`
	ManuscriptID  string         `json:"manuscript_id"`
	Title         string         `json:"title"`
	StudyID       string         `json:"study_id"`
	Target        TargetMetadata `json:"target"`
	PacketCount   int            `json:"packet_count"`
	LineageCount  int            `json:"lineage_count"`
	ContentHash   string         `json:"content_hash"` // sha256 over canonical JSON of the inputs
	GateSequence  uint64         `json:"gate_sequence"`
	FormatVersion string         `json:"format_version"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// BundleFile is one named byte stream inside an export bundle
type BundleFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ExportBundle is the assembled package handed to delivery
type ExportBundle struct {
	Metadata ExportMetadata       `json:"metadata"`
	Appendix VerificationAppendix `json:"appendix"`
	Files    []BundleFile         `json:"files"`
	Archive  []byte               `json:"-"` // zip of Files
}

// File returns the named file, if present
func (b *ExportBundle) File(name string) (BundleFile, bool) {
	for _, f := range b.Files {
		if f.Name == name {
			return f, true
		}
	}
	return BundleFile{}, false
}
