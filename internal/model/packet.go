package model

import "time"

// InternalStatus is the verdict of comparing a claim against the manifest
type InternalStatus string

const (
	InternalVerified      InternalStatus = "verified"
	InternalConflict      InternalStatus = "conflict"
	InternalNotApplicable InternalStatus = "not_applicable"
)

// InternalCheck is the result of the manifest comparison
type InternalCheck struct {
	Status           InternalStatus `json:"status"`
	ManifestVariable string         `json:"manifest_variable,omitempty"` // Matched outcome name
	ValueInManifest  string         `json:"value_in_manifest,omitempty"`
	ValueInClaim     string         `json:"value_in_claim,omitempty"`
	DeviationPercent *float64       `json:"deviation_percent,omitempty"` // Only for numeric comparisons
	Reason           string         `json:"reason,omitempty"`
}

// Matched reports whether the check found a manifest entry
func (c InternalCheck) Matched() bool {
	return c.ManifestVariable != ""
}

// Band classifies a similarity score
type Band string

const (
	BandVerified Band = "verified" // score >= 0.85
	BandWarning  Band = "warning"  // 0.60 <= score < 0.85
	BandMismatch Band = "mismatch" // score < 0.60
)

// ExternalCheck is the result of comparing a claim with cited excerpts
type ExternalCheck struct {
	SimilarityScore  float64 `json:"similarity_score"`
	Band             Band    `json:"band"`
	SourceSnippet    string  `json:"source_snippet"`
	SourceTitle      string  `json:"source_title,omitempty"`
	SourceIdentifier string  `json:"source_identifier,omitempty"`
	SourceAuthority  string  `json:"source_authority,omitempty"`
	Method           string  `json:"method,omitempty"` // Scoring method, e.g. "token-cosine"
	CandidateCount   int     `json:"candidate_count"`
}

// OverallStatus is the merged status of a packet
type OverallStatus string

const (
	StatusVerified OverallStatus = "verified"
	StatusPartial  OverallStatus = "partial"
	StatusConflict OverallStatus = "conflict"
	StatusError    OverallStatus = "error" // Degraded packet; checks could not complete
)

// VerifiedBy identifies what produced a packet
type VerifiedBy string

const (
	VerifiedBySystem VerifiedBy = "system"
	VerifiedByAI     VerifiedBy = "ai"
	VerifiedByHuman  VerifiedBy = "human"
)

// VerificationPacket pairs a claim with its checks. Immutable once stored.
type VerificationPacket struct {
	ID            string         `json:"id"`
	ManuscriptID  string         `json:"manuscript_id"`
	StudyID       string         `json:"study_id"`
	ManifestID    string         `json:"manifest_id"`
	ManifestVer   string         `json:"manifest_version,omitempty"`
	ClaimID       string         `json:"claim_id"`
	ClaimType     ClaimType      `json:"claim_type"`
	Section       string         `json:"section"`
	Span          TextSpan       `json:"text_span"`
	ClaimText     string         `json:"claim_text"`
	InternalCheck InternalCheck  `json:"internal_check"`
	ExternalCheck ExternalCheck  `json:"external_check"`
	OverallStatus OverallStatus  `json:"overall_status"`
	VerifiedAt    time.Time      `json:"verified_at"`
	VerifiedBy    VerifiedBy     `json:"verified_by"`
	ActorID       string         `json:"actor_id,omitempty"`
	Supersedes    string         `json:"supersedes,omitempty"` // Packet ID this one corrects
	Error         string         `json:"error,omitempty"`      // Set on degraded packets
	Lineage       []LineageEntry `json:"lineage,omitempty"`
}

// Degraded reports whether the packet could not be fully computed
func (p *VerificationPacket) Degraded() bool {
	return p.OverallStatus == StatusError
}
