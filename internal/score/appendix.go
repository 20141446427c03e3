package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/claimgate/internal/model"
)

// Summarizer builds the verification appendix for an export package
type Summarizer struct{}

// NewSummarizer creates a new summarizer
func NewSummarizer() *Summarizer {
	return &Summarizer{}
}

// Summarize counts packets per status and derives the compliance flags.
// Every number comes with a finding that records its formula and inputs.
func (s *Summarizer) Summarize(manuscriptID string, packets []model.VerificationPacket) model.VerificationAppendix {
	summary := model.AuditSummary{TotalClaims: len(packets)}
	for _, p := range packets {
		switch p.OverallStatus {
		case model.StatusVerified:
			summary.Counts.Verified++
		case model.StatusPartial:
			summary.Counts.Partial++
		case model.StatusConflict:
			summary.Counts.Conflict++
		default:
			summary.Counts.Error++
		}
	}
	summary.ApprovalRate = ApprovalRate(summary.Counts.Verified, summary.TotalClaims)

	var findings []model.Finding
	findings = append(findings, s.statusFinding(summary))
	findings = append(findings, s.statisticalFinding(packets, &summary))
	findings = append(findings, s.groundingFinding(packets, &summary))
	findings = append(findings, s.authorityFinding(packets))
	if summary.Counts.Error > 0 {
		findings = append(findings, s.degradedFinding(packets))
	}

	flags := model.ComplianceFlags{
		AllClaimsVerified:   summary.TotalClaims > 0 && summary.Counts.Verified == summary.TotalClaims,
		DataMatchesManifest: summary.Counts.Error == 0 && !anyInternalConflict(packets),
	}
	flags.ReadyForSubmission = flags.AllClaimsVerified && flags.DataMatchesManifest

	return model.VerificationAppendix{
		ManuscriptID: manuscriptID,
		Summary:      summary,
		Flags:        flags,
		Findings:     findings,
		Packets:      packets,
	}
}

// ApprovalRate is verified / total rounded to four places; 0 when empty
func ApprovalRate(verified, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(verified)/float64(total)*10000) / 10000
}

func (s *Summarizer) statusFinding(summary model.AuditSummary) model.Finding {
	severity := "info"
	if summary.Counts.Conflict > 0 || summary.Counts.Error > 0 {
		severity = "critical"
	} else if summary.Counts.Partial > 0 {
		severity = "warning"
	}
	if summary.TotalClaims == 0 {
		severity = "warning"
	}

	return model.Finding{
		Name:     "status-distribution",
		Severity: severity,
		Description: fmt.Sprintf("%d claims: %d verified, %d partial, %d conflict, %d error (approval rate %.0f%%)",
			summary.TotalClaims, summary.Counts.Verified, summary.Counts.Partial, summary.Counts.Conflict,
			summary.Counts.Error, summary.ApprovalRate*100),
		Data: map[string]any{
			"total":         summary.TotalClaims,
			"verified":      summary.Counts.Verified,
			"partial":       summary.Counts.Partial,
			"conflict":      summary.Counts.Conflict,
			"error":         summary.Counts.Error,
			"approval_rate": summary.ApprovalRate,
			"formula":       "verified / total",
		},
	}
}

// statisticalFinding counts significance and magnitude claims that agree
// with the manifest
func (s *Summarizer) statisticalFinding(packets []model.VerificationPacket, summary *model.AuditSummary) model.Finding {
	for _, p := range packets {
		if p.ClaimType != model.ClaimTypeSignificance && p.ClaimType != model.ClaimTypeMagnitude {
			continue
		}
		if p.InternalCheck.Status == model.InternalVerified {
			summary.StatsMatched++
		} else {
			summary.StatsUnmatched++
		}
	}

	total := summary.StatsMatched + summary.StatsUnmatched
	severity := "info"
	if summary.StatsUnmatched > 0 {
		severity = "critical"
	}
	return model.Finding{
		Name:        "statistical-consistency",
		Severity:    severity,
		Description: fmt.Sprintf("%d/%d statistical claims match the manifest", summary.StatsMatched, total),
		Data: map[string]any{
			"matched":   summary.StatsMatched,
			"unmatched": summary.StatsUnmatched,
			"formula":   "claims of type significance|magnitude with internal status verified",
		},
	}
}

// groundingFinding buckets non-degraded claims by similarity band
func (s *Summarizer) groundingFinding(packets []model.VerificationPacket, summary *model.AuditSummary) model.Finding {
	for _, p := range packets {
		if p.Degraded() {
			continue
		}
		switch Band(p.ExternalCheck.SimilarityScore) {
		case model.BandVerified:
			summary.CitationGrounded++
		case model.BandWarning:
			summary.CitationPartial++
		default:
			summary.CitationMissing++
		}
	}

	severity := "info"
	if summary.CitationMissing > 0 {
		severity = "critical"
	} else if summary.CitationPartial > 0 {
		severity = "warning"
	}
	return model.Finding{
		Name:     "citation-grounding",
		Severity: severity,
		Description: fmt.Sprintf("Citation grounding: %d grounded, %d partial, %d ungrounded",
			summary.CitationGrounded, summary.CitationPartial, summary.CitationMissing),
		Data: map[string]any{
			"grounded":   summary.CitationGrounded,
			"partial":    summary.CitationPartial,
			"ungrounded": summary.CitationMissing,
			"thresholds": map[string]float64{"verified": VerifiedThreshold, "warning": WarningThreshold},
		},
	}
}

func (s *Summarizer) authorityFinding(packets []model.VerificationPacket) model.Finding {
	counts := map[string]int{}
	for _, p := range packets {
		if p.ExternalCheck.CandidateCount == 0 {
			continue
		}
		tier := p.ExternalCheck.SourceAuthority
		if tier == "" {
			tier = model.TierUnknown.String()
		}
		counts[tier]++
	}

	severity := "info"
	if len(counts) > 0 && counts[model.TierPrimary.String()] == 0 {
		severity = "warning"
	}
	return model.Finding{
		Name:     "source-authority",
		Severity: severity,
		Description: fmt.Sprintf("Best-matching sources: %d primary, %d secondary, %d tertiary, %d unknown",
			counts["primary"], counts["secondary"], counts["tertiary"], counts["unknown"]),
		Data: map[string]any{
			"primary":   counts["primary"],
			"secondary": counts["secondary"],
			"tertiary":  counts["tertiary"],
			"unknown":   counts["unknown"],
		},
	}
}

func (s *Summarizer) degradedFinding(packets []model.VerificationPacket) model.Finding {
	var ids []string
	for _, p := range packets {
		if p.Degraded() {
			ids = append(ids, p.ID)
		}
	}
	return model.Finding{
		Name:        "degraded-packets",
		Severity:    "critical",
		Description: fmt.Sprintf("%d claims could not be verified and need re-running", len(ids)),
		Data:        map[string]any{"packet_ids": ids},
	}
}

func anyInternalConflict(packets []model.VerificationPacket) bool {
	for _, p := range packets {
		if p.InternalCheck.Status == model.InternalConflict {
			return true
		}
	}
	return false
}
