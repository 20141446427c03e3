package model

import "time"

// ApprovalState is the raw status reported by the ethics/IRB provider
type ApprovalState string

const (
	ApprovalApproved     ApprovalState = "approved"
	ApprovalPending      ApprovalState = "pending"
	ApprovalRejected     ApprovalState = "rejected"
	ApprovalExpired      ApprovalState = "expired"
	ApprovalNotSubmitted ApprovalState = "not_submitted"
)

// ApprovalStatus is what the approval provider returns for a study
type ApprovalStatus struct {
	Status            ApprovalState `json:"status" yaml:"status"`
	ApprovalReference string        `json:"approval_reference,omitempty" yaml:"approval_reference,omitempty"`
	Board             string        `json:"board,omitempty" yaml:"board,omitempty"`
	ApprovedAt        *time.Time    `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// ComplianceStatus is the gate's summarized status
type ComplianceStatus string

const (
	ComplianceApproved ComplianceStatus = "approved"
	CompliancePending  ComplianceStatus = "pending"
	ComplianceRejected ComplianceStatus = "rejected"
)

// ComplianceCheckResult is a single gate decision
type ComplianceCheckResult struct {
	StudyID         string           `json:"study_id"`
	CanExport       bool             `json:"can_export"`
	Status          ComplianceStatus `json:"status"`
	BlockingReasons []string         `json:"blocking_reasons,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
	ApprovalRef     string           `json:"approval_reference,omitempty"`
	DecidedAt       time.Time        `json:"decided_at"`
	AuditSequence   uint64           `json:"audit_sequence"` // Entry that recorded this decision
}
