package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every NotFoundError via errors.Is
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing manuscript, manifest, variable or packet
type NotFoundError struct {
	Kind string // "manuscript", "manifest", "variable", "packet", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound builds a NotFoundError
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ComplianceNotCheckedError reports an export attempted without a prior gate decision
type ComplianceNotCheckedError struct {
	StudyID string
	ActorID string
}

func (e *ComplianceNotCheckedError) Error() string {
	return fmt.Sprintf("export eligibility not checked for study %q by actor %q", e.StudyID, e.ActorID)
}

// ExportBlockedError reports an export attempted after a blocking gate decision
type ExportBlockedError struct {
	StudyID string
	Reasons []string
}

func (e *ExportBlockedError) Error() string {
	return fmt.Sprintf("export blocked for study %q: %s", e.StudyID, strings.Join(e.Reasons, "; "))
}

// AuditWriteError reports a failed audit log write. Always fatal to the caller.
type AuditWriteError struct {
	EventType EventType
	Err       error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write %s failed: %v", e.EventType, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// ExternalTimeoutError reports a collaborator call that exhausted its retry budget
type ExternalTimeoutError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExternalTimeoutError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExternalTimeoutError) Unwrap() error {
	return e.Err
}

// MalformedClaimError reports a claim that references an unknown outcome.
// It is recorded on the internal check, never returned from a batch.
type MalformedClaimError struct {
	ClaimID string
	Outcome string
}

func (e *MalformedClaimError) Error() string {
	return fmt.Sprintf("claim %s references unknown outcome %q", e.ClaimID, e.Outcome)
}
