// Package compliance decides whether a study may be exported. Every
// decision is written to the audit log before it is returned, and an
// allowed decision authorises exactly one export for the same study and
// actor until it expires.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
)

// ApprovalProvider reads ethics/IRB approval state
type ApprovalProvider interface {
	GetApprovalStatus(ctx context.Context, studyID string) (model.ApprovalStatus, error)
}

// Gate evaluates export eligibility and keeps the decision ledger
type Gate struct {
	approvals ApprovalProvider
	recorder  audit.Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	renewal   time.Duration

	mu        sync.Mutex
	decisions *gocache.Cache
}

// Option configures a Gate
type Option func(*Gate)

// WithMetrics counts decisions
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides the clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate from the compliance config
func NewGate(approvals ApprovalProvider, recorder audit.Recorder, cfg model.ComplianceConfig, opts ...Option) *Gate {
	ttl := cfg.DecisionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	g := &Gate{
		approvals: approvals,
		recorder:  recorder,
		logger:    zap.NewNop(),
		now:       time.Now,
		renewal:   time.Duration(cfg.RenewalWarningDays) * 24 * time.Hour,
		decisions: gocache.New(ttl, 2*ttl),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func decisionKey(studyID, actorID string) string {
	return studyID + "\x00" + actorID
}

// CheckExportEligibility asks the approval provider, records the decision
// and remembers it for one export by actor. A provider failure is recorded
// as a blocking decision and its error is returned alongside the result.
func (g *Gate) CheckExportEligibility(ctx context.Context, studyID string, actor model.Actor) (model.ComplianceCheckResult, error) {
	approval, lookupErr := g.approvals.GetApprovalStatus(ctx, studyID)
	if errors.Is(lookupErr, model.ErrNotFound) {
		approval = model.ApprovalStatus{Status: model.ApprovalNotSubmitted}
		lookupErr = nil
	}

	now := g.now().UTC()
	var result model.ComplianceCheckResult
	if lookupErr != nil {
		result = model.ComplianceCheckResult{
			Status:          model.CompliancePending,
			BlockingReasons: []string{fmt.Sprintf("approval status unavailable: %v", lookupErr)},
		}
	} else {
		result = Evaluate(approval, now, g.renewal)
	}
	result.StudyID = studyID
	result.DecidedAt = now

	eventType := model.EventExportBlocked
	if result.CanExport {
		eventType = model.EventExportAllowed
	}
	payload := map[string]any{
		"study_id":   studyID,
		"can_export": result.CanExport,
		"status":     string(result.Status),
	}
	if result.ApprovalRef != "" {
		payload["approval_reference"] = result.ApprovalRef
	}
	if len(result.BlockingReasons) > 0 {
		payload["blocking_reasons"] = result.BlockingReasons
	}
	if len(result.Warnings) > 0 {
		payload["warnings"] = result.Warnings
	}

	entry, err := g.recorder.Record(ctx, actor, eventType, studyID, payload)
	if err != nil {
		// An unlogged decision authorises nothing
		return model.ComplianceCheckResult{}, err
	}
	result.AuditSequence = entry.Sequence

	g.mu.Lock()
	g.decisions.SetDefault(decisionKey(studyID, actor.ID), result)
	g.mu.Unlock()

	g.metrics.GateDecision(result.CanExport)
	g.logger.Info("export eligibility decided",
		zap.String("study_id", studyID),
		zap.String("actor", actor.ID),
		zap.Bool("can_export", result.CanExport),
		zap.String("status", string(result.Status)),
		zap.Strings("blocking_reasons", result.BlockingReasons),
		zap.Uint64("audit_sequence", entry.Sequence))

	if lookupErr != nil {
		return result, fmt.Errorf("check export eligibility for %s: %w", studyID, lookupErr)
	}
	return result, nil
}

// Consume takes the pending decision for (studyID, actorID). It fails with
// ComplianceNotCheckedError when there is none (or it expired) and with
// ExportBlockedError when the decision blocked export. Either way the
// decision is used up.
func (g *Gate) Consume(studyID, actorID string) (model.ComplianceCheckResult, error) {
	key := decisionKey(studyID, actorID)

	g.mu.Lock()
	v, ok := g.decisions.Get(key)
	if ok {
		g.decisions.Delete(key)
	}
	g.mu.Unlock()

	if !ok {
		return model.ComplianceCheckResult{}, &model.ComplianceNotCheckedError{StudyID: studyID, ActorID: actorID}
	}
	result := v.(model.ComplianceCheckResult)
	if !result.CanExport {
		return result, &model.ExportBlockedError{StudyID: studyID, Reasons: result.BlockingReasons}
	}
	return result, nil
}

// Evaluate maps a raw approval record to a gate result. Only an approved,
// unexpired record allows export.
func Evaluate(a model.ApprovalStatus, now time.Time, renewalWindow time.Duration) model.ComplianceCheckResult {
	res := model.ComplianceCheckResult{ApprovalRef: a.ApprovalReference}
	ref := ""
	if a.ApprovalReference != "" {
		ref = " (" + a.ApprovalReference + ")"
	}

	state := a.Status
	if state == model.ApprovalApproved && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		state = model.ApprovalExpired
	}

	switch state {
	case model.ApprovalApproved:
		res.CanExport = true
		res.Status = model.ComplianceApproved
		if a.ExpiresAt != nil && renewalWindow > 0 && a.ExpiresAt.Sub(now) <= renewalWindow {
			days := int(a.ExpiresAt.Sub(now).Hours() / 24)
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"ethics approval%s expires on %s (%d days); renewal is due",
				ref, a.ExpiresAt.UTC().Format("2006-01-02"), days))
		}
	case model.ApprovalPending:
		res.Status = model.CompliancePending
		res.BlockingReasons = []string{"ethics approval" + ref + " is pending review"}
	case model.ApprovalNotSubmitted, "":
		res.Status = model.CompliancePending
		res.BlockingReasons = []string{"ethics approval has not been submitted for this study"}
	case model.ApprovalRejected:
		res.Status = model.ComplianceRejected
		res.BlockingReasons = []string{"ethics approval" + ref + " was rejected"}
	case model.ApprovalExpired:
		res.Status = model.ComplianceRejected
		reason := "ethics approval" + ref + " has expired"
		if a.ExpiresAt != nil {
			reason += " on " + a.ExpiresAt.UTC().Format("2006-01-02")
		}
		res.BlockingReasons = []string{reason}
	default:
		res.Status = model.ComplianceRejected
		res.BlockingReasons = []string{fmt.Sprintf("unrecognized approval status %q", a.Status)}
	}
	return res
}
