// Package audit is the append-only, totally ordered event log. Every
// verification, lineage trace, gate decision and export writes one entry.
//
// The backing Store allocates sequence numbers and links the hash chain in
// the same atomic step that writes an entry, so numbers stay gapless and
// the chain stays whole when several processes share one store. Once an
// append has started it runs to completion even if the caller's context is
// cancelled. A write that still fails surfaces as model.AuditWriteError.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/resilience"
)

// Recorder writes audit entries on behalf of an actor
type Recorder interface {
	Record(ctx context.Context, actor model.Actor, eventType model.EventType, subject string, payload map[string]any) (model.AuditEntry, error)
}

// Reader queries the log without affecting its order
type Reader interface {
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
}

// Log stamps entries and appends them to a Store
type Log struct {
	store   Store
	retrier *resilience.Retrier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithRetrier sets the retry budget for store calls
func WithRetrier(r *resilience.Retrier) Option {
	return func(l *Log) { l.retrier = r }
}

// WithMetrics records append counts
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a log over store
func NewLog(store Store, opts ...Option) *Log {
	l := &Log{
		store:   store,
		retrier: resilience.NewRetrier(resilience.DefaultPolicy(), nil),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append assigns the next sequence number to entry and persists it. The
// entry's Sequence, PrevHash and Hash are always overwritten.
func (l *Log) Append(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	if !entry.EventType.Valid() {
		return model.AuditEntry{}, fmt.Errorf("unknown audit event type %q", entry.EventType)
	}
	if err := ctx.Err(); err != nil {
		return l.fail(entry, err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)

	link := func(seq uint64, prevHash string) (model.AuditEntry, error) {
		e := entry
		e.Sequence = seq
		e.PrevHash = prevHash
		hash, err := ComputeHash(e)
		if err != nil {
			return model.AuditEntry{}, resilience.Permanent(err)
		}
		e.Hash = hash
		return e, nil
	}

	// Retries reuse the entry ID, so a commit whose reply was lost is not
	// written twice
	written, err := resilience.Call(context.WithoutCancel(ctx), l.retrier, "append audit entry",
		func(ctx context.Context) (model.AuditEntry, error) {
			return l.store.Append(ctx, entry.ID, link)
		})
	if err != nil {
		return l.fail(entry, err)
	}

	l.metrics.AuditAppend(string(written.EventType), nil)
	l.logger.Debug("audit entry written",
		zap.Uint64("sequence", written.Sequence),
		zap.String("event_type", string(written.EventType)),
		zap.String("actor", written.ActorID),
		zap.String("subject", written.Subject))
	return written, nil
}

func (l *Log) fail(entry model.AuditEntry, err error) (model.AuditEntry, error) {
	l.metrics.AuditAppend(string(entry.EventType), err)
	l.logger.Error("audit write failed",
		zap.String("event_type", string(entry.EventType)),
		zap.Error(err))
	return model.AuditEntry{}, &model.AuditWriteError{EventType: entry.EventType, Err: err}
}

// Record appends an entry stamped with actor
func (l *Log) Record(ctx context.Context, actor model.Actor, eventType model.EventType, subject string, payload map[string]any) (model.AuditEntry, error) {
	return l.Append(ctx, model.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		EventType: eventType,
		Subject:   subject,
		Payload:   payload,
	})
}

// AppendCorrection writes a CORRECTION entry that references an existing
// entry. The corrected entry itself is never touched.
func (l *Log) AppendCorrection(ctx context.Context, corrected uint64, actor model.Actor, reason string, payload map[string]any) (model.AuditEntry, error) {
	if corrected == 0 {
		return model.AuditEntry{}, model.NewNotFound("audit entry", "0")
	}
	target, err := l.Query(ctx, model.AuditFilter{AfterSeq: corrected - 1, Limit: 1})
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("look up corrected entry: %w", err)
	}
	if len(target) == 0 || target[0].Sequence != corrected {
		return model.AuditEntry{}, model.NewNotFound("audit entry", fmt.Sprint(corrected))
	}

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["reason"] = reason
	body["corrected_event_type"] = string(target[0].EventType)

	return l.Append(ctx, model.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		EventType: model.EventCorrection,
		Subject:   target[0].Subject,
		Corrects:  corrected,
		Payload:   body,
	})
}

// Query returns matching entries in sequence order
func (l *Log) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	return resilience.Call(ctx, l.retrier, "query audit log", func(ctx context.Context) ([]model.AuditEntry, error) {
		return l.store.Query(ctx, filter)
	})
}

// VerifyChain re-hashes the whole log and checks every link
func (l *Log) VerifyChain(ctx context.Context) error {
	entries, err := l.Query(ctx, model.AuditFilter{})
	if err != nil {
		return err
	}
	return VerifyEntries(entries)
}
