// Package pipeline wires the verification core into the batch entry points:
// verify a manuscript, trace lineage, check export eligibility, assemble an
// export package and query the audit log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/compliance"
	"github.com/ppiankov/claimgate/internal/delivery"
	"github.com/ppiankov/claimgate/internal/export"
	"github.com/ppiankov/claimgate/internal/extract"
	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/lineage"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/ports"
	"github.com/ppiankov/claimgate/internal/store"
	"github.com/ppiankov/claimgate/internal/worker"
)

// ErrNoActor is returned when an operation runs without an identified actor
var ErrNoActor = errors.New("no actor in context")

// Deps are the components an Engine orchestrates
type Deps struct {
	Collaborators ports.Collaborators
	Store         store.Backend
	Log           *audit.Log
	Gate          *compliance.Gate
	Packets       *PacketAssembler
	Tracer        *lineage.Tracer
	Exporter      *export.Assembler
	Sink          delivery.Sink // nil keeps bundles in memory only
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Workers       int
}

// Engine runs the batch entry points
type Engine struct {
	collab   ports.Collaborators
	store    store.Backend
	log      *audit.Log
	gate     *compliance.Gate
	packets  *PacketAssembler
	tracer   *lineage.Tracer
	exporter *export.Assembler
	sink     delivery.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	workers  int
}

// NewEngine creates an engine from d
func NewEngine(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		collab:   d.Collaborators,
		store:    d.Store,
		log:      d.Log,
		gate:     d.Gate,
		packets:  d.Packets,
		tracer:   d.Tracer,
		exporter: d.Exporter,
		sink:     d.Sink,
		metrics:  d.Metrics,
		logger:   logger,
		workers:  workers,
	}
}

// RunVerification extracts every claim from the manuscript and verifies it
// against the manifest. An empty manifestID means the manuscript's study
// manifest. Claims are checked concurrently; packets come back in claim
// order. Per-claim failures give degraded packets, while an audit write
// failure stops the run and is returned. Cancelling ctx stops new claims
// from starting; claims already being logged finish.
func (e *Engine) RunVerification(ctx context.Context, manuscriptID, manifestID string) ([]model.VerificationPacket, error) {
	actor, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	start := time.Now()

	ms, err := e.collab.Manuscripts.GetManuscript(ctx, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("load manuscript: %w", err)
	}
	if manifestID == "" {
		manifestID = ms.StudyID
	}
	manifest, err := e.collab.Manifests.GetManifest(ctx, manifestID)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if manifest.ID == "" {
		manifest.ID = manifestID
	}

	plain, err := PlainText(ms)
	if err != nil {
		return nil, err
	}
	subj := Subject{Manuscript: plain, Manifest: manifest, Actor: actor}
	claims := slices.Collect(extract.NewClaimExtractor(manifest.Outcomes()).ManuscriptClaims(plain))

	e.logger.Info("verification started",
		zap.String("manuscript_id", ms.ID),
		zap.String("manifest_id", manifest.ID),
		zap.Int("claims", len(claims)),
		zap.Int("workers", e.workers))

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	pool := worker.NewPoolWithContext(runCtx, e.workers)
	pool.Start()
	for i, c := range claims {
		if !pool.Submit(&claimJob{index: i, claim: c, subject: subj, engine: e, abort: abort}) {
			break
		}
	}
	results := pool.Wait()

	byIndex := make([]*claimResult, len(claims))
	var auditErr, storeErr error
	for _, r := range results {
		cr := r.(*claimResult)
		byIndex[cr.index] = cr
		var awe *model.AuditWriteError
		switch {
		case cr.err == nil:
		case errors.As(cr.err, &awe) && !cancelled(ctx, awe):
			if auditErr == nil {
				auditErr = cr.err
			}
		case ctx.Err() != nil:
		default:
			storeErr = errors.Join(storeErr, cr.err)
		}
	}

	packets := make([]model.VerificationPacket, 0, len(claims))
	for _, cr := range byIndex {
		if cr != nil && cr.err == nil {
			packets = append(packets, cr.packet)
		}
	}
	e.metrics.ObserveVerification(time.Since(start))

	switch {
	case auditErr != nil:
		return packets, auditErr
	case storeErr != nil:
		return packets, storeErr
	case ctx.Err() != nil && len(packets) < len(claims):
		return packets, fmt.Errorf("verification cancelled after %d of %d claims: %w", len(packets), len(claims), ctx.Err())
	}

	e.logger.Info("verification finished",
		zap.String("manuscript_id", ms.ID),
		zap.Int("packets", len(packets)),
		zap.Duration("elapsed", time.Since(start)))
	return packets, nil
}

// cancelled reports whether an audit failure is just the caller giving up
// before the append started. Nothing was lost in that case.
func cancelled(ctx context.Context, awe *model.AuditWriteError) bool {
	return ctx.Err() != nil && errors.Is(awe.Err, ctx.Err())
}

// record logs a finished packet and then stores it
func (e *Engine) record(ctx context.Context, actor model.Actor, p model.VerificationPacket) error {
	event := model.EventVerificationCreated
	if p.Degraded() {
		event = model.EventVerificationDegraded
	}
	payload := map[string]any{
		"manuscript_id":   p.ManuscriptID,
		"manifest_id":     p.ManifestID,
		"claim_id":        p.ClaimID,
		"claim_type":      string(p.ClaimType),
		"overall_status":  string(p.OverallStatus),
		"internal_status": string(p.InternalCheck.Status),
	}
	if p.Degraded() {
		payload["error"] = p.Error
	} else {
		payload["similarity_score"] = p.ExternalCheck.SimilarityScore
		payload["band"] = string(p.ExternalCheck.Band)
	}
	if p.Supersedes != "" {
		payload["supersedes"] = p.Supersedes
	}

	if _, err := e.log.Record(ctx, actor, event, p.ID, payload); err != nil {
		return err
	}
	// Logged packets are always persisted
	if err := e.store.PutPacket(context.WithoutCancel(ctx), p); err != nil {
		return fmt.Errorf("store packet %s: %w", p.ID, err)
	}
	e.metrics.PacketCreated(string(p.OverallStatus))
	return nil
}

// TraceLineage traces the stored packets with the given IDs back to their
// schema variables, stores the entries per packet and logs the trace.
func (e *Engine) TraceLineage(ctx context.Context, packetIDs []string) ([]model.LineageEntry, error) {
	actor, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}

	packets := make([]model.VerificationPacket, 0, len(packetIDs))
	for _, id := range packetIDs {
		p, err := e.store.GetPacket(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load packet: %w", err)
		}
		packets = append(packets, p)
	}

	entries, err := e.tracer.Collect(ctx, packets)
	if err != nil {
		return nil, err
	}

	byPacket := make(map[string][]model.LineageEntry, len(packets))
	for _, en := range entries {
		byPacket[en.PacketID] = append(byPacket[en.PacketID], en)
	}
	for _, p := range packets {
		if err := e.store.PutLineage(ctx, p.ID, byPacket[p.ID]); err != nil {
			return nil, fmt.Errorf("store lineage for %s: %w", p.ID, err)
		}
	}

	stats := model.ComputeLineageStats(entries)
	_, err = e.log.Record(ctx, actor, model.EventLineageTraced, subjectOf(packets), map[string]any{
		"packet_ids":         packetIDs,
		"entries":            stats.Entries,
		"distinct_variables": stats.DistinctVariables,
		"protocols":          stats.Protocols,
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// subjectOf names the manuscripts a set of packets belongs to
func subjectOf(packets []model.VerificationPacket) string {
	var ids []string
	for _, p := range packets {
		if !slices.Contains(ids, p.ManuscriptID) {
			ids = append(ids, p.ManuscriptID)
		}
	}
	slices.Sort(ids)
	return strings.Join(ids, ",")
}

// CheckExportEligibility asks the gate whether actor may export studyID
func (e *Engine) CheckExportEligibility(ctx context.Context, studyID string, actor model.Actor) (model.ComplianceCheckResult, error) {
	return e.gate.CheckExportEligibility(ctx, studyID, actor)
}

// AssembleExportPackage builds the bundle for req and hands it to the
// sink. It fails closed when the gate was not consulted for the same study
// and actor.
func (e *Engine) AssembleExportPackage(ctx context.Context, req model.ExportRequest) (*model.ExportBundle, string, error) {
	bundle, err := e.exporter.Assemble(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if e.sink == nil {
		return bundle, "", nil
	}
	location, err := e.sink.Deliver(ctx, bundle)
	if err != nil {
		e.logger.Error("bundle delivery failed",
			zap.String("bundle_id", bundle.Metadata.BundleID),
			zap.Error(err))
		return nil, "", fmt.Errorf("deliver bundle %s: %w", bundle.Metadata.BundleID, err)
	}
	e.logger.Info("bundle delivered",
		zap.String("bundle_id", bundle.Metadata.BundleID),
		zap.String("location", location))
	return bundle, location, nil
}

// ExportManuscript gathers the current packets of a manuscript (or the
// listed ones) with their lineage and assembles the export package.
// Packets without stored lineage are traced first.
func (e *Engine) ExportManuscript(ctx context.Context, manuscriptID string, packetIDs []string, target model.TargetMetadata, actor model.Actor) (*model.ExportBundle, string, error) {
	var packets []model.VerificationPacket
	if len(packetIDs) == 0 {
		all, err := e.store.ListPackets(ctx, manuscriptID)
		if err != nil {
			return nil, "", fmt.Errorf("list packets: %w", err)
		}
		packets = Current(all)
	} else {
		for _, id := range packetIDs {
			p, err := e.store.GetPacket(ctx, id)
			if err != nil {
				return nil, "", fmt.Errorf("load packet: %w", err)
			}
			packets = append(packets, p)
		}
	}

	var entries []model.LineageEntry
	var untraced []string
	for _, p := range packets {
		got, ok, err := e.store.GetLineage(ctx, p.ID)
		if err != nil {
			return nil, "", fmt.Errorf("load lineage: %w", err)
		}
		if !ok {
			untraced = append(untraced, p.ID)
			continue
		}
		entries = append(entries, got...)
	}
	if len(untraced) > 0 {
		traced, err := e.TraceLineage(identity.NewContext(ctx, actor), untraced)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, traced...)
	}

	return e.AssembleExportPackage(ctx, model.ExportRequest{
		ManuscriptID: manuscriptID,
		Packets:      packets,
		Lineage:      entries,
		Target:       target,
		Actor:        actor,
	})
}

// Current drops packets that a later packet in the list supersedes
func Current(packets []model.VerificationPacket) []model.VerificationPacket {
	superseded := make(map[string]bool)
	for _, p := range packets {
		if p.Supersedes != "" {
			superseded[p.Supersedes] = true
		}
	}
	out := make([]model.VerificationPacket, 0, len(packets))
	for _, p := range packets {
		if !superseded[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// QueryAuditLog returns the entries matching filter in sequence order
func (e *Engine) QueryAuditLog(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	return e.log.Query(ctx, filter)
}

// Packets lists the stored packets of a manuscript
func (e *Engine) Packets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error) {
	return e.store.ListPackets(ctx, manuscriptID)
}

// Supersede re-verifies the claim behind packetID against the current
// manuscript and manifest and stores the result as a new packet pointing
// at the old one. The old packet's audit entry gets a CORRECTION.
func (e *Engine) Supersede(ctx context.Context, packetID, reason string) (model.VerificationPacket, error) {
	actor, ok := identity.FromContext(ctx)
	if !ok {
		return model.VerificationPacket{}, ErrNoActor
	}
	old, err := e.store.GetPacket(ctx, packetID)
	if err != nil {
		return model.VerificationPacket{}, fmt.Errorf("load packet: %w", err)
	}

	ms, err := e.collab.Manuscripts.GetManuscript(ctx, old.ManuscriptID)
	if err != nil {
		return model.VerificationPacket{}, fmt.Errorf("load manuscript: %w", err)
	}
	manifestID := old.ManifestID
	if manifestID == "" {
		manifestID = ms.StudyID
	}
	manifest, err := e.collab.Manifests.GetManifest(ctx, manifestID)
	if err != nil {
		return model.VerificationPacket{}, fmt.Errorf("load manifest: %w", err)
	}
	if manifest.ID == "" {
		manifest.ID = manifestID
	}
	plain, err := PlainText(ms)
	if err != nil {
		return model.VerificationPacket{}, err
	}

	var claim model.Claim
	found := false
	for c := range extract.NewClaimExtractor(manifest.Outcomes()).ManuscriptClaims(plain) {
		if c.ID == old.ClaimID {
			claim, found = c, true
			break
		}
	}
	if !found {
		return model.VerificationPacket{}, model.NewNotFound("claim", old.ClaimID)
	}

	p := e.packets.Assemble(ctx, Subject{Manuscript: plain, Manifest: manifest, Actor: actor}, claim)
	p.Supersedes = old.ID
	if err := e.record(ctx, actor, p); err != nil {
		return model.VerificationPacket{}, err
	}

	created, err := e.log.Query(ctx, model.AuditFilter{
		Subject:    old.ID,
		EventTypes: []model.EventType{model.EventVerificationCreated, model.EventVerificationDegraded},
		Limit:      1,
	})
	if err != nil {
		return model.VerificationPacket{}, err
	}
	if len(created) == 1 {
		_, err := e.log.AppendCorrection(ctx, created[0].Sequence, actor, reason, map[string]any{
			"superseded_packet": old.ID,
			"superseded_by":     p.ID,
		})
		if err != nil {
			return model.VerificationPacket{}, err
		}
	}
	return p, nil
}

// PlainText returns a copy of ms with HTML sections reduced to their
// visible text, so claim spans index the text a reader sees. Outbound links
// in HTML sections become citations of their section.
func PlainText(ms *model.Manuscript) (*model.Manuscript, error) {
	out := *ms
	out.Sections = make(map[string]string, len(ms.Sections))
	links := extract.NewCitationExtractor()
	var linked []model.Citation
	for _, name := range ms.SectionNames() {
		text := ms.Sections[name]
		if extract.LooksLikeHTML(text) {
			found, err := links.Extract(text, name, "")
			if err != nil {
				return nil, fmt.Errorf("section %s links: %w", name, err)
			}
			linked = append(linked, found...)
			visible, err := extract.VisibleText(text)
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", name, err)
			}
			text = visible
		}
		out.Sections[name] = text
	}
	out.Citations = extract.MergeCitations(ms.Citations, linked)
	return &out, nil
}

// Manuscript loads a manuscript through the engine's collaborators
func (e *Engine) Manuscript(ctx context.Context, id string) (*model.Manuscript, error) {
	return e.collab.Manuscripts.GetManuscript(ctx, id)
}

// VerifyAuditChain recomputes the audit hash chain and reports the first
// broken link
func (e *Engine) VerifyAuditChain(ctx context.Context) error {
	return e.log.VerifyChain(ctx)
}
