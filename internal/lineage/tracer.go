// Package lineage joins verification packets to the manifest entries they
// matched and to the registry variables behind those entries. It only
// preserves the derivation path the manifest declares; it never computes one.
package lineage

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/claimgate/internal/model"
)

// ManifestSource resolves a manifest by id (or study id)
type ManifestSource interface {
	GetManifest(ctx context.Context, id string) (*model.Manifest, error)
}

// VariableSource resolves a schema variable from the registry
type VariableSource interface {
	GetVariable(ctx context.Context, id string) (model.Variable, error)
}

// Tracer builds lineage entries for packets
type Tracer struct {
	manifests   ManifestSource
	variables   VariableSource
	concurrency int
	logger      *zap.Logger
}

// NewTracer creates a tracer. concurrency bounds parallel registry lookups
// for a single packet; values below 1 mean 4.
func NewTracer(manifests ManifestSource, variables VariableSource, concurrency int, logger *zap.Logger) *Tracer {
	if concurrency < 1 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		manifests:   manifests,
		variables:   variables,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Trace yields one entry per source variable of every matched packet, in
// packet order and then variable order. Each range over the result
// re-runs the trace; the first error ends the sequence.
func (t *Tracer) Trace(ctx context.Context, packets []model.VerificationPacket) iter.Seq2[model.LineageEntry, error] {
	return func(yield func(model.LineageEntry, error) bool) {
		manifests := newManifestMemo(t.manifests)
		for _, p := range packets {
			entries, err := t.tracePacket(ctx, manifests, p)
			if err != nil {
				yield(model.LineageEntry{}, err)
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// TracePacket returns the entries for one packet
func (t *Tracer) TracePacket(ctx context.Context, p model.VerificationPacket) ([]model.LineageEntry, error) {
	return t.tracePacket(ctx, newManifestMemo(t.manifests), p)
}

// Collect drains Trace into a slice
func (t *Tracer) Collect(ctx context.Context, packets []model.VerificationPacket) ([]model.LineageEntry, error) {
	var out []model.LineageEntry
	for e, err := range t.Trace(ctx, packets) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *Tracer) tracePacket(ctx context.Context, manifests *manifestMemo, p model.VerificationPacket) ([]model.LineageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.InternalCheck.Matched() {
		return nil, nil
	}

	manifestID := p.ManifestID
	if manifestID == "" {
		manifestID = p.StudyID
	}
	manifest, err := manifests.get(ctx, manifestID)
	if err != nil {
		return nil, fmt.Errorf("trace packet %s: %w", p.ID, err)
	}
	entry, ok := manifest.Lookup(p.InternalCheck.ManifestVariable)
	if !ok {
		return nil, fmt.Errorf("trace packet %s: %w", p.ID, model.NewNotFound("manifest entry", p.InternalCheck.ManifestVariable))
	}

	vars := make([]model.Variable, len(entry.SourceSchemaVariableIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, id := range entry.SourceSchemaVariableIDs {
		g.Go(func() error {
			v, err := t.variables.GetVariable(gctx, id)
			if err != nil {
				return fmt.Errorf("resolve variable %s: %w", id, err)
			}
			vars[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("trace packet %s: %w", p.ID, err)
	}

	out := make([]model.LineageEntry, 0, len(vars))
	for i, v := range vars {
		out = append(out, model.LineageEntry{
			PacketID:           p.ID,
			ClaimText:          p.ClaimText,
			OutcomeName:        entry.OutcomeName,
			SchemaVariableID:   entry.SourceSchemaVariableIDs[i],
			VariableName:       v.Name,
			ProtocolID:         v.ProtocolID,
			ProtocolVersionID:  v.ProtocolVersionID,
			AnalysisMethod:     entry.AnalysisMethod,
			TransformationPath: append([]string{}, entry.TransformationPath...),
		})
	}
	t.logger.Debug("traced packet",
		zap.String("packet_id", p.ID),
		zap.String("outcome", entry.OutcomeName),
		zap.Int("variables", len(out)))
	return out, nil
}

// manifestMemo loads each manifest once per trace run
type manifestMemo struct {
	src  ManifestSource
	mu   sync.Mutex
	seen map[string]*model.Manifest
}

func newManifestMemo(src ManifestSource) *manifestMemo {
	return &manifestMemo{src: src, seen: make(map[string]*model.Manifest)}
}

func (m *manifestMemo) get(ctx context.Context, id string) (*model.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mf, ok := m.seen[id]; ok {
		return mf, nil
	}
	mf, err := m.src.GetManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	m.seen[id] = mf
	return mf, nil
}
