// Package export assembles the submission package for a manuscript. It
// refuses to run without a recorded, allowing gate decision for the same
// study and actor, and it never hands out a package whose export was not
// logged.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/extract"
	"github.com/ppiankov/claimgate/internal/lineage"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/score"
)

// FormatVersion identifies the bundle layout
const FormatVersion = "claimgate-export/1"

// Bundle file names, in archive order
const (
	FileManuscript = "manuscript.md"
	FileAppendix   = "verification_appendix.json"
	FileLineage    = "data_lineage.csv"
	FileMetadata   = "metadata.json"
)

// zipEpoch is the fixed modification time of archive entries
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ManuscriptSource loads manuscripts
type ManuscriptSource interface {
	GetManuscript(ctx context.Context, id string) (*model.Manuscript, error)
}

// DecisionLedger hands out gate decisions, once each
type DecisionLedger interface {
	Consume(studyID, actorID string) (model.ComplianceCheckResult, error)
}

// Assembler builds export bundles
type Assembler struct {
	manuscripts ManuscriptSource
	decisions   DecisionLedger
	recorder    audit.Recorder
	summarizer  *score.Summarizer
	now         func() time.Time
	logger      *zap.Logger
}

// NewAssembler creates an assembler. logger may be nil.
func NewAssembler(manuscripts ManuscriptSource, decisions DecisionLedger, recorder audit.Recorder, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		manuscripts: manuscripts,
		decisions:   decisions,
		recorder:    recorder,
		summarizer:  score.NewSummarizer(),
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock overrides the generation timestamp source
func (a *Assembler) SetClock(now func() time.Time) {
	a.now = now
}

// Assemble builds the bundle for req. The order is fixed: load the
// manuscript, consume the gate decision, build, then log EXPORT_ALLOWED.
func (a *Assembler) Assemble(ctx context.Context, req model.ExportRequest) (*model.ExportBundle, error) {
	ms, err := a.manuscripts.GetManuscript(ctx, req.ManuscriptID)
	if err != nil {
		return nil, fmt.Errorf("load manuscript: %w", err)
	}

	decision, err := a.decisions.Consume(ms.StudyID, req.Actor.ID)
	if err != nil {
		return nil, err
	}

	for _, p := range req.Packets {
		if p.ManuscriptID != "" && p.ManuscriptID != ms.ID {
			return nil, fmt.Errorf("packet %s belongs to manuscript %s, not %s", p.ID, p.ManuscriptID, ms.ID)
		}
	}

	packets := slices.Clone(req.Packets)
	slices.SortFunc(packets, func(x, y model.VerificationPacket) int { return strings.Compare(x.ID, y.ID) })
	entries := slices.Clone(req.Lineage)
	slices.SortStableFunc(entries, func(x, y model.LineageEntry) int { return strings.Compare(x.PacketID, y.PacketID) })

	contentHash, err := ContentHash(ms, packets, entries, req.Target)
	if err != nil {
		return nil, err
	}

	appendix := a.summarizer.Summarize(ms.ID, packets)
	appendix.ProtocolVersion = protocolVersion(entries)
	appendix.ManifestVersion = manifestVersion(packets)

	meta := model.ExportMetadata{
		BundleID:      "bnd-" + strings.TrimPrefix(contentHash, "sha256:")[:16],
		ManuscriptID:  ms.ID,
		Title:         ms.Title,
		StudyID:       ms.StudyID,
		Target:        req.Target,
		PacketCount:   len(packets),
		LineageCount:  len(entries),
		ContentHash:   contentHash,
		GateSequence:  decision.AuditSequence,
		FormatVersion: FormatVersion,
		GeneratedAt:   a.now().UTC().Truncate(time.Second),
	}

	files, err := buildFiles(ms, appendix, entries, meta)
	if err != nil {
		return nil, err
	}
	archive, err := Archive(files)
	if err != nil {
		return nil, err
	}

	_, err = a.recorder.Record(ctx, req.Actor, model.EventExportAllowed, ms.ID, map[string]any{
		"manuscript_title": ms.Title,
		"target_journal":   req.Target.Journal,
		"pi_name":          req.Target.PIName,
		"packet_count":     len(packets),
		"bundle_id":        meta.BundleID,
		"content_hash":     contentHash,
		"gate_sequence":    decision.AuditSequence,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("export package assembled",
		zap.String("manuscript_id", ms.ID),
		zap.String("bundle_id", meta.BundleID),
		zap.String("journal", req.Target.Journal),
		zap.Int("packets", len(packets)),
		zap.Int("archive_bytes", len(archive)))

	return &model.ExportBundle{
		Metadata: meta,
		Appendix: appendix,
		Files:    files,
		Archive:  archive,
	}, nil
}

// ContentHash hashes the canonical JSON (RFC 8785) of the inputs a bundle
// is built from
func ContentHash(ms *model.Manuscript, packets []model.VerificationPacket, entries []model.LineageEntry, target model.TargetMetadata) (string, error) {
	raw, err := json.Marshal(struct {
		Manuscript *model.Manuscript          `json:"manuscript"`
		Packets    []model.VerificationPacket `json:"packets"`
		Lineage    []model.LineageEntry       `json:"lineage"`
		Target     model.TargetMetadata       `json:"target"`
	}{ms, packets, entries, target})
	if err != nil {
		return "", fmt.Errorf("marshal export inputs: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize export inputs: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// manifestVersion lists the distinct manifest versions the packets were
// checked against
func manifestVersion(packets []model.VerificationPacket) string {
	var versions []string
	for _, p := range packets {
		if p.ManifestVer != "" && !slices.Contains(versions, p.ManifestVer) {
			versions = append(versions, p.ManifestVer)
		}
	}
	slices.Sort(versions)
	return strings.Join(versions, ",")
}

func protocolVersion(entries []model.LineageEntry) string {
	var versions []string
	for _, e := range entries {
		v := e.ProtocolID + "@" + e.ProtocolVersionID
		if !slices.Contains(versions, v) {
			versions = append(versions, v)
		}
	}
	slices.Sort(versions)
	return strings.Join(versions, ",")
}

func buildFiles(ms *model.Manuscript, appendix model.VerificationAppendix, entries []model.LineageEntry, meta model.ExportMetadata) ([]model.BundleFile, error) {
	manuscript, err := RenderManuscript(ms)
	if err != nil {
		return nil, err
	}
	appendixJSON, err := json.MarshalIndent(appendix, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal appendix: %w", err)
	}
	var csvBuf bytes.Buffer
	if err := lineage.WriteCSV(&csvBuf, entries); err != nil {
		return nil, err
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	return []model.BundleFile{
		{Name: FileManuscript, ContentType: "text/markdown; charset=utf-8", Data: manuscript},
		{Name: FileAppendix, ContentType: "application/json", Data: appendixJSON},
		{Name: FileLineage, ContentType: "text/csv; charset=utf-8", Data: csvBuf.Bytes()},
		{Name: FileMetadata, ContentType: "application/json", Data: metaJSON},
	}, nil
}

// RenderManuscript writes the manuscript as Markdown, one heading per
// section in document order. HTML sections are reduced to visible text.
func RenderManuscript(ms *model.Manuscript) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", ms.Title)
	for _, name := range ms.SectionNames() {
		text := ms.Sections[name]
		if extract.LooksLikeHTML(text) {
			visible, err := extract.VisibleText(text)
			if err != nil {
				return nil, fmt.Errorf("render section %s: %w", name, err)
			}
			text = visible
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", name, strings.TrimSpace(text))
	}
	if len(ms.Citations) > 0 {
		b.WriteString("\n## References\n\n")
		for _, c := range ms.Citations {
			fmt.Fprintf(&b, "- [%s] %s", c.Key, c.Title)
			if id := c.Identifier(); id != "" {
				fmt.Fprintf(&b, " <%s>", id)
			}
			b.WriteString("\n")
		}
	}
	return []byte(b.String()), nil
}

// Archive zips files in order with fixed timestamps, so identical files
// always give identical bytes
func Archive(files []model.BundleFile) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
