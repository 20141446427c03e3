package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/compliance"
	"github.com/ppiankov/claimgate/internal/model"
)

var author = model.Actor{ID: "u-1", Name: "Dana Reviewer", Role: "researcher"}

type manuscripts map[string]*model.Manuscript

func (m manuscripts) GetManuscript(_ context.Context, id string) (*model.Manuscript, error) {
	ms, ok := m[id]
	if !ok {
		return nil, model.NewNotFound("manuscript", id)
	}
	return ms, nil
}

type approvals model.ApprovalState

func (a approvals) GetApprovalStatus(context.Context, string) (model.ApprovalStatus, error) {
	return model.ApprovalStatus{Status: model.ApprovalState(a), ApprovalReference: "IRB-2026-014"}, nil
}

type harness struct {
	log       *audit.Log
	gate      *compliance.Gate
	assembler *Assembler
}

func newHarness(state model.ApprovalState) *harness {
	log := audit.NewLog(audit.NewMemoryStore())
	gate := compliance.NewGate(approvals(state), log, model.ComplianceConfig{DecisionTTL: time.Minute})
	store := manuscripts{"ms-1": {
		ID:      "ms-1",
		Title:   "Neoadjuvant therapy and tumor size",
		StudyID: "study-1",
		Order:   []string{"Abstract", "Results"},
		Sections: map[string]string{
			"Results":  "<p>Tumor size reduction was significant [smith2021].</p>",
			"Abstract": "We report tumor size reduction.",
		},
		Citations: []model.Citation{{Key: "smith2021", Title: "Prior trial", DOI: "10.1000/xyz"}},
	}}
	a := NewAssembler(store, gate, log, nil)
	a.SetClock(func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) })
	return &harness{log: log, gate: gate, assembler: a}
}

func samplePackets() []model.VerificationPacket {
	return []model.VerificationPacket{
		{ID: "pkt-2", ManuscriptID: "ms-1", ManifestVer: "3", OverallStatus: model.StatusPartial, InternalCheck: model.InternalCheck{Status: model.InternalVerified}},
		{ID: "pkt-1", ManuscriptID: "ms-1", ManifestVer: "3", OverallStatus: model.StatusVerified, InternalCheck: model.InternalCheck{Status: model.InternalVerified}},
	}
}

func sampleLineage() []model.LineageEntry {
	return []model.LineageEntry{
		{PacketID: "pkt-1", SchemaVariableID: "var-size", ProtocolID: "proto-7", ProtocolVersionID: "v2", TransformationPath: []string{"raw_capture", "aggregation"}},
	}
}

func request() model.ExportRequest {
	return model.ExportRequest{
		ManuscriptID: "ms-1",
		Packets:      samplePackets(),
		Lineage:      sampleLineage(),
		Target:       model.TargetMetadata{Journal: "The Lancet Oncology", PIName: "Dr. A. Okafor"},
		Actor:        author,
	}
}

func TestAssemble_FailsClosedWithoutGateCheck(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	statuses := []model.OverallStatus{model.StatusVerified, model.StatusPartial, model.StatusConflict, model.StatusError}

	properties.Property("no gate decision means ComplianceNotCheckedError", prop.ForAll(
		func(picks []int) bool {
			h := newHarness(model.ApprovalApproved)
			req := request()
			req.Packets = nil
			for i, k := range picks {
				req.Packets = append(req.Packets, model.VerificationPacket{
					ID:            "pkt-" + string(rune('a'+i%26)),
					ManuscriptID:  "ms-1",
					OverallStatus: statuses[k%len(statuses)],
				})
			}
			_, err := h.assembler.Assemble(context.Background(), req)
			var notChecked *model.ComplianceNotCheckedError
			return errors.As(err, &notChecked)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestAssemble_ScenarioD_BlockedGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(model.ApprovalPending)

	res, err := h.gate.CheckExportEligibility(ctx, "study-1", author)
	require.NoError(t, err)
	require.False(t, res.CanExport)

	_, err = h.assembler.Assemble(ctx, request())
	var blocked *model.ExportBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.NotEmpty(t, blocked.Reasons)

	entries, err := h.log.Query(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EventExportBlocked, entries[0].EventType)
}

func TestAssemble_MissingManuscript(t *testing.T) {
	h := newHarness(model.ApprovalApproved)
	req := request()
	req.ManuscriptID = "ms-404"

	_, err := h.assembler.Assemble(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAssemble_RejectsForeignPackets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(model.ApprovalApproved)
	_, err := h.gate.CheckExportEligibility(ctx, "study-1", author)
	require.NoError(t, err)

	req := request()
	req.Packets[0].ManuscriptID = "ms-2"
	_, err = h.assembler.Assemble(ctx, req)
	require.Error(t, err)
}

func TestAssemble_Bundle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(model.ApprovalApproved)

	decision, err := h.gate.CheckExportEligibility(ctx, "study-1", author)
	require.NoError(t, err)

	bundle, err := h.assembler.Assemble(ctx, request())
	require.NoError(t, err)

	meta := bundle.Metadata
	assert.Equal(t, "ms-1", meta.ManuscriptID)
	assert.Equal(t, "study-1", meta.StudyID)
	assert.Equal(t, 2, meta.PacketCount)
	assert.Equal(t, 1, meta.LineageCount)
	assert.Equal(t, decision.AuditSequence, meta.GateSequence)
	assert.True(t, strings.HasPrefix(meta.ContentHash, "sha256:"))
	assert.Equal(t, FormatVersion, meta.FormatVersion)

	assert.Equal(t, 1, bundle.Appendix.Summary.Counts.Verified)
	assert.Equal(t, 1, bundle.Appendix.Summary.Counts.Partial)
	assert.Equal(t, 0.5, bundle.Appendix.Summary.ApprovalRate)
	assert.Equal(t, "proto-7@v2", bundle.Appendix.ProtocolVersion)
	assert.Equal(t, "3", bundle.Appendix.ManifestVersion)
	assert.Equal(t, "Dr. A. Okafor", meta.Target.PIName)
	assert.Equal(t, "pkt-1", bundle.Appendix.Packets[0].ID)

	md, ok := bundle.File(FileManuscript)
	require.True(t, ok)
	assert.Contains(t, string(md.Data), "# Neoadjuvant therapy and tumor size\n")
	assert.Contains(t, string(md.Data), "## Results\n\nTumor size reduction was significant [smith2021].")
	assert.Less(t, strings.Index(string(md.Data), "## Abstract"), strings.Index(string(md.Data), "## Results"))
	assert.Contains(t, string(md.Data), "- [smith2021] Prior trial <doi:10.1000/xyz>")

	csvFile, ok := bundle.File(FileLineage)
	require.True(t, ok)
	assert.Contains(t, string(csvFile.Data), "pkt-1,,,var-size,,proto-7,v2,,raw_capture > aggregation")

	zr, err := zip.NewReader(bytes.NewReader(bundle.Archive), int64(len(bundle.Archive)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{FileManuscript, FileAppendix, FileLineage, FileMetadata}, names)

	rc, err := zr.File[3].Open()
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	var decoded model.ExportMetadata
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, meta.ContentHash, decoded.ContentHash)
	assert.Equal(t, "Dr. A. Okafor", decoded.Target.PIName)
	assert.Contains(t, string(raw), `"pi_name": "Dr. A. Okafor"`)

	allowed, err := h.log.Query(ctx, model.AuditFilter{EventTypes: []model.EventType{model.EventExportAllowed}})
	require.NoError(t, err)
	require.Len(t, allowed, 2)
	last := allowed[1]
	assert.Equal(t, "ms-1", last.Subject)
	assert.Equal(t, "Neoadjuvant therapy and tumor size", last.Payload["manuscript_title"])
	assert.Equal(t, "The Lancet Oncology", last.Payload["target_journal"])
	assert.Equal(t, "Dr. A. Okafor", last.Payload["pi_name"])
	assert.EqualValues(t, 2, last.Payload["packet_count"])

	// The decision is spent
	_, err = h.assembler.Assemble(ctx, request())
	var notChecked *model.ComplianceNotCheckedError
	assert.ErrorAs(t, err, &notChecked)
}

func TestContentHash_StableAndSensitive(t *testing.T) {
	ms := &model.Manuscript{ID: "ms-1", Sections: map[string]string{"a": "x", "b": "y"}}
	target := model.TargetMetadata{Journal: "J"}

	h1, err := ContentHash(ms, samplePackets(), sampleLineage(), target)
	require.NoError(t, err)
	h2, err := ContentHash(ms, samplePackets(), sampleLineage(), target)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	target.Journal = "K"
	h3, err := ContentHash(ms, samplePackets(), sampleLineage(), target)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestArchive_Deterministic(t *testing.T) {
	files := []model.BundleFile{{Name: "a.txt", Data: []byte("alpha")}, {Name: "b.txt", Data: []byte("beta")}}
	a1, err := Archive(files)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	a2, err := Archive(files)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}
