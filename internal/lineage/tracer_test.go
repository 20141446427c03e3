package lineage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/claimgate/internal/model"
)

type fakeManifests struct {
	manifests map[string]*model.Manifest
	calls     atomic.Int32
}

func (f *fakeManifests) GetManifest(_ context.Context, id string) (*model.Manifest, error) {
	f.calls.Add(1)
	m, ok := f.manifests[id]
	if !ok {
		return nil, model.NewNotFound("manifest", id)
	}
	return m, nil
}

type fakeVariables map[string]model.Variable

func (f fakeVariables) GetVariable(_ context.Context, id string) (model.Variable, error) {
	v, ok := f[id]
	if !ok {
		return model.Variable{}, model.NewNotFound("variable", id)
	}
	return v, nil
}

func fixture() (*fakeManifests, fakeVariables) {
	manifests := &fakeManifests{manifests: map[string]*model.Manifest{
		"mf-1": {
			ID:      "mf-1",
			StudyID: "study-1",
			Entries: []model.ManifestEntry{
				{
					OutcomeName:             "tumor size reduction",
					PValue:                  model.Some(0.03),
					AnalysisMethod:          "t-test",
					SourceSchemaVariableIDs: []string{"var-size", "var-arm"},
					TransformationPath:      []string{"raw_capture", "aggregation", "comparative_test"},
				},
				{
					OutcomeName:             "response rate",
					PValue:                  model.Some(0.2),
					SourceSchemaVariableIDs: []string{"var-size"},
					TransformationPath:      []string{"raw_capture", "proportion"},
				},
			},
		},
	}}
	variables := fakeVariables{
		"var-size": {ID: "var-size", Name: "tumor_diameter_mm", ProtocolID: "proto-7", ProtocolVersionID: "v2"},
		"var-arm":  {ID: "var-arm", Name: "treatment_arm", ProtocolID: "proto-7", ProtocolVersionID: "v2"},
	}
	return manifests, variables
}

func matched(id, outcome string) model.VerificationPacket {
	return model.VerificationPacket{
		ID:            id,
		ManifestID:    "mf-1",
		ClaimText:     outcome + " was significant",
		InternalCheck: model.InternalCheck{Status: model.InternalVerified, ManifestVariable: outcome},
	}
}

func TestTrace_OneEntryPerVariable(t *testing.T) {
	manifests, variables := fixture()
	tr := NewTracer(manifests, variables, 2, nil)

	got, err := tr.Collect(context.Background(), []model.VerificationPacket{matched("pkt-1", "tumor size reduction")})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []model.LineageEntry{
		{
			PacketID: "pkt-1", ClaimText: "tumor size reduction was significant", OutcomeName: "tumor size reduction",
			SchemaVariableID: "var-size", VariableName: "tumor_diameter_mm", ProtocolID: "proto-7", ProtocolVersionID: "v2",
			AnalysisMethod: "t-test", TransformationPath: []string{"raw_capture", "aggregation", "comparative_test"},
		},
		{
			PacketID: "pkt-1", ClaimText: "tumor size reduction was significant", OutcomeName: "tumor size reduction",
			SchemaVariableID: "var-arm", VariableName: "treatment_arm", ProtocolID: "proto-7", ProtocolVersionID: "v2",
			AnalysisMethod: "t-test", TransformationPath: []string{"raw_capture", "aggregation", "comparative_test"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lineage mismatch (-want +got):\n%s", diff)
	}
}

func TestTrace_SharedVariableNotDeduplicated(t *testing.T) {
	manifests, variables := fixture()
	tr := NewTracer(manifests, variables, 0, nil)

	got, err := tr.Collect(context.Background(), []model.VerificationPacket{
		matched("pkt-1", "Tumor Size Reduction"),
		matched("pkt-2", "response rate"),
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var edges []string
	for _, e := range got {
		if e.SchemaVariableID == "var-size" {
			edges = append(edges, e.PacketID)
		}
	}
	if diff := cmp.Diff([]string{"pkt-1", "pkt-2"}, edges); diff != "" {
		t.Errorf("edges to var-size (-want +got):\n%s", diff)
	}
	if n := manifests.calls.Load(); n != 1 {
		t.Errorf("manifest loaded %d times, want 1", n)
	}
}

func TestTrace_SkipsUnmatchedAndIsRestartable(t *testing.T) {
	manifests, variables := fixture()
	tr := NewTracer(manifests, variables, 4, nil)
	packets := []model.VerificationPacket{
		{ID: "pkt-0", InternalCheck: model.InternalCheck{Status: model.InternalNotApplicable}},
		matched("pkt-1", "response rate"),
	}

	seq := tr.Trace(context.Background(), packets)
	var first, second []model.LineageEntry
	for e, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, e)
	}
	for e, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		second = append(second, e)
	}

	if len(first) != 1 || first[0].PacketID != "pkt-1" {
		t.Fatalf("unexpected entries %+v", first)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestTrace_EarlyBreak(t *testing.T) {
	manifests, variables := fixture()
	tr := NewTracer(manifests, variables, 1, nil)

	n := 0
	for range tr.Trace(context.Background(), []model.VerificationPacket{matched("a", "tumor size reduction"), matched("b", "response rate")}) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("expected 1 iteration, got %d", n)
	}
}

func TestTrace_Errors(t *testing.T) {
	manifests, variables := fixture()
	tr := NewTracer(manifests, variables, 2, nil)

	tests := []struct {
		name   string
		packet model.VerificationPacket
	}{
		{"unknown manifest", model.VerificationPacket{ID: "p", ManifestID: "nope", InternalCheck: model.InternalCheck{ManifestVariable: "x"}}},
		{"unknown outcome", matched("p", "survival")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Collect(context.Background(), []model.VerificationPacket{tt.packet})
			if !errors.Is(err, model.ErrNotFound) {
				t.Errorf("expected not found, got %v", err)
			}
		})
	}

	delete(variables, "var-arm")
	_, err := tr.TracePacket(context.Background(), matched("p", "tumor size reduction"))
	var nf *model.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "variable" {
		t.Errorf("expected variable not found, got %v", err)
	}
}

func TestTrace_FallsBackToStudyID(t *testing.T) {
	manifests, variables := fixture()
	manifests.manifests["study-1"] = manifests.manifests["mf-1"]
	tr := NewTracer(manifests, variables, 2, nil)

	p := matched("pkt-1", "response rate")
	p.ManifestID = ""
	p.StudyID = "study-1"
	got, err := tr.TracePacket(context.Background(), p)
	if err != nil || len(got) != 1 {
		t.Fatalf("TracePacket = %v, %v", got, err)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []model.LineageEntry{{
		PacketID:           "pkt-1",
		ClaimText:          `size fell, "markedly"`,
		OutcomeName:        "tumor size reduction",
		SchemaVariableID:   "var-size",
		ProtocolID:         "proto-7",
		ProtocolVersionID:  "v2",
		TransformationPath: []string{"raw_capture", "aggregation"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "packet_id,claim_text,") {
		t.Errorf("bad header %q", lines[0])
	}
	want := `pkt-1,"size fell, ""markedly""",tumor size reduction,var-size,,proto-7,v2,,raw_capture > aggregation`
	if lines[1] != want {
		t.Errorf("row = %q\nwant  %q", lines[1], want)
	}
}
