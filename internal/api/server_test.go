package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/pipeline"
)

const secret = "test-secret"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeService struct {
	actor     model.Actor
	filter    model.AuditFilter
	packetIDs []string
	err       error
}

func (f *fakeService) seen(ctx context.Context) {
	f.actor, _ = identity.FromContext(ctx)
}

func (f *fakeService) RunVerification(ctx context.Context, manuscriptID, _ string) ([]model.VerificationPacket, error) {
	f.seen(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return []model.VerificationPacket{{ID: "pkt-1", ManuscriptID: manuscriptID, OverallStatus: model.StatusVerified}}, nil
}

func (f *fakeService) TraceLineage(ctx context.Context, packetIDs []string) ([]model.LineageEntry, error) {
	f.seen(ctx)
	f.packetIDs = packetIDs
	return []model.LineageEntry{{PacketID: packetIDs[0], SchemaVariableID: "var-size", ProtocolID: "proto-7"}}, f.err
}

func (f *fakeService) CheckExportEligibility(ctx context.Context, studyID string, actor model.Actor) (model.ComplianceCheckResult, error) {
	f.seen(ctx)
	return model.ComplianceCheckResult{StudyID: studyID, CanExport: actor.ID != "", Status: model.ComplianceApproved}, f.err
}

func (f *fakeService) ExportManuscript(ctx context.Context, manuscriptID string, packetIDs []string, target model.TargetMetadata, actor model.Actor) (*model.ExportBundle, string, error) {
	f.seen(ctx)
	f.packetIDs = packetIDs
	if f.err != nil {
		return nil, "", f.err
	}
	return &model.ExportBundle{
		Metadata: model.ExportMetadata{BundleID: "bnd-1", ManuscriptID: manuscriptID, Target: target},
		Files:    []model.BundleFile{{Name: "manuscript.md"}, {Name: "metadata.json"}},
	}, "/tmp/out/ms-1/bnd-1", nil
}

func (f *fakeService) QueryAuditLog(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	f.seen(ctx)
	f.filter = filter
	return []model.AuditEntry{{Sequence: 1, EventType: model.EventExportAllowed}}, f.err
}

func (f *fakeService) Packets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error) {
	f.seen(ctx)
	return nil, model.NewNotFound("manuscript", manuscriptID)
}

func newServer(t *testing.T, svc *fakeService) (http.Handler, string) {
	t.Helper()
	provider, err := identity.NewJWT(secret, "claimgate-test", "")
	require.NoError(t, err)
	token, err := provider.Sign(identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "claimgate-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name: "Dana Reviewer",
		Role: "researcher",
	})
	require.NoError(t, err)
	return New(svc, provider, metrics.New(), nil).Routes(), token
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	h, _ := newServer(t, &fakeService{})

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	svc := &fakeService{}
	h, token := newServer(t, svc)
	body := `{"manuscriptId":"ms-1"}`

	rec := do(t, h, http.MethodPost, "/v1/verifications", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decodeProblem(t, rec).Status)

	rec = do(t, h, http.MethodPost, "/v1/verifications", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/verifications", strings.NewReader(body))
	req.Header.Set("Authorization", "Basic dTpw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/verifications", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.Actor{ID: "u-1", Name: "Dana Reviewer", Role: "researcher"}, svc.actor)
}

func TestStaticIdentityNeedsNoHeader(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, identity.NewStatic(model.Actor{ID: "ops"}), nil, nil).Routes()

	rec := do(t, h, http.MethodPost, "/v1/eligibility", "", `{"studyId":"study-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", svc.actor.ID)

	var res model.ComplianceCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.CanExport)
	assert.Equal(t, "study-1", res.StudyID)
}

func TestRequestValidation(t *testing.T) {
	h, token := newServer(t, &fakeService{})

	tests := []struct {
		name, path, body string
	}{
		{"missing manuscript", "/v1/verifications", `{"manifestId":"man-1"}`},
		{"unknown field", "/v1/verifications", `{"manuscriptId":"ms-1","extra":true}`},
		{"not json", "/v1/verifications", `ms-1`},
		{"no packets", "/v1/lineage", `{"packetIds":[]}`},
		{"blank packet id", "/v1/lineage", `{"packetIds":[""]}`},
		{"missing study", "/v1/eligibility", `{}`},
		{"export without manuscript", "/v1/exports", `{"target":{"journal":"J"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.path, decodeProblem(t, rec).Instance)
		})
	}
}

func TestLineage(t *testing.T) {
	svc := &fakeService{}
	h, token := newServer(t, svc)

	rec := do(t, h, http.MethodPost, "/v1/lineage", token, `{"packetIds":["pkt-1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pkt-1"}, svc.packetIDs)

	var body struct {
		Entries []model.LineageEntry `json:"entries"`
		Stats   model.LineageStats   `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 1)
	assert.Equal(t, model.ComputeLineageStats(body.Entries), body.Stats)
}

func TestExport(t *testing.T) {
	svc := &fakeService{}
	h, token := newServer(t, svc)

	rec := do(t, h, http.MethodPost, "/v1/exports", token,
		`{"manuscriptId":"ms-1","packetIds":["pkt-1","pkt-2"],"target":{"journal":"The Lancet Oncology"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"pkt-1", "pkt-2"}, svc.packetIDs)

	var res exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "bnd-1", res.Metadata.BundleID)
	assert.Equal(t, "The Lancet Oncology", res.Metadata.Target.Journal)
	assert.Equal(t, []string{"manuscript.md", "metadata.json"}, res.Files)
	assert.Equal(t, "/tmp/out/ms-1/bnd-1", res.Location)
}

func TestExport_Blocked(t *testing.T) {
	svc := &fakeService{err: &model.ExportBlockedError{StudyID: "study-1", Reasons: []string{"ethics approval is pending review"}}}
	h, token := newServer(t, svc)

	rec := do(t, h, http.MethodPost, "/v1/exports", token, `{"manuscriptId":"ms-1","target":{"journal":"J"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, []string{"ethics approval is pending review"}, p.Reasons)
}

func TestAuditQuery(t *testing.T) {
	svc := &fakeService{}
	h, token := newServer(t, svc)

	rec := do(t, h, http.MethodGet,
		"/v1/audit?actor=u-2&type=verification_created,EXPORT_ALLOWED&type=correction&from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&limit=10",
		token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f := svc.filter
	assert.Equal(t, "u-2", f.ActorID)
	assert.Equal(t, []model.EventType{model.EventVerificationCreated, model.EventExportAllowed, model.EventCorrection}, f.EventTypes)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), f.To)
	assert.Equal(t, 10, f.Limit)

	for _, q := range []string{"type=NOPE", "from=yesterday", "from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", "limit=-1", "after=x"} {
		rec := do(t, h, http.MethodGet, "/v1/audit?"+q, token, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPacketsNotFound(t *testing.T) {
	h, token := newServer(t, &fakeService{})
	rec := do(t, h, http.MethodGet, "/v1/manuscripts/ms-404/packets", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{identity.ErrUnauthenticated, http.StatusUnauthorized},
		{pipeline.ErrNoActor, http.StatusUnauthorized},
		{fmt.Errorf("load manuscript: %w", model.NewNotFound("manuscript", "x")), http.StatusNotFound},
		{&model.ComplianceNotCheckedError{StudyID: "s", ActorID: "a"}, http.StatusConflict},
		{&model.ExportBlockedError{StudyID: "s"}, http.StatusForbidden},
		{&model.ExternalTimeoutError{Operation: "get manifest", Attempts: 3, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&model.AuditWriteError{EventType: model.EventExportAllowed, Err: errors.New("disk")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h, token := newServer(t, &fakeService{err: errors.New("dsn=postgres://secret")})
	rec := do(t, h, http.MethodPost, "/v1/verifications", token, `{"manuscriptId":"ms-1"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}
