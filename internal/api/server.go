// Package api serves the engine over HTTP. Every /v1 route runs as the
// actor resolved from the Authorization header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/ports"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Service is the subset of the engine the API exposes
type Service interface {
	RunVerification(ctx context.Context, manuscriptID, manifestID string) ([]model.VerificationPacket, error)
	TraceLineage(ctx context.Context, packetIDs []string) ([]model.LineageEntry, error)
	CheckExportEligibility(ctx context.Context, studyID string, actor model.Actor) (model.ComplianceCheckResult, error)
	ExportManuscript(ctx context.Context, manuscriptID string, packetIDs []string, target model.TargetMetadata, actor model.Actor) (*model.ExportBundle, string, error)
	QueryAuditLog(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
	Packets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error)
}

type verifyRequest struct {
	ManuscriptID string `json:"manuscriptId" validate:"required"`
	ManifestID   string `json:"manifestId"`
}

type lineageRequest struct {
	PacketIDs []string `json:"packetIds" validate:"required,min=1,dive,required"`
}

type eligibilityRequest struct {
	StudyID string `json:"studyId" validate:"required"`
}

type exportRequest struct {
	ManuscriptID string               `json:"manuscriptId" validate:"required"`
	PacketIDs    []string             `json:"packetIds" validate:"omitempty,dive,required"`
	Target       model.TargetMetadata `json:"target"`
}

type exportResponse struct {
	Metadata model.ExportMetadata `json:"metadata"`
	Summary  model.AuditSummary   `json:"summary"`
	Files    []string             `json:"files"`
	Location string               `json:"location,omitempty"`
}

// Server is the HTTP front of the engine
type Server struct {
	svc      Service
	identity ports.IdentityProvider
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a server. metrics and logger may be nil.
func New(svc Service, provider ports.IdentityProvider, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      svc,
		identity: provider,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Routes builds the router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authenticate(s.identity))
		r.Post("/verifications", s.postVerification)
		r.Get("/manuscripts/{manuscriptID}/packets", s.getPackets)
		r.Post("/lineage", s.postLineage)
		r.Post("/eligibility", s.postEligibility)
		r.Post("/exports", s.postExport)
		r.Get("/audit", s.getAudit)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests
func (s *Server) ListenAndServe(ctx context.Context, cfg model.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", zap.String("addr", cfg.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// decode reads a JSON body into v and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeProblem(w, r, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err), nil)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}

func (s *Server) postVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	packets, err := s.svc.RunVerification(r.Context(), req.ManuscriptID, req.ManifestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manuscript_id": req.ManuscriptID, "packets": packets})
}

func (s *Server) getPackets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "manuscriptID")
	packets, err := s.svc.Packets(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manuscript_id": id, "packets": packets})
}

func (s *Server) postLineage(w http.ResponseWriter, r *http.Request) {
	var req lineageRequest
	if !s.decode(w, r, &req) {
		return
	}
	entries, err := s.svc.TraceLineage(r.Context(), req.PacketIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"stats":   model.ComputeLineageStats(entries),
	})
}

func (s *Server) postEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := identity.FromContext(r.Context())
	res, err := s.svc.CheckExportEligibility(r.Context(), req.StudyID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) postExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := identity.FromContext(r.Context())
	bundle, location, err := s.svc.ExportManuscript(r.Context(), req.ManuscriptID, req.PacketIDs, req.Target, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	files := make([]string, 0, len(bundle.Files))
	for _, f := range bundle.Files {
		files = append(files, f.Name)
	}
	writeJSON(w, http.StatusCreated, exportResponse{
		Metadata: bundle.Metadata,
		Summary:  bundle.Appendix.Summary,
		Files:    files,
		Location: location,
	})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	entries, err := s.svc.QueryAuditLog(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// parseAuditFilter reads actor, type (repeatable or comma separated),
// subject, from, to (RFC 3339), after and limit
func parseAuditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{
		ActorID: q.Get("actor"),
		Subject: q.Get("subject"),
	}
	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			et := model.EventType(strings.ToUpper(strings.TrimSpace(t)))
			if et == "" {
				continue
			}
			if !et.Valid() {
				return f, fmt.Errorf("unknown event type %q", t)
			}
			f.EventTypes = append(f.EventTypes, et)
		}
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, errors.New("from must be before to")
	}
	if v := q.Get("after"); v != "" {
		if f.AfterSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			return f, fmt.Errorf("after: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
