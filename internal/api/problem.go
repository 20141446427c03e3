package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/pipeline"
)

// Problem is an RFC 7807 problem detail. Every error response uses it.
type Problem struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Status   int      `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Instance string   `json:"instance,omitempty"`
	Reasons  []string `json:"blocking_reasons,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string, reasons []string) {
	p := Problem{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Reasons:  reasons,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

// statusOf maps an engine error to its HTTP status
func statusOf(err error) int {
	var (
		notChecked *model.ComplianceNotCheckedError
		blocked    *model.ExportBlockedError
		timeout    *model.ExternalTimeoutError
		auditErr   *model.AuditWriteError
		malformed  *model.MalformedClaimError
		invalid    validator.ValidationErrors
	)
	switch {
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, pipeline.ErrNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &blocked):
		return http.StatusForbidden
	case errors.As(err, &notChecked):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &auditErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	var reasons []string
	var blocked *model.ExportBlockedError
	if errors.As(err, &blocked) {
		reasons = blocked.Reasons
	}
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "internal error"
	}
	writeProblem(w, r, status, detail, reasons)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
