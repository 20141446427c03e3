// Package ports declares the collaborators the engine depends on and the
// decorators every production wiring puts in front of them: bounded
// retries with a rate limit, and read-through caching for lookups that
// are safe to reuse.
package ports

import (
	"context"

	"github.com/ppiankov/claimgate/internal/model"
)

// ManuscriptStore loads manuscripts by ID
type ManuscriptStore interface {
	GetManuscript(ctx context.Context, id string) (*model.Manuscript, error)
}

// ManifestStore loads statistical manifests by ID
type ManifestStore interface {
	GetManifest(ctx context.Context, id string) (*model.Manifest, error)
}

// VariableRegistry resolves schema variables
type VariableRegistry interface {
	GetVariable(ctx context.Context, id string) (model.Variable, error)
}

// ApprovalProvider reports the ethics approval status of a study
type ApprovalProvider interface {
	GetApprovalStatus(ctx context.Context, studyID string) (model.ApprovalStatus, error)
}

// IdentityProvider turns a credential into an actor
type IdentityProvider interface {
	Authenticate(ctx context.Context, credential string) (model.Actor, error)
}

// Collaborators groups the external ports
type Collaborators struct {
	Manuscripts ManuscriptStore
	Manifests   ManifestStore
	Variables   VariableRegistry
	Approvals   ApprovalProvider
}
