package ports

import (
	"context"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/resilience"
)

// Resilient wraps every collaborator with the retrier's timeout, retry
// budget and rate limit
func Resilient(c Collaborators, r *resilience.Retrier) Collaborators {
	return Collaborators{
		Manuscripts: &resilientManuscripts{next: c.Manuscripts, r: r},
		Manifests:   &resilientManifests{next: c.Manifests, r: r},
		Variables:   &resilientVariables{next: c.Variables, r: r},
		Approvals:   &resilientApprovals{next: c.Approvals, r: r},
	}
}

type resilientManuscripts struct {
	next ManuscriptStore
	r    *resilience.Retrier
}

func (s *resilientManuscripts) GetManuscript(ctx context.Context, id string) (*model.Manuscript, error) {
	return resilience.Call(ctx, s.r, "get manuscript", func(ctx context.Context) (*model.Manuscript, error) {
		return s.next.GetManuscript(ctx, id)
	})
}

type resilientManifests struct {
	next ManifestStore
	r    *resilience.Retrier
}

func (s *resilientManifests) GetManifest(ctx context.Context, id string) (*model.Manifest, error) {
	return resilience.Call(ctx, s.r, "get manifest", func(ctx context.Context) (*model.Manifest, error) {
		return s.next.GetManifest(ctx, id)
	})
}

type resilientVariables struct {
	next VariableRegistry
	r    *resilience.Retrier
}

func (s *resilientVariables) GetVariable(ctx context.Context, id string) (model.Variable, error) {
	return resilience.Call(ctx, s.r, "get variable", func(ctx context.Context) (model.Variable, error) {
		return s.next.GetVariable(ctx, id)
	})
}

type resilientApprovals struct {
	next ApprovalProvider
	r    *resilience.Retrier
}

func (s *resilientApprovals) GetApprovalStatus(ctx context.Context, studyID string) (model.ApprovalStatus, error) {
	return resilience.Call(ctx, s.r, "get approval status", func(ctx context.Context) (model.ApprovalStatus, error) {
		return s.next.GetApprovalStatus(ctx, studyID)
	})
}
