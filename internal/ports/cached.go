package ports

import (
	"context"
	"time"

	"github.com/ppiankov/claimgate/internal/cache"
	"github.com/ppiankov/claimgate/internal/model"
)

// Cached puts a read-through cache in front of manuscripts, manifests
// and variables. Approvals pass through untouched: a gate decision must
// see the provider's current answer.
func Cached(c Collaborators, store cache.Cache, ttl time.Duration) Collaborators {
	if store == nil {
		return c
	}
	return Collaborators{
		Manuscripts: &cachedManuscripts{next: c.Manuscripts, cache: store, ttl: ttl},
		Manifests:   &cachedManifests{next: c.Manifests, cache: store, ttl: ttl},
		Variables:   &cachedVariables{next: c.Variables, cache: store, ttl: ttl},
		Approvals:   c.Approvals,
	}
}

type cachedManuscripts struct {
	next  ManuscriptStore
	cache cache.Cache
	ttl   time.Duration
}

func (s *cachedManuscripts) GetManuscript(ctx context.Context, id string) (*model.Manuscript, error) {
	return cache.ReadThrough(ctx, s.cache, cache.Key("manuscript", id), s.ttl, func(ctx context.Context) (*model.Manuscript, error) {
		return s.next.GetManuscript(ctx, id)
	})
}

type cachedManifests struct {
	next  ManifestStore
	cache cache.Cache
	ttl   time.Duration
}

func (s *cachedManifests) GetManifest(ctx context.Context, id string) (*model.Manifest, error) {
	return cache.ReadThrough(ctx, s.cache, cache.Key("manifest", id), s.ttl, func(ctx context.Context) (*model.Manifest, error) {
		return s.next.GetManifest(ctx, id)
	})
}

type cachedVariables struct {
	next  VariableRegistry
	cache cache.Cache
	ttl   time.Duration
}

func (s *cachedVariables) GetVariable(ctx context.Context, id string) (model.Variable, error) {
	return cache.ReadThrough(ctx, s.cache, cache.Key("variable", id), s.ttl, func(ctx context.Context) (model.Variable, error) {
		return s.next.GetVariable(ctx, id)
	})
}
