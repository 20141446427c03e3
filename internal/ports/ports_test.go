package ports

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/claimgate/internal/cache"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/resilience"
)

type countingStore struct {
	calls    atomic.Int32
	failures int32
}

func (s *countingStore) GetManuscript(_ context.Context, id string) (*model.Manuscript, error) {
	if n := s.calls.Add(1); n <= s.failures {
		return nil, errors.New("connection reset")
	}
	if id == "missing" {
		return nil, model.NewNotFound("manuscript", id)
	}
	return &model.Manuscript{ID: id, Title: "T", Sections: map[string]string{"Results": "x"}}, nil
}

func (s *countingStore) GetManifest(_ context.Context, id string) (*model.Manifest, error) {
	s.calls.Add(1)
	return &model.Manifest{ID: id, Entries: []model.ManifestEntry{{OutcomeName: "tumor size"}}}, nil
}

func (s *countingStore) GetVariable(_ context.Context, id string) (model.Variable, error) {
	s.calls.Add(1)
	return model.Variable{ID: id, Name: "size_mm"}, nil
}

func (s *countingStore) GetApprovalStatus(context.Context, string) (model.ApprovalStatus, error) {
	s.calls.Add(1)
	return model.ApprovalStatus{Status: model.ApprovalApproved}, nil
}

func collaborators(s *countingStore) Collaborators {
	return Collaborators{Manuscripts: s, Manifests: s, Variables: s, Approvals: s}
}

func fastRetrier(attempts int) *resilience.Retrier {
	return resilience.NewRetrier(resilience.Policy{Attempts: attempts}, nil)
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	store := &countingStore{failures: 2}
	c := Resilient(collaborators(store), fastRetrier(3))

	ms, err := c.Manuscripts.GetManuscript(context.Background(), "ms-1")
	require.NoError(t, err)
	assert.Equal(t, "ms-1", ms.ID)
	assert.EqualValues(t, 3, store.calls.Load())
}

func TestResilient_ExhaustedBudget(t *testing.T) {
	store := &countingStore{failures: 10}
	c := Resilient(collaborators(store), fastRetrier(2))

	_, err := c.Manuscripts.GetManuscript(context.Background(), "ms-1")
	var ete *model.ExternalTimeoutError
	require.ErrorAs(t, err, &ete)
	assert.Equal(t, "get manuscript", ete.Operation)
	assert.Equal(t, 2, ete.Attempts)
}

func TestResilient_NotFoundIsNotRetried(t *testing.T) {
	store := &countingStore{}
	c := Resilient(collaborators(store), fastRetrier(3))

	_, err := c.Manuscripts.GetManuscript(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestCached_ReadThroughExceptApprovals(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{}
	c := Cached(collaborators(store), cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	for range 3 {
		m, err := c.Manifests.GetManifest(ctx, "man-1")
		require.NoError(t, err)
		assert.Equal(t, "tumor size", m.Entries[0].OutcomeName)
	}
	assert.EqualValues(t, 1, store.calls.Load())

	for range 2 {
		v, err := c.Variables.GetVariable(ctx, "var-1")
		require.NoError(t, err)
		assert.Equal(t, "size_mm", v.Name)
	}
	assert.EqualValues(t, 2, store.calls.Load())

	for range 2 {
		_, err := c.Approvals.GetApprovalStatus(ctx, "study-1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 4, store.calls.Load())
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	store := &countingStore{}
	c := Cached(collaborators(store), cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	for range 2 {
		_, err := c.Manuscripts.GetManuscript(context.Background(), "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
	assert.EqualValues(t, 2, store.calls.Load())
}
