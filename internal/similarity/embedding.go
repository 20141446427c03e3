package similarity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// EmbeddingScorer scores by cosine similarity of embeddings. Vectors are
// memoised by text hash so repeated scoring of the same text is stable.
type EmbeddingScorer struct {
	embedder Embedder
	memo     *gocache.Cache
}

// NewEmbeddingScorer wraps an embedder with a memo of the given TTL
func NewEmbeddingScorer(embedder Embedder, ttl time.Duration) *EmbeddingScorer {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &EmbeddingScorer{
		embedder: embedder,
		memo:     gocache.New(ttl, 10*time.Minute),
	}
}

// Name returns the method name
func (s *EmbeddingScorer) Name() string {
	return "embedding-cosine:" + s.embedder.Name()
}

// Score embeds both texts and returns their cosine, clamped to [0,1]
func (s *EmbeddingScorer) Score(ctx context.Context, a, b string) (float64, error) {
	if a == "" || b == "" {
		return 0, nil
	}
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(va), len(vb))
	}
	return Cosine(va, vb), nil
}

func (s *EmbeddingScorer) vector(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])

	if v, ok := s.memo.Get(key); ok {
		return v.([]float32), nil
	}

	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", s.embedder.Name(), err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%s returned an empty embedding", s.embedder.Name())
	}
	// First writer wins so concurrent callers settle on one vector
	if err := s.memo.Add(key, v, gocache.DefaultExpiration); err != nil {
		if existing, ok := s.memo.Get(key); ok {
			return existing.([]float32), nil
		}
	}
	return v, nil
}

// Cosine returns the cosine similarity of two vectors, clamped to [0,1]
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(round9(dot / (math.Sqrt(na) * math.Sqrt(nb))))
}
