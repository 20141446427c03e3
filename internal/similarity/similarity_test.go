package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/sashabaranov/go-openai"
)

func TestCosineTokens(t *testing.T) {
	a := "Tumor size reduction was significant in the treatment arm."

	if got := CosineTokens(a, a); got != 1 {
		t.Errorf("identical text should score 1, got %v", got)
	}
	if got := CosineTokens(a, "Completely unrelated sentence about weather."); got != 0 {
		t.Errorf("disjoint text should score 0, got %v", got)
	}
	if got := CosineTokens("", a); got != 0 {
		t.Errorf("empty text should score 0, got %v", got)
	}

	b := "The treatment arm showed significant tumor shrinkage."
	if CosineTokens(a, b) != CosineTokens(b, a) {
		t.Errorf("cosine should be symmetric")
	}
	if s := CosineTokens(a, b); s <= 0 || s >= 1 {
		t.Errorf("partial overlap should be in (0,1), got %v", s)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The p-value was 0.03, and N=120.")
	want := []string{"p", "value", "0.03", "n", "120"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

type countingEmbedder struct {
	calls   int32
	vectors map[string][]float32
	err     error
}

func (e *countingEmbedder) Name() string { return "fake" }

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func TestEmbeddingScorer_Memoizes(t *testing.T) {
	emb := &countingEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {1, 1},
	}}
	scorer := NewEmbeddingScorer(emb, time.Hour)

	first, err := scorer.Score(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	second, _ := scorer.Score(context.Background(), "a", "b")
	if first != second {
		t.Errorf("expected deterministic score, got %v then %v", first, second)
	}
	if math.Abs(first-math.Sqrt2/2) > 1e-6 {
		t.Errorf("expected cos 45deg, got %v", first)
	}
	if calls := atomic.LoadInt32(&emb.calls); calls != 2 {
		t.Errorf("expected 2 embed calls thanks to memo, got %d", calls)
	}
}

func TestEmbeddingScorer_Errors(t *testing.T) {
	scorer := NewEmbeddingScorer(&countingEmbedder{err: errors.New("boom")}, time.Hour)
	if _, err := scorer.Score(context.Background(), "a", "b"); err == nil {
		t.Error("expected embed error to propagate")
	}

	mismatch := NewEmbeddingScorer(&countingEmbedder{vectors: map[string][]float32{"a": {1}, "b": {1, 2}}}, time.Hour)
	if _, err := mismatch.Score(context.Background(), "a", "b"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestCosine_ClampsNegative(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); got != 0 {
		t.Errorf("opposite vectors should clamp to 0, got %v", got)
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Expected path /api/embeddings, got %s", r.URL.Path)
		}
		var req ollamaEmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{0.5, 0.25}})
	}))
	defer server.Close()

	embedder, err := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "nomic-embed-text", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	v, err := embedder.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.5 || v[1] != 0.25 {
		t.Errorf("unexpected vector %v", v)
	}
}

func TestOllamaEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "model not loaded"}`))
	}))
	defer server.Close()

	embedder, _ := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "m"})
	if _, err := embedder.Embed(context.Background(), "x"); err == nil {
		t.Error("expected API error")
	}

	if _, err := NewOllamaEmbedder(Config{}); err == nil {
		t.Error("expected missing model to be rejected")
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected path /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		resp := openai.EmbeddingResponse{
			Object: "list",
			Data:   []openai.Embedding{{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}},
			Model:  openai.SmallEmbedding3,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	v, err := embedder.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("unexpected vector %v", v)
	}

	if _, err := NewOpenAIEmbedder(Config{}); err == nil {
		t.Error("expected missing API key to be rejected")
	}
}

func TestNewScorer(t *testing.T) {
	s, err := NewScorer(model.SimilarityConfig{Method: "token"}, model.SourcesConfig{})
	if err != nil || s.Name() != "token-cosine" {
		t.Errorf("expected token scorer, got %v, %v", s, err)
	}

	if _, err := NewScorer(model.SimilarityConfig{Method: "embedding", Provider: "nope"}, model.SourcesConfig{}); err == nil {
		t.Error("expected unknown provider error")
	}
	if _, err := NewScorer(model.SimilarityConfig{Method: "psychic"}, model.SourcesConfig{}); err == nil {
		t.Error("expected unknown method error")
	}
}
