// Package similarity scores how closely a claim matches a cited excerpt.
//
// Every scorer must be deterministic for identical inputs and return a
// value in [0,1]. Embedding scorers are memoised per input text so a
// remote model cannot drift between two runs of the same verification.
package similarity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/claimgate/internal/model"
)

// Scorer computes a similarity score in [0,1]
type Scorer interface {
	// Name identifies the method, recorded on each external check
	Name() string

	// Score compares two texts
	Score(ctx context.Context, a, b string) (float64, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds embedding provider configuration
type Config struct {
	// Provider name: "openai", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MemoTTL bounds how long embeddings are remembered
	MemoTTL time.Duration

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewScorer builds the scorer selected by the configuration
func NewScorer(cfg model.SimilarityConfig, sources model.SourcesConfig) (Scorer, error) {
	switch strings.ToLower(cfg.Method) {
	case "", "token":
		return NewTokenCosine(), nil
	case "embedding":
		embedder, err := NewEmbedder(Config{
			Provider:   cfg.Provider,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MemoTTL:    cfg.MemoTTL,
			HTTPProxy:  sources.HTTPProxy,
			HTTPSProxy: sources.HTTPSProxy,
			NoProxy:    sources.NoProxy,
		})
		if err != nil {
			return nil, err
		}
		return NewEmbeddingScorer(embedder, cfg.MemoTTL), nil
	default:
		return nil, fmt.Errorf("unknown similarity method: %s (supported: token, embedding)", cfg.Method)
	}
}

// NewEmbedder creates an embedding provider
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIEmbedder(config)
	case "ollama":
		return NewOllamaEmbedder(config)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q (supported: openai, ollama)", config.Provider)
	}
}
