package similarity

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
}

// NewOpenAIEmbedder creates a new OpenAI embedder
func NewOpenAIEmbedder(config Config) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIEmbedder) Name() string {
	return "openai"
}

// Embed returns the embedding for text
func (p *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := openai.EmbeddingModel(p.config.Model)
	if model == "" {
		model = openai.SmallEmbedding3
	}

	timeout := p.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctxWithTimeout, openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned from OpenAI")
	}

	return resp.Data[0].Embedding, nil
}
