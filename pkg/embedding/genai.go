package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// maxEmbedRequest is the largest number of texts sent in one EmbedContent call.
const maxEmbedRequest = 100

type GenAIConfig struct {
	// APIKey is optional; the client falls back to GOOGLE_API_KEY / GEMINI_API_KEY.
	APIKey    string
	Model     string
	Dimension int
	TaskType  string
}

func (c *GenAIConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Dimension <= 0 {
		return errors.New("dimension must be positive")
	}
	if c.TaskType == "" {
		c.TaskType = "CLASSIFICATION"
	}
	return nil
}

// GenAIEncoder encodes texts with a Gemini embedding model.
type GenAIEncoder struct {
	cfg    GenAIConfig
	client *genai.Client
}

func NewGenAIEncoder(ctx context.Context, cfg GenAIConfig) (*GenAIEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %w", ErrEncoderUnavailable, err)
	}
	return &GenAIEncoder{cfg: cfg, client: client}, nil
}

func (e *GenAIEncoder) Dimension() int {
	return e.cfg.Dimension
}

func (e *GenAIEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	dim := int32(e.cfg.Dimension)
	out := make([][]float32, 0, len(texts))
	for _, batch := range chunk(texts, maxEmbedRequest) {
		contents := make([]*genai.Content, len(batch))
		for i, text := range batch {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}

		resp, err := e.client.Models.EmbedContent(ctx, e.cfg.Model, contents, &genai.EmbedContentConfig{
			TaskType:             e.cfg.TaskType,
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embed content: got %d embeddings for %d texts", len(resp.Embeddings), len(batch))
		}
		for _, emb := range resp.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
