package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const embeddingsDefaultModel = "text-embedding-3-small"

// OpenAIEmbeddings implements EmbeddingProvider against any
// OpenAI-compatible /embeddings endpoint.
type OpenAIEmbeddings struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

func NewOpenAIEmbeddings(apiKey, apiBase, model string) *OpenAIEmbeddings {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	if model == "" {
		model = embeddingsDefaultModel
	}
	return &OpenAIEmbeddings{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *OpenAIEmbeddings) Name() string  { return "openai" }
func (e *OpenAIEmbeddings) Model() string { return e.model }

func (e *OpenAIEmbeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, truncateErr(string(data)))
	}

	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range wire.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
