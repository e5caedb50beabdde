// Package embedder defines the boundary to the external embedding provider.
// The memory core never computes embeddings itself; it hands text across
// this interface and treats failure as "no embedding for this turn yet",
// never as fatal.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"komalam/pkg/protocol"
)

// Provider produces a fixed-dimension embedding vector for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim returns the dimension of vectors this provider emits.
	Dim() int
}

// OllamaProvider calls a local Ollama HTTP API to produce embeddings.
type OllamaProvider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOllamaProvider creates a provider that calls the Ollama API at baseURL
// with the given embedding model (e.g. "all-minilm" at dim 384).
func NewOllamaProvider(baseURL, model string, dim int) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{},
	}
}

// Dim returns the configured embedding dimension.
func (o *OllamaProvider) Dim() int { return o.dim }

// ollamaEmbedRequest is the JSON body for the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse is the JSON response from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed produces a single embedding vector for the given text. Transport
// and protocol failures come back as ProviderError; a vector of the wrong
// length comes back as DimensionMismatchError so the caller leaves the turn
// full-text-only rather than poisoning the vector space.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &protocol.ProviderError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &protocol.ProviderError{Provider: "ollama", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var embedResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, &protocol.ProviderError{Provider: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(embedResp.Embeddings) == 0 {
		return nil, &protocol.ProviderError{Provider: "ollama", Err: fmt.Errorf("empty embeddings")}
	}

	vec := embedResp.Embeddings[0]
	if len(vec) != o.dim {
		return nil, &protocol.DimensionMismatchError{Want: o.dim, Got: len(vec)}
	}
	return vec, nil
}

// Mock is a test double that returns deterministic unit vectors derived
// from a hash of the input text. Similar inputs do not get similar vectors;
// it only guarantees stability and correct dimension.
type Mock struct {
	Dims int
	// Fail makes every Embed call return a ProviderError, for exercising
	// the degraded full-text-only path.
	Fail bool
}

// Dim returns the mock's vector dimension.
func (m *Mock) Dim() int { return m.Dims }

// Embed returns a deterministic unit vector for the given text.
func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Fail {
		return nil, &protocol.ProviderError{Provider: "mock", Err: fmt.Errorf("provider down")}
	}
	return deterministicVector(text, m.Dims), nil
}

// deterministicVector produces a unit vector from a text string.
// Uses a simple hash to seed an LCG, then normalizes to unit length.
func deterministicVector(text string, dims int) []float32 {
	vec := make([]float64, dims)
	h := uint64(0)
	for _, c := range text {
		h = h*31 + uint64(c)
	}
	for i := range dims {
		h = h*6364136223846793005 + 1442695040888963407
		vec[i] = (float64(h)/float64(math.MaxUint64))*2 - 1
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	for i, v := range vec {
		if norm > 0 {
			out[i] = float32(v / norm)
		}
	}
	return out
}
