package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/memerr"
)

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
// Works against OpenAI, Voyage, and local servers (Ollama, LM Studio).
type OpenAIEmbedder struct {
	client    *http.Client
	transport *http.Transport
	endpoint  string
	model     string
	apiKey    string
	batchSize int
	timeout   time.Duration
	dims      int

	mu     sync.Mutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder from configuration. The API key is
// read from the environment variable named in the config; a missing key is
// allowed for local providers.
func NewOpenAIEmbedder(cfg config.EmbedderConfig, dims int) (*OpenAIEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}

	return &OpenAIEmbedder{
		// No client-level timeout: per-request context timeouts apply.
		client:    &http.Client{Transport: transport},
		transport: transport,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    os.Getenv(cfg.APIKeyEnv),
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		dims:      dims,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into provider-sized
// sub-batches. Each sub-batch is retried up to 3 times with exponential
// backoff (1s, 2s, 4s); on exhaustion the whole call fails and the caller
// records embeddingStatus=failed for the affected chunks.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.Unlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var vectors [][]float32
		err := memerr.Retry(ctx, memerr.DefaultRetryConfig(), func() error {
			var callErr error
			vectors, callErr = e.call(ctx, texts[start:end])
			return callErr
		})
		if err != nil {
			return nil, memerr.New(memerr.KindTransient, "embed batch", err).
				WithRemediation("check the embedding provider endpoint and API key")
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// call performs one provider round-trip.
func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("provider returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != e.dims {
			return nil, fmt.Errorf("provider returned %d dimensions, want %d", len(item.Embedding), e.dims)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the provider model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Close releases idle connections. Safe to call multiple times.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
