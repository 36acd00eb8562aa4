package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAIConfig configures an OpenAIEmbedder. BaseURL may point at any
// OpenAI-compatible server (vLLM, LM Studio, TEI's /v1).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // required; also sent as the dimensions parameter
	BatchSize  int
	Timeout    time.Duration

	// SendDimensions asks the server to truncate to Dimensions. Only
	// text-embedding-3 models accept it.
	SendDimensions bool

	Retry ragerrors.RetryConfig
}

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client  *openai.Client
	breaker *ragerrors.CircuitBreaker
	config  OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. It makes no request.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, ragerrors.ValidationError("openai embedder needs positive dimensions", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = ragerrors.DefaultRetryConfig()
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = ragerrors.IsRetryable
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(oc),
		breaker: ragerrors.NewCircuitBreaker("openai"),
		config:  cfg,
	}, nil
}

func (e *OpenAIEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Embed returns the embedding of one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in batches. Blank texts get a zero vector.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	out := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, e.config.Dimensions)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, t)
	}

	done := 0
	for _, batch := range batches(pending, e.config.BatchSize) {
		vecs, err := ragerrors.CircuitCall(e.breaker, func() ([][]float32, error) {
			return ragerrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
				return e.doEmbed(ctx, batch)
			})
		})
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			out[idx[done+j]] = normalizeVector(v)
		}
		done += len(batch)
	}
	return out, nil
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if e.config.SendDimensions {
		req.Dimensions = e.config.Dimensions
	}

	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		return nil, classifyOpenAIError(reqCtx, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
	}

	// Data carries its own index; servers are not required to keep order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", e.config.Dimensions, len(d.Embedding)), nil)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ragerrors.New(ragerrors.ErrCodeNetworkTimeout, "embedding request timed out", err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return ragerrors.NetworkError("embedding request failed", err)
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return ragerrors.New(ragerrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("embedding server returned status %d", status), err)
	}
	return ragerrors.New(ragerrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding server returned status %d", status), err)
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the configured model.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available is true while the breaker is closed.
func (e *OpenAIEmbedder) Available(context.Context) bool {
	return !e.isClosed() && e.breaker.State() != ragerrors.StateOpen
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
