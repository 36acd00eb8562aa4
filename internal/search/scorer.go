package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/store"
)

// Scorer rates how relevant each text is to query. Scores are only
// compared with each other; higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, query string, texts []string) ([]float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return f(ctx, query, texts)
}

// OverlapScorer scores by the share of distinct query terms a text
// contains, with term density breaking ties. It needs no model.
type OverlapScorer struct{}

var _ Scorer = OverlapScorer{}

// Score implements Scorer.
func (OverlapScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	terms := store.BuildStopWordMap(store.TokenizeText(query))
	scores := make([]float64, len(texts))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens := store.TokenizeText(text)
		if len(tokens) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(terms))
		hits := 0
		for _, tok := range tokens {
			if _, ok := terms[tok]; ok {
				hits++
				seen[tok] = struct{}{}
			}
		}
		coverage := float64(len(seen)) / float64(len(terms))
		density := float64(hits) / float64(len(tokens))
		scores[i] = coverage + 0.1*density
	}
	return scores, nil
}

// HTTPScorerConfig configures an HTTPScorer.
type HTTPScorerConfig struct {
	// Endpoint is the server base URL; requests go to Endpoint + "/rerank".
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// HTTPScorer calls a cross-encoder server speaking the text-embeddings-
// inference /rerank protocol:
//
//	POST /rerank {"query": "...", "texts": ["..."]} -> [{"index": 0, "score": 0.9}, ...]
type HTTPScorer struct {
	client  *http.Client
	cfg     HTTPScorerConfig
	breaker *ragerrors.CircuitBreaker
}

var _ Scorer = (*HTTPScorer)(nil)

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type teiRerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPScorer creates a scorer. It makes no request.
func NewHTTPScorer(cfg HTTPScorerConfig) (*HTTPScorer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ragerrors.ValidationError("reranker endpoint is required", nil)
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPScorer{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		}},
		cfg:     cfg,
		breaker: ragerrors.NewCircuitBreaker("reranker", ragerrors.WithMaxFailures(3)),
	}, nil
}

// Score implements Scorer. The caller's context carries the rerank deadline.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	return ragerrors.CircuitCall(s.breaker, func() ([]float64, error) {
		return s.score(ctx, query, texts)
	})
}

func (s *HTTPScorer) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(teiRerankRequest{
		Query: query, Texts: texts, Model: s.cfg.Model, RawScores: true, Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeScorerUnavailable, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, ragerrors.New(ragerrors.ErrCodeRerankFailed,
			fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var items []teiRerankItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(items) != len(texts) {
		return nil, ragerrors.New(ragerrors.ErrCodeRerankFailed,
			fmt.Sprintf("expected %d scores, got %d", len(texts), len(items)), nil)
	}
	scores := make([]float64, len(texts))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(scores) {
			return nil, ragerrors.New(ragerrors.ErrCodeRerankFailed,
				fmt.Sprintf("score index %d out of range", it.Index), nil)
		}
		scores[it.Index] = it.Score
	}
	return scores, nil
}

// Close drops idle connections.
func (s *HTTPScorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
