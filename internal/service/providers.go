package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	"github.com/JackSmack1971/personal-rag-copilot/internal/embed"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
)

// Reranker scorer providers.
const (
	ScorerOverlap = "overlap"
	ScorerHTTP    = "http"
)

// NewEmbedderFromSettings builds the dense-index embedder. An unreachable
// Ollama falls back to static embeddings of the configured dimension.
func NewEmbedderFromSettings(ctx context.Context, s config.Settings) (embed.Embedder, error) {
	es := config.Or(s.Embedder, config.EmbedderSettings{})
	provider := embed.ProviderType(strings.ToLower(config.Or(es.Provider, string(embed.ProviderStatic))))

	host := config.Or(es.Host, "")
	if provider == embed.ProviderOpenAI && host == embed.DefaultOllamaHost {
		// The shipped default host is Ollama's; let the client use its own.
		host = ""
	}
	model := config.Or(es.Model, "")
	if provider == embed.ProviderStatic {
		model = ""
	}

	e, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:   provider,
		Model:      model,
		Host:       host,
		Dimensions: config.Or(es.Dimensions, embed.StaticDimensions),
		CacheSize:  config.Or(es.CacheSize, embed.DefaultEmbeddingCacheSize),
		Fallback:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", provider, err)
	}
	return e, nil
}

// NewScorerFromSettings builds the relevance scorer the reranker uses.
func NewScorerFromSettings(s config.Settings) (search.Scorer, error) {
	rs := config.Or(s.Reranker, config.RerankerSettings{})
	switch p := strings.ToLower(config.Or(rs.Provider, ScorerOverlap)); p {
	case ScorerOverlap:
		return search.OverlapScorer{}, nil
	case ScorerHTTP:
		return search.NewHTTPScorer(search.HTTPScorerConfig{
			Endpoint: config.Or(rs.Endpoint, ""),
			Model:    config.Or(rs.Model, ""),
		})
	default:
		return nil, ragerrors.ValidationError(fmt.Sprintf("unknown reranker provider %q", p), nil).
			WithSuggestion("Use one of: overlap, http")
	}
}

// rerankerConfig maps settings onto the reranker's cache settings.
func rerankerConfig(s config.Settings) search.RerankerConfig {
	rs := config.Or(s.Reranker, config.RerankerSettings{})
	ttl := time.Duration(config.Or(rs.CacheTTLSeconds, 0)) * time.Second
	return search.RerankerConfig{CacheTTL: ttl}
}

// rerankTimeout is the per-call scorer deadline.
func rerankTimeout(s config.Settings) time.Duration {
	ms := config.Or(s.RerankTimeoutMS, 0)
	if ms <= 0 {
		return search.DefaultRerankTimeout
	}
	return time.Duration(ms) * time.Millisecond
}
