package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderStatic hashes text locally; always available.
	ProviderStatic ProviderType = "static"

	// ProviderOllama calls a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI calls an OpenAI-compatible /embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   ProviderType
	Model      string
	Host       string // Ollama host or OpenAI base URL
	APIKey     string // defaults to $OPENAI_API_KEY
	Dimensions int
	CacheSize  int // 0 uses the default, < 0 disables caching

	// Fallback switches to the static embedder when Ollama is unreachable.
	// Dimensions are kept so an existing dense index stays usable.
	Fallback bool
}

// NewEmbedder builds the embedder described by opts, wrapped in a cache.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch ProviderType(strings.ToLower(string(opts.Provider))) {
	case ProviderStatic, "":
		e = NewStaticEmbedder(opts.Dimensions)

	case ProviderOllama:
		e, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       opts.Host,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})
		if err != nil && opts.Fallback {
			slog.Warn("ollama unavailable, using static embeddings",
				slog.String("host", opts.Host),
				slog.String("error", err.Error()))
			e, err = NewStaticEmbedder(opts.Dimensions), nil
		}

	case ProviderOpenAI:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:         key,
			BaseURL:        opts.Host,
			Model:          opts.Model,
			Dimensions:     opts.Dimensions,
			SendDimensions: strings.HasPrefix(opts.Model, "text-embedding-3"),
		})

	default:
		return nil, ragerrors.ValidationError(
			fmt.Sprintf("unknown embedding provider %q", opts.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder ready",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))

	if opts.CacheSize < 0 {
		return e, nil
	}
	return NewCachedEmbedder(e, opts.CacheSize), nil
}
