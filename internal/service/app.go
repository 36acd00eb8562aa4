// Package service assembles the retrieval pipeline: configuration, both
// indexes, the hybrid retriever, telemetry and the auto-tuner. The CLI and
// the MCP server share one App.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/JackSmack1971/personal-rag-copilot/internal/chunk"
	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	"github.com/JackSmack1971/personal-rag-copilot/internal/embed"
	"github.com/JackSmack1971/personal-rag-copilot/internal/retrieval"
	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
	"github.com/JackSmack1971/personal-rag-copilot/internal/tuner"
)

// Options configures NewApp.
type Options struct {
	Paths Paths

	// CLI is the --set layer.
	CLI config.Settings

	// DotEnv files are loaded before the environment layer is read.
	DotEnv []string

	// Env replaces the process environment lookup, for tests.
	Env func(string) (string, bool)

	// Probe replaces host accelerator detection.
	Probe *config.DeviceProbe

	// Ephemeral keeps the corpus, dense graph and latency samples in memory.
	Ephemeral bool

	Logger *slog.Logger
}

// App is the wired pipeline.
type App struct {
	Paths     Paths
	Config    *config.Store
	Embedder  embed.Embedder
	Lexical   *retrieval.LexicalIndex
	Dense     *retrieval.DenseIndex
	Reranker  *search.Reranker
	Retriever *search.HybridRetriever
	Dashboard *telemetry.Dashboard
	Tracker   *telemetry.Tracker
	Tuner     *tuner.AutoTuner
	Ingest    *IngestService
	Query     *QueryService

	latency *telemetry.SQLiteLatencyStore
	closers []func() error
}

// NewApp loads configuration, builds every component and restores the
// persisted corpus and latency windows.
func NewApp(ctx context.Context, opts Options) (app *App, err error) {
	if opts.Paths.DataDir == "" {
		opts.Paths = DefaultPaths()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewConfigStore(opts)
	if err != nil {
		return nil, err
	}

	app = &App{Paths: opts.Paths, Config: store}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	cfg := store.Resolved()

	app.Embedder, err = NewEmbedderFromSettings(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Embedder.Close)

	lexDir := ""
	if !opts.Ephemeral {
		lexDir = opts.Paths.IndexDir()
	}
	app.Lexical, err = retrieval.NewLexicalIndex(retrieval.LexicalConfig{
		Backend: config.Or(cfg.LexicalBackend, ""),
		Dir:     lexDir,
		Name:    config.Or(cfg.LexicalIndex, "lexical"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}
	app.closers = append(app.closers, app.Lexical.Close)

	denseName := config.Or(cfg.DenseIndex, "dense")
	app.Dense, err = retrieval.NewDenseIndex(app.Embedder, retrieval.DenseConfig{Name: denseName})
	if err != nil {
		return nil, fmt.Errorf("failed to create dense index: %w", err)
	}
	app.closers = append(app.closers, app.Dense.Close)

	scorer, err := NewScorerFromSettings(cfg)
	if err != nil {
		return nil, err
	}
	app.Reranker, err = search.NewReranker(scorer, rerankerConfig(cfg))
	if err != nil {
		return nil, err
	}

	app.Retriever, err = search.NewHybridRetriever(app.Dense, app.Lexical, app.Reranker)
	if err != nil {
		_ = app.Reranker.Close()
		return nil, err
	}
	// The retriever owns the reranker.
	app.closers = append(app.closers, app.Retriever.Close)

	policy := store.Policy()
	metricsPath := ""
	if !opts.Ephemeral {
		metricsPath = opts.Paths.MetricsPath()
	}
	app.latency, err = telemetry.OpenSQLiteLatencyStore(metricsPath, policy.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics store: %w", err)
	}
	app.closers = append(app.closers, app.latency.Close)

	app.Dashboard = telemetry.NewDashboard(policy.WindowSize, telemetry.WithStore(app.latency))
	if err := app.Dashboard.Restore(); err != nil {
		logger.Warn("failed to restore latency windows", slog.String("error", err.Error()))
	}
	app.Tracker = telemetry.NewTracker(app.Dashboard)
	app.Tuner = tuner.New(store, app.Dashboard)

	ingestCfg := IngestConfig{
		Lexical:   app.Lexical,
		Dense:     app.Dense,
		Chunker:   chunk.NewWordChunker(),
		Dashboard: app.Dashboard,
	}
	if !opts.Ephemeral {
		ingestCfg.SnapshotPath = opts.Paths.CorpusPath()
		ingestCfg.DensePath = opts.Paths.DensePath(denseName)
	}
	app.Ingest, err = NewIngestService(ingestCfg)
	if err != nil {
		return nil, err
	}
	if err := app.Ingest.Restore(ctx); err != nil {
		return nil, err
	}

	app.Query = NewQueryService(store, app.Retriever, app.Tracker, app.Tuner)
	store.OnChange(app.applyLiveSettings(cfg, logger))

	logger.Debug("pipeline ready",
		slog.String("data_dir", opts.Paths.DataDir),
		slog.String("embedder", app.Embedder.ModelName()),
		slog.String("lexical_backend", app.Lexical.Backend()),
		slog.Int("chunks", app.Lexical.Len()))
	return app, nil
}

// applyLiveSettings returns a listener that carries the settings that can
// change without a restart into the running components: the rerank cache
// TTL and the latency window size. Everything else applies on next start.
func (a *App) applyLiveSettings(initial config.Settings, logger *slog.Logger) config.Listener {
	var mu sync.Mutex
	ttl := rerankerConfig(initial).CacheTTL
	return func(resolved config.Settings) {
		mu.Lock()
		defer mu.Unlock()
		if next := rerankerConfig(resolved).CacheTTL; next != ttl {
			ttl = next
			a.Reranker.SetCacheTTL(next)
			logger.Info("rerank cache ttl changed", slog.Duration("ttl", next))
		}
		if size := resolved.Policy().WindowSize; size != a.Dashboard.Capacity() {
			a.Dashboard.Resize(size)
			logger.Info("latency window resized", slog.Int("window_size", size))
		}
	}
}

// NewConfigStore builds the layered store alone: defaults (embedded plus
// settings file), environment, --set and the detected device in the runtime
// layer. Config commands use it without opening any index.
func NewConfigStore(opts Options) (*config.Store, error) {
	if opts.Paths.DataDir == "" {
		opts.Paths = DefaultPaths()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults, err := config.LoadDefaultsLayer(opts.Paths.SettingsPath)
	if err != nil {
		return nil, err
	}
	var env config.Settings
	if opts.Env != nil {
		env = config.EnvironmentLayer(opts.Env)
	} else {
		env = config.LoadEnvironment(opts.DotEnv...)
	}

	pref := config.Or(config.Merge(config.Merge(defaults, env), opts.CLI).DevicePreference, "auto")
	probe := config.SystemProbe()
	if opts.Probe != nil {
		probe = *opts.Probe
	}
	device := probe.DetectDevice(pref)

	return config.NewStore(defaults,
		config.WithLogger(logger),
		config.WithLayer(config.LayerEnvironment, env),
		config.WithLayer(config.LayerCLI, opts.CLI),
		config.WithLayer(config.LayerRuntime, config.Settings{Device: config.Ptr(device)}),
	)
}

// ResetRuntime drops operator and tuner overrides, keeping the detected
// device, so configured values apply again.
func (a *App) ResetRuntime() error {
	return a.Config.UpdateLayer(config.LayerRuntime, func(cur *config.Settings) error {
		*cur = config.Settings{Device: cur.Device}
		return nil
	})
}

// ResetMetrics clears the latency windows, the event log and the persisted
// samples, and forgets cached rerank orders.
func (a *App) ResetMetrics() error {
	a.Reranker.ClearCache()
	return a.Dashboard.Reset()
}

// WatchSettings reloads the settings file into the defaults layer until
// ctx is cancelled. Index and provider settings apply on the next start.
func (a *App) WatchSettings(ctx context.Context) error {
	if _, err := os.Stat(a.Paths.SettingsPath); err != nil {
		if err := os.MkdirAll(filepath.Dir(a.Paths.SettingsPath), 0o755); err != nil {
			return err
		}
	}
	return config.NewFileWatcher(a.Config, a.Paths.SettingsPath).Run(ctx)
}

// Close releases components in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
