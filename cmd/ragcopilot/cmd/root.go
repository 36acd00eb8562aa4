// Package cmd provides the CLI commands for ragcopilot.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/logging"
	"github.com/JackSmack1971/personal-rag-copilot/internal/profiling"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
	"github.com/JackSmack1971/personal-rag-copilot/pkg/version"
)

// rootOptions are the persistent flags plus hooks tests use to isolate the
// process environment.
type rootOptions struct {
	debug    bool
	dataDir  string
	settings string
	sets     []string
	envFiles []string

	profile  profiling.Options
	profiler *profiling.Profiler

	env   func(string) (string, bool)
	probe *config.DeviceProbe

	loggingCleanup func()
}

// NewRootCmd creates the root command for the ragcopilot CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragcopilot",
		Short: "Adaptive hybrid retrieval over your personal notes",
		Long: `ragcopilot answers queries over a personal document corpus by fusing
semantic (embedding) and keyword (BM25) rankings with Reciprocal Rank Fusion.

Queries with identifiers or rare terms lean on keyword search. An optional
cross-encoder reranks the fused candidates within a latency budget, and an
auto-tuner lowers retrieval cost when rolling p95 latency exceeds the target.

Configuration resolves defaults < environment < --set < runtime.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("ragcopilot version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.ragcopilot/logs/")
	pf.StringVar(&opts.dataDir, "data-dir", "", "Data directory (default $RAGCOPILOT_HOME or ~/.ragcopilot)")
	pf.StringVar(&opts.settings, "settings", "", "Settings file (default ~/.config/ragcopilot/settings.yaml)")
	pf.StringArrayVar(&opts.sets, "set", nil, "Override a setting for this run (key=value, repeatable)")
	pf.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Load environment overrides from these .env files")
	pf.StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.startProfilingAndLogging
	cmd.PersistentPostRunE = opts.stopProfilingAndLogging

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newUpdateCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newMetricsCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts any requested profiles, then sends
// warnings to stderr, or everything to the log file with --debug. serve
// replaces the logging with file-only output.
func (o *rootOptions) startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if o.profile.Enabled() {
		o.profiler = profiling.New(o.profile)
		if err := o.profiler.Start(); err != nil {
			o.profiler = nil
			return err
		}
	}
	if cmd.Name() == "serve" {
		return nil
	}
	if o.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		o.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
		return nil
	}
	slog.SetDefault(slog.New(logging.NewConsoleHandler(cmd.ErrOrStderr(), "warn")))
	return nil
}

func (o *rootOptions) stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
		slog.Debug("Profiling stopped",
			slog.String("cpu", o.profile.CPU),
			slog.String("heap", o.profile.Heap),
			slog.String("trace", o.profile.Trace))
	}
	if o.loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// paths resolves --data-dir and --settings.
func (o *rootOptions) paths() service.Paths {
	p := service.DefaultPaths()
	if o.dataDir != "" {
		p = service.PathsIn(o.dataDir)
	}
	if o.settings != "" {
		p.SettingsPath = o.settings
	}
	return p
}

// serviceOptions turns the persistent flags into pipeline options.
func (o *rootOptions) serviceOptions() (service.Options, error) {
	cli, err := config.ParseAssignments(o.sets)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		Paths:  o.paths(),
		CLI:    cli,
		DotEnv: o.envFiles,
		Env:    o.env,
		Probe:  o.probe,
		Logger: slog.Default(),
	}, nil
}

// openApp builds the full pipeline. Callers must Close it.
func (o *rootOptions) openApp(ctx context.Context) (*service.App, error) {
	opts, err := o.serviceOptions()
	if err != nil {
		return nil, err
	}
	return service.NewApp(ctx, opts)
}

// openConfig builds the config store alone, without opening any index.
func (o *rootOptions) openConfig() (*config.Store, error) {
	opts, err := o.serviceOptions()
	if err != nil {
		return nil, err
	}
	return service.NewConfigStore(opts)
}

// Execute runs the root command and prints any error with its hint.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), ragerrors.FormatForCLI(err))
	}
	return err
}
