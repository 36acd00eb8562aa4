package cmd

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	"github.com/JackSmack1971/personal-rag-copilot/internal/output"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
)

func newMetricsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show rolling p95 latency per retrieval mode",
		Long: `Show the rolling p95 query latency per retrieval mode over the most
recent samples (performance_policy.window_size), with the configured
target. Samples persist across runs in the data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dash, policy, closeStore, err := openDashboard(root)
			if err != nil {
				return err
			}
			defer closeStore()

			p95 := dash.P95Metrics()
			rows := make([]output.LatencyRow, 0, len(p95))
			for _, mode := range sortedModes(dash) {
				rows = append(rows, output.LatencyRow{
					Mode:    mode,
					Samples: len(dash.Samples(mode)),
					P95MS:   p95[mode],
				})
			}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(map[string]any{
					"modes":             rows,
					"target_p95_ms":     policy.TargetP95MS,
					"auto_tune_enabled": policy.AutoTuneEnabled,
				})
			}
			out.LatencyTable(rows, policy.TargetP95MS)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.AddCommand(newMetricsResetCmd(root))
	return cmd
}

func newMetricsResetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all recorded latency samples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dash, _, closeStore, err := openDashboard(root)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := dash.Reset(); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("Latency samples cleared")
			return nil
		},
	}
}

// openDashboard loads persisted samples without opening the indexes.
func openDashboard(root *rootOptions) (*telemetry.Dashboard, config.Policy, func(), error) {
	store, err := root.openConfig()
	if err != nil {
		return nil, config.Policy{}, nil, err
	}
	policy := store.Policy()

	samples, err := telemetry.OpenSQLiteLatencyStore(root.paths().MetricsPath(), policy.WindowSize)
	if err != nil {
		return nil, config.Policy{}, nil, err
	}
	dash := telemetry.NewDashboard(policy.WindowSize, telemetry.WithStore(samples))
	if err := dash.Restore(); err != nil {
		_ = samples.Close()
		return nil, config.Policy{}, nil, err
	}
	return dash, policy, func() { _ = samples.Close() }, nil
}

func sortedModes(d *telemetry.Dashboard) []string {
	modes := d.Modes()
	slices.Sort(modes)
	return modes
}
