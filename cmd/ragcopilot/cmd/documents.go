package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JackSmack1971/personal-rag-copilot/internal/output"
	"github.com/JackSmack1971/personal-rag-copilot/internal/profiling"
)

func newDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a chunk from the corpus",
		Long: `Remove a chunk from both indexes by id. IDs are shown by query and list.
Deleted ids are never reused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := root.openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Ingest.DeleteDocument(ctx, args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %s (%d chunk(s) remain)", args[0], app.Lexical.Len())
			return nil
		},
	}
}

func newUpdateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <text>",
		Short: "Replace the text of a chunk",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := root.openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Ingest.UpdateDocument(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Updated %s", args[0])
			return nil
		},
	}
}

func newListCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(cmd.OutOrStdout())
			entries := app.Ingest.Entries()
			if asJSON {
				return out.JSON(entries)
			}
			if len(entries) == 0 {
				out.Status("", "Corpus is empty. Add documents with: ragcopilot ingest <paths>")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%6s  %s[%d]  %s\n",
					e.ID, e.Source, e.Chunk, output.Snippet(e.Text, 60))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output entries as JSON")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and corpus statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := root.openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			health := app.Ingest.Health(ctx)
			stats := app.Ingest.Stats()
			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(map[string]any{"health": health, "stats": stats})
			}

			out.Header("Index Status")
			if health.Dense.Valid {
				out.Successf("dense: %d vector(s), model %s", health.Dense.Vectors, stats.Model)
			} else {
				out.Warningf("dense: index not valid (%d vector(s))", health.Dense.Vectors)
			}
			if health.Lexical.Ready {
				out.Successf("lexical: %d document(s), backend %s", health.Lexical.Documents, health.Lexical.Backend)
			} else {
				out.Warningf("lexical: empty (backend %s)", health.Lexical.Backend)
			}
			out.Newline()
			corpus := map[string]string{
				"chunks":          fmt.Sprint(stats.Chunks),
				"sources":         fmt.Sprint(stats.Sources),
				"terms":           fmt.Sprint(stats.Terms),
				"avg_chunk_terms": fmt.Sprintf("%.1f", stats.AvgChunkLen),
				"data_dir":        app.Paths.DataDir,
			}
			if info, err := os.Stat(app.Paths.CorpusPath()); err == nil {
				corpus["snapshot_size"] = profiling.FormatBytes(uint64(info.Size()))
			}
			out.Settings("Corpus", corpus)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}
