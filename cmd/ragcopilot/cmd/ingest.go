package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/output"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
)

type ingestOptions struct {
	texts  []string
	source string
	json   bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Add files or text to the corpus",
		Long: `Chunk documents and add them to both the dense and lexical indexes.

Directories are walked recursively. Markdown, HTML and plain text are
supported; other files are reported as skipped. Chunk IDs are assigned
sequentially and survive restarts.

Examples:
  ragcopilot ingest ~/notes
  ragcopilot ingest report.md runbook.html
  ragcopilot ingest --text "INC-4821 was caused by an expired certificate"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(opts.texts) == 0 {
				return ragerrors.ValidationError("nothing to ingest", nil).
					WithSuggestion("Pass one or more paths, or --text")
			}
			return runIngest(cmd.Context(), cmd, root, args, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.texts, "text", nil, "Ingest literal text (repeatable)")
	cmd.Flags().StringVar(&opts.source, "source", "cli", "Source label for --text entries")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output result as JSON")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, paths []string, opts ingestOptions) error {
	app, err := root.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	res := service.IngestResult{IDs: []string{}}
	if len(paths) > 0 {
		r, err := app.Ingest.IngestFiles(ctx, paths)
		if err != nil {
			return err
		}
		res = addIngest(res, r)
	}
	if len(opts.texts) > 0 {
		r, err := app.Ingest.IngestTexts(ctx, opts.source, opts.texts)
		if err != nil {
			return err
		}
		res = addIngest(res, r)
	}

	out := output.New(cmd.OutOrStdout())
	if opts.json {
		return out.JSON(res)
	}
	for _, s := range res.Skipped {
		out.Warningf("skipped %s: %s", s.Path, s.Reason)
	}
	if res.Chunks == 0 {
		out.Warning("No chunks ingested")
		return nil
	}
	out.Successf("Ingested %d chunk(s) from %d file(s) in %.0fms", res.Chunks, res.Files, res.LatencyMS)
	out.Status("", fmt.Sprintf("ids %s..%s, corpus now %d chunk(s)",
		res.IDs[0], res.IDs[len(res.IDs)-1], app.Lexical.Len()))
	return nil
}

func addIngest(a, b service.IngestResult) service.IngestResult {
	a.Files += b.Files
	a.Chunks += b.Chunks
	a.IDs = append(a.IDs, b.IDs...)
	a.Skipped = append(a.Skipped, b.Skipped...)
	a.LatencyMS += b.LatencyMS
	return a
}
