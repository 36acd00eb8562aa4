package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JackSmack1971/personal-rag-copilot/internal/output"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
)

type queryOptions struct {
	mode     string
	topK     int
	rrfK     int
	rerank   bool
	wDense   float64
	wLexical float64
	session  string
	json     bool
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the corpus",
		Long: `Search the corpus with hybrid retrieval.

Dense (embedding) and lexical (BM25) rankings are fused with weighted
Reciprocal Rank Fusion. Queries containing identifiers such as INC-4821,
or rare terms, weight the lexical side higher. If one retriever fails the
other's results are returned and the failure is reported.

Flags only apply to this query; configured values are left untouched.

Examples:
  ragcopilot query "why did the nightly backup fail"
  ragcopilot query INC-4821 --mode lexical
  ragcopilot query "certificate rotation" --top-k 10 --rerank
  ragcopilot query "vpn setup" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.QueryRequest{
				Text:      strings.Join(args, " "),
				Mode:      opts.mode,
				SessionID: opts.session,
			}
			flags := cmd.Flags()
			if flags.Changed("top-k") {
				req.TopK = &opts.topK
			}
			if flags.Changed("rrf-k") {
				req.K = &opts.rrfK
			}
			if flags.Changed("rerank") {
				req.EnableRerank = &opts.rerank
			}
			if flags.Changed("w-dense") {
				req.WDense = &opts.wDense
			}
			if flags.Changed("w-lexical") {
				req.WLexical = &opts.wLexical
			}
			return runQuery(cmd.Context(), cmd, root, req, opts.json)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: hybrid, dense, lexical")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 5, "Number of results")
	cmd.Flags().IntVar(&opts.rrfK, "rrf-k", 60, "RRF smoothing constant")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank fused candidates with the cross-encoder")
	cmd.Flags().Float64Var(&opts.wDense, "w-dense", 1.0, "Base weight of the dense ranking")
	cmd.Flags().Float64Var(&opts.wLexical, "w-lexical", 1.0, "Base weight of the lexical ranking")
	cmd.Flags().StringVar(&opts.session, "session", "", "Session id (reuses cached rerank orders)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")
	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, root *rootOptions, req service.QueryRequest, asJSON bool) error {
	app, err := root.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.Query.Query(ctx, req)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if asJSON {
		return out.JSON(resp)
	}
	out.Results(req.Text, resp.Hits, resp.Metadata)
	return nil
}
