package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
	"github.com/JackSmack1971/personal-rag-copilot/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "ragcopilot"

// Server bridges MCP clients with the retrieval pipeline.
type Server struct {
	mcp    *mcp.Server
	app    *service.App
	logger *slog.Logger

	tools []ToolInfo
	calls map[string]func(context.Context, map[string]any) (any, error)
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates an MCP server over app. A nil logger uses slog.Default.
func NewServer(app *service.App, logger *slog.Logger) (*Server, error) {
	if app == nil {
		return nil, errors.New("pipeline is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app:    app,
		logger: logger,
		calls:  make(map[string]func(context.Context, map[string]any) (any, error)),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools in registration order.
func (s *Server) ListTools() []ToolInfo {
	return slices.Clone(s.tools)
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// transport. Results are the tool's structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	call, ok := s.calls[name]
	if !ok {
		return nil, NewMethodNotFoundError(name)
	}
	return call(ctx, args)
}

func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	addTool(s, ToolQuery, s.handleQuery, func(in QueryInput, out QueryOutput) string {
		return FormatQueryResults(in.Query, out)
	})
	addTool(s, ToolIngest, s.handleIngest, nil)
	addTool(s, ToolDeleteDocument, s.handleDeleteDocument, nil)
	addTool(s, ToolIndexStatus, s.handleIndexStatus, nil)
	addTool(s, ToolMetrics, s.handleMetrics, nil)
	addTool(s, ToolConfigGet, s.handleConfigGet, nil)
	addTool(s, ToolConfigSet, s.handleConfigSet, nil)
	addTool(s, ToolConfigRollback, s.handleConfigRollback, nil)

	s.logger.Info("MCP tools registered", slog.Int("count", len(s.tools)))
}

// addTool registers fn with the SDK and with CallTool. render, when set,
// supplies the text content shown alongside the structured output.
func addTool[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, error), render func(In, Out) string) {
	desc := toolDescriptions[name]
	call := func(ctx context.Context, in In) (Out, error) {
		return invoke(ctx, s.logger, name, func(ctx context.Context) (Out, error) {
			return fn(ctx, in)
		})
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: desc},
		func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
			out, err := call(ctx, in)
			if err != nil {
				var zero Out
				return nil, zero, err
			}
			if render == nil {
				return nil, out, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: render(in, out)}},
			}, out, nil
		})

	s.tools = append(s.tools, ToolInfo{Name: name, Description: desc})
	s.calls[name] = func(ctx context.Context, args map[string]any) (any, error) {
		var in In
		if err := decodeArgs(args, &in); err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		out, err := call(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	s.logger.Debug("Registered tool", slog.String("name", name))
}

// invoke runs one tool call with request-scoped logging and maps failures
// to MCP errors.
func invoke[Out any](ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) (Out, error)) (Out, error) {
	start := time.Now()
	requestID := generateRequestID()
	logger.Info("tool started",
		slog.String("request_id", requestID),
		slog.String("tool", name))

	out, err := fn(ctx)
	duration := time.Since(start)
	if err != nil {
		logger.Error("tool failed",
			slog.String("request_id", requestID),
			slog.String("tool", name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		var zero Out
		return zero, MapError(err)
	}

	logger.Info("tool completed",
		slog.String("request_id", requestID),
		slog.String("tool", name),
		slog.Duration("duration", duration))
	return out, nil
}

func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Serve runs the server on the given transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleQuery(ctx context.Context, in QueryInput) (QueryOutput, error) {
	resp, err := s.app.Query.Query(ctx, service.QueryRequest{
		Text:         in.Query,
		Mode:         in.Mode,
		TopK:         in.TopK,
		K:            in.RRFK,
		EnableRerank: in.Rerank,
		WDense:       in.WDense,
		WLexical:     in.WLexical,
		SessionID:    in.SessionID,
	})
	if err != nil {
		return QueryOutput{}, err
	}
	hits := resp.Hits
	if hits == nil {
		hits = []search.RetrievalHit{}
	}
	return QueryOutput{
		Results:   hits,
		Metadata:  resp.Metadata,
		SessionID: resp.SessionID,
		Params:    resp.Params,
	}, nil
}

func (s *Server) handleIngest(ctx context.Context, in IngestInput) (IngestOutput, error) {
	if len(in.Paths) == 0 && len(in.Texts) == 0 {
		return IngestOutput{}, NewInvalidParamsError("paths or texts is required")
	}

	total := IngestOutput{IDs: []string{}}
	if len(in.Paths) > 0 {
		res, err := s.app.Ingest.IngestFiles(ctx, in.Paths)
		if err != nil {
			return IngestOutput{}, err
		}
		mergeIngest(&total, res)
	}
	if len(in.Texts) > 0 {
		source := in.Source
		if source == "" {
			source = "mcp"
		}
		res, err := s.app.Ingest.IngestTexts(ctx, source, in.Texts)
		if err != nil {
			return IngestOutput{}, err
		}
		mergeIngest(&total, res)
	}
	return total, nil
}

func mergeIngest(total *IngestOutput, res service.IngestResult) {
	total.Files += res.Files
	total.Chunks += res.Chunks
	total.IDs = append(total.IDs, res.IDs...)
	total.Skipped = append(total.Skipped, res.Skipped...)
	total.LatencyMS += res.LatencyMS
}

func (s *Server) handleDeleteDocument(ctx context.Context, in DeleteDocumentInput) (DeleteDocumentOutput, error) {
	if in.ID == "" {
		return DeleteDocumentOutput{}, NewInvalidParamsError("id is required")
	}
	if err := s.app.Ingest.DeleteDocument(ctx, in.ID); err != nil {
		return DeleteDocumentOutput{}, err
	}
	return DeleteDocumentOutput{ID: in.ID, Deleted: true, Remaining: s.app.Lexical.Len()}, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, _ IndexStatusInput) (IndexStatusOutput, error) {
	return IndexStatusOutput{
		Health: s.app.Ingest.Health(ctx),
		Stats:  s.app.Ingest.Stats(),
	}, nil
}

func (s *Server) handleMetrics(_ context.Context, _ MetricsInput) (MetricsOutput, error) {
	policy := s.app.Config.Policy()
	out := MetricsOutput{
		Modes:           LatencyByMode(s.app),
		TargetP95MS:     policy.TargetP95MS,
		AutoTuneEnabled: policy.AutoTuneEnabled,
		Locks:           policy.Locks,
	}
	if out.Locks == nil {
		out.Locks = []string{}
	}
	return out, nil
}

// LatencyByMode lists the rolling p95 of every mode that has samples,
// sorted by mode name.
func LatencyByMode(app *service.App) []ModeLatency {
	p95 := app.Dashboard.P95Metrics()
	rows := make([]ModeLatency, 0, len(p95))
	for _, mode := range app.Dashboard.Modes() {
		rows = append(rows, ModeLatency{
			Mode:    mode,
			Samples: len(app.Dashboard.Samples(mode)),
			P95MS:   p95[mode],
		})
	}
	slices.SortFunc(rows, func(a, b ModeLatency) int {
		switch {
		case a.Mode < b.Mode:
			return -1
		case a.Mode > b.Mode:
			return 1
		}
		return 0
	})
	return rows
}

func (s *Server) handleConfigGet(_ context.Context, in ConfigGetInput) (ConfigGetOutput, error) {
	out := ConfigGetOutput{Layer: "resolved", Version: s.app.Config.Version()}
	settings := s.app.Config.Resolved()
	if in.Layer != "" {
		layer, err := config.ParseLayer(in.Layer)
		if err != nil {
			return ConfigGetOutput{}, NewInvalidParamsError(err.Error())
		}
		settings = s.app.Config.Layer(layer)
		out.Layer = layer.String()
	}

	if in.Key == "" {
		out.Values = config.Flatten(settings)
		return out, nil
	}
	v, set, err := settings.Get(in.Key)
	if err != nil {
		return ConfigGetOutput{}, err
	}
	out.Values = map[string]string{}
	if set {
		out.Values[in.Key] = v
	}
	return out, nil
}

func (s *Server) handleConfigSet(_ context.Context, in ConfigSetInput) (ConfigSetOutput, error) {
	if in.Key == "" {
		return ConfigSetOutput{}, NewInvalidParamsError("key is required")
	}
	if err := s.app.Config.Set(config.LayerRuntime, in.Key, in.Value); err != nil {
		return ConfigSetOutput{}, err
	}
	v, _, err := s.app.Config.Get(in.Key)
	if err != nil {
		return ConfigSetOutput{}, err
	}
	return ConfigSetOutput{Key: in.Key, Value: v, Version: s.app.Config.Version()}, nil
}

func (s *Server) handleConfigRollback(_ context.Context, in ConfigRollbackInput) (ConfigRollbackOutput, error) {
	steps := in.Steps
	if steps == 0 {
		steps = 1
	}
	resolved, err := s.app.Config.Rollback(steps)
	if err != nil {
		return ConfigRollbackOutput{}, err
	}
	return ConfigRollbackOutput{Version: s.app.Config.Version(), Values: config.Flatten(resolved)}, nil
}
