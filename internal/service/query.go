package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
	"github.com/JackSmack1971/personal-rag-copilot/internal/tuner"
)

// Parameter defaults when the resolved configuration leaves them unset.
const (
	defaultTopK    = 5
	defaultRRFK    = 60
	defaultWeight  = 1.0
	defaultMaxTopK = 50
)

// QueryRequest is one user query. Nil overrides take the configured value.
type QueryRequest struct {
	Text         string   `json:"query"`
	Mode         string   `json:"mode,omitempty"`
	TopK         *int     `json:"top_k,omitempty"`
	K            *int     `json:"rrf_k,omitempty"`
	EnableRerank *bool    `json:"enable_rerank,omitempty"`
	WDense       *float64 `json:"w_dense,omitempty"`
	WLexical     *float64 `json:"w_lexical,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

// QueryResponse is the ranked results plus everything that explains them.
type QueryResponse struct {
	Hits      []search.RetrievalHit `json:"results"`
	Metadata  search.QueryMetadata  `json:"metadata"`
	SessionID string                `json:"session_id"`
	Params    tuner.Params          `json:"params"`
}

// QueryService resolves parameters, lets the auto-tuner lower them, runs
// the retriever and records latency.
type QueryService struct {
	store     *config.Store
	retriever *search.HybridRetriever
	tracker   *telemetry.Tracker
	tuner     *tuner.AutoTuner
}

// NewQueryService wires a QueryService. tuner may be nil.
func NewQueryService(store *config.Store, retriever *search.HybridRetriever, tracker *telemetry.Tracker, t *tuner.AutoTuner) *QueryService {
	return &QueryService{store: store, retriever: retriever, tracker: tracker, tuner: t}
}

// Query runs req. An empty query or unknown mode is rejected before any
// retriever runs; retriever failures degrade the result instead.
func (q *QueryService) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return QueryResponse{}, ragerrors.New(ragerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		return QueryResponse{}, err
	}

	cfg := q.store.Resolved()
	params := tuner.Params{
		TopK:         config.Or(req.TopK, config.Or(cfg.TopK, defaultTopK)),
		K:            config.Or(req.K, config.Or(cfg.RRFK, defaultRRFK)),
		EnableRerank: config.Or(req.EnableRerank, config.Or(cfg.EnableRerank, false)),
	}
	if params.TopK < 1 {
		return QueryResponse{}, ragerrors.ValidationError(
			fmt.Sprintf("top_k must be at least 1, got %d", params.TopK), nil)
	}
	maxTopK := cfg.Policy().MaxTopK
	if maxTopK <= 0 {
		maxTopK = defaultMaxTopK
	}
	params.TopK = min(params.TopK, maxTopK)

	if q.tuner != nil {
		// A parameter the request pinned is left alone for that request.
		if tuned, changed := q.tuner.Step(string(mode), params); changed != "" && !explicit(req, changed) {
			q.persistTuned(changed, tuned)
			params = tuned
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var (
		hits []search.RetrievalHit
		meta search.QueryMetadata
	)
	m, err := q.tracker.Track(string(mode), func() error {
		var qerr error
		hits, meta, qerr = q.retriever.Query(ctx, search.QueryRequest{
			Text:         req.Text,
			Mode:         mode,
			TopK:         params.TopK,
			K:            params.K,
			WDense:       config.Or(req.WDense, config.Or(cfg.WDense, defaultWeight)),
			WLexical:     config.Or(req.WLexical, config.Or(cfg.WLexical, defaultWeight)),
			EnableRerank: params.EnableRerank,
			SessionID:    sessionID,
			Timeout:      rerankTimeout(cfg),
		})
		return qerr
	})
	if err != nil {
		return QueryResponse{}, err
	}

	metrics := m.Fields()
	metrics["mode"] = string(mode)
	metrics["top_k"] = params.TopK
	metrics["rrf_k"] = params.K
	metrics["enable_rerank"] = params.EnableRerank
	meta.Metrics = metrics

	q.tracker.Dashboard().Log(telemetry.Record{
		Kind:      telemetry.KindQuery,
		Mode:      string(mode),
		LatencyMS: m.LatencyMS,
		Fields: map[string]any{
			"results":  len(hits),
			"reranked": meta.Reranked,
			"p95_ms":   m.P95MS,
		},
	})

	return QueryResponse{Hits: hits, Metadata: meta, SessionID: sessionID, Params: params}, nil
}

// explicit reports whether the request pinned the tuned parameter itself.
// A one-off override is not a configuration change.
func explicit(req QueryRequest, param string) bool {
	switch param {
	case tuner.ParamTopK:
		return req.TopK != nil
	case tuner.ParamRRFK:
		return req.K != nil
	case tuner.ParamEnableRerank:
		return req.EnableRerank != nil
	}
	return false
}

// persistTuned writes a tuner step to the runtime layer so the lowered
// value sticks for later queries.
func (q *QueryService) persistTuned(param string, p tuner.Params) {
	err := q.store.UpdateLayer(config.LayerRuntime, func(cur *config.Settings) error {
		switch param {
		case tuner.ParamTopK:
			cur.TopK = config.Ptr(p.TopK)
		case tuner.ParamRRFK:
			cur.RRFK = config.Ptr(p.K)
		case tuner.ParamEnableRerank:
			cur.EnableRerank = config.Ptr(p.EnableRerank)
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to persist tuned parameter",
			slog.String("param", param),
			slog.String("error", err.Error()))
	}
}
