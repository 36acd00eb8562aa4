package mcp

import (
	"github.com/JackSmack1971/personal-rag-copilot/internal/search"
	"github.com/JackSmack1971/personal-rag-copilot/internal/service"
	"github.com/JackSmack1971/personal-rag-copilot/internal/tuner"
)

// Tool names.
const (
	ToolQuery          = "query"
	ToolIngest         = "ingest"
	ToolDeleteDocument = "delete_document"
	ToolIndexStatus    = "index_status"
	ToolMetrics        = "metrics"
	ToolConfigGet      = "config_get"
	ToolConfigSet      = "config_set"
	ToolConfigRollback = "config_rollback"
)

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query     string   `json:"query" jsonschema:"the question or keywords to search the personal corpus for"`
	Mode      string   `json:"mode,omitempty" jsonschema:"retrieval mode: dense, lexical or hybrid (default hybrid)"`
	TopK      *int     `json:"top_k,omitempty" jsonschema:"number of results; defaults to the configured top_k"`
	RRFK      *int     `json:"rrf_k,omitempty" jsonschema:"reciprocal rank fusion constant; defaults to the configured rrf_k"`
	Rerank    *bool    `json:"rerank,omitempty" jsonschema:"rerank the fused candidates with the cross-encoder"`
	WDense    *float64 `json:"w_dense,omitempty" jsonschema:"base fusion weight of the dense retriever"`
	WLexical  *float64 `json:"w_lexical,omitempty" jsonschema:"base fusion weight of the lexical retriever"`
	SessionID string   `json:"session_id,omitempty" jsonschema:"session id scoping the rerank cache; generated when empty"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Results   []search.RetrievalHit `json:"results" jsonschema:"ranked chunks, best first"`
	Metadata  search.QueryMetadata  `json:"metadata" jsonschema:"mode, fusion weights, per-retriever scores, rerank state and latency"`
	SessionID string                `json:"session_id"`
	Params    tuner.Params          `json:"params" jsonschema:"parameters actually used, after auto-tuning"`
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	Paths  []string `json:"paths,omitempty" jsonschema:"files or directories (.txt, .md, .html) to ingest"`
	Texts  []string `json:"texts,omitempty" jsonschema:"raw texts to ingest"`
	Source string   `json:"source,omitempty" jsonschema:"source label recorded for raw texts"`
}

// IngestOutput defines the output schema for the ingest tool.
type IngestOutput = service.IngestResult

// DeleteDocumentInput defines the input schema for the delete_document tool.
type DeleteDocumentInput struct {
	ID string `json:"id" jsonschema:"document id as returned by query or ingest"`
}

// DeleteDocumentOutput defines the output schema for the delete_document tool.
type DeleteDocumentOutput struct {
	ID        string `json:"id"`
	Deleted   bool   `json:"deleted"`
	Remaining int    `json:"remaining"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Health service.Health      `json:"health"`
	Stats  service.CorpusStats `json:"stats"`
}

// MetricsInput defines the input schema for the metrics tool (no parameters).
type MetricsInput struct{}

// ModeLatency is one retrieval mode's rolling latency.
type ModeLatency struct {
	Mode    string  `json:"mode"`
	Samples int     `json:"samples"`
	P95MS   float64 `json:"p95_ms"`
}

// MetricsOutput defines the output schema for the metrics tool.
type MetricsOutput struct {
	Modes           []ModeLatency `json:"modes"`
	TargetP95MS     float64       `json:"target_p95_ms"`
	AutoTuneEnabled bool          `json:"auto_tune_enabled"`
	Locks           []string      `json:"locks"`
}

// ConfigGetInput defines the input schema for the config_get tool.
type ConfigGetInput struct {
	Key   string `json:"key,omitempty" jsonschema:"dotted setting key, e.g. performance_policy.target_p95_ms; all keys when empty"`
	Layer string `json:"layer,omitempty" jsonschema:"defaults, environment, cli or runtime; the resolved view when empty"`
}

// ConfigGetOutput defines the output schema for the config_get tool.
type ConfigGetOutput struct {
	Layer   string            `json:"layer"`
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// ConfigSetInput defines the input schema for the config_set tool.
type ConfigSetInput struct {
	Key   string `json:"key" jsonschema:"dotted setting key"`
	Value string `json:"value" jsonschema:"new value; tuner_locks takes a comma list"`
}

// ConfigSetOutput defines the output schema for the config_set tool.
type ConfigSetOutput struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int    `json:"version"`
}

// ConfigRollbackInput defines the input schema for the config_rollback tool.
type ConfigRollbackInput struct {
	Steps int `json:"steps,omitempty" jsonschema:"number of commits to undo, default 1"`
}

// ConfigRollbackOutput defines the output schema for the config_rollback tool.
type ConfigRollbackOutput struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

var toolDescriptions = map[string]string{
	ToolQuery:          "Search the personal knowledge corpus. Hybrid mode fuses semantic and keyword rankings, weighting keywords up for queries with identifiers like INC-4821 or rare terms. Returns ranked chunks with provenance and timing.",
	ToolIngest:         "Add files, directories or raw texts to the corpus. Text is split into overlapping word windows and indexed for both semantic and keyword search.",
	ToolDeleteDocument: "Remove one chunk from both indexes by id.",
	ToolIndexStatus:    "Report index health and corpus statistics: chunk counts, lexical backend and embedding model.",
	ToolMetrics:        "Rolling p95 latency per retrieval mode and the auto-tuning policy that reacts to it.",
	ToolConfigGet:      "Read resolved settings, or one configuration layer.",
	ToolConfigSet:      "Change a setting in the runtime layer. The change is validated as a whole and rejected without side effects if invalid.",
	ToolConfigRollback: "Undo the most recent configuration commits.",
}
