package config

import (
	"os"
	"path/filepath"
	"slices"
)

// Settings is one configuration layer, or the resolved merge of all layers.
// Every field is optional: a nil pointer means "not set in this layer" and
// never erases a value from a lower-precedence layer.
type Settings struct {
	TopK         *int     `yaml:"top_k,omitempty" json:"top_k,omitempty" toml:"top_k,omitempty"`
	RRFK         *int     `yaml:"rrf_k,omitempty" json:"rrf_k,omitempty" toml:"rrf_k,omitempty"`
	EnableRerank *bool    `yaml:"enable_rerank,omitempty" json:"enable_rerank,omitempty" toml:"enable_rerank,omitempty"`
	WDense       *float64 `yaml:"w_dense,omitempty" json:"w_dense,omitempty" toml:"w_dense,omitempty"`
	WLexical     *float64 `yaml:"w_lexical,omitempty" json:"w_lexical,omitempty" toml:"w_lexical,omitempty"`

	// RerankTimeoutMS bounds a single rerank call.
	RerankTimeoutMS *int `yaml:"rerank_timeout_ms,omitempty" json:"rerank_timeout_ms,omitempty" toml:"rerank_timeout_ms,omitempty"`

	DevicePreference *string `yaml:"device_preference,omitempty" json:"device_preference,omitempty" toml:"device_preference,omitempty"`
	// Device is the detected compute backend; normally only the runtime layer sets it.
	Device    *string `yaml:"device,omitempty" json:"device,omitempty" toml:"device,omitempty"`
	Precision *string `yaml:"precision,omitempty" json:"precision,omitempty" toml:"precision,omitempty"`

	DenseIndex     *string `yaml:"dense_index,omitempty" json:"dense_index,omitempty" toml:"dense_index,omitempty"`
	LexicalIndex   *string `yaml:"lexical_index,omitempty" json:"lexical_index,omitempty" toml:"lexical_index,omitempty"`
	LexicalBackend *string `yaml:"lexical_backend,omitempty" json:"lexical_backend,omitempty" toml:"lexical_backend,omitempty"`

	EvaluationThresholds *EvaluationThresholds `yaml:"evaluation_thresholds,omitempty" json:"evaluation_thresholds,omitempty" toml:"evaluation_thresholds,omitempty"`
	PerformancePolicy    *PerformancePolicy    `yaml:"performance_policy,omitempty" json:"performance_policy,omitempty" toml:"performance_policy,omitempty"`
	Embedder             *EmbedderSettings     `yaml:"embedder,omitempty" json:"embedder,omitempty" toml:"embedder,omitempty"`
	Reranker             *RerankerSettings     `yaml:"reranker,omitempty" json:"reranker,omitempty" toml:"reranker,omitempty"`

	// TunerLocks names parameters the auto-tuner must never touch
	// (enable_rerank, top_k, rrf_k). A nil slice is "unset"; an empty
	// non-nil slice explicitly clears the locks of lower layers.
	TunerLocks []string `yaml:"tuner_locks,omitempty" json:"tuner_locks,omitempty" toml:"tuner_locks,omitempty"`
}

// EvaluationThresholds are minimum acceptable answer-quality scores (0..1).
type EvaluationThresholds struct {
	Faithfulness *float64 `yaml:"faithfulness,omitempty" json:"faithfulness,omitempty" toml:"faithfulness,omitempty"`
	Relevancy    *float64 `yaml:"relevancy,omitempty" json:"relevancy,omitempty" toml:"relevancy,omitempty"`
	Precision    *float64 `yaml:"precision,omitempty" json:"precision,omitempty" toml:"precision,omitempty"`
}

// PerformancePolicy drives the auto-tuner and the latency dashboard.
type PerformancePolicy struct {
	TargetP95MS            *int  `yaml:"target_p95_ms,omitempty" json:"target_p95_ms,omitempty" toml:"target_p95_ms,omitempty"`
	AutoTuneEnabled        *bool `yaml:"auto_tune_enabled,omitempty" json:"auto_tune_enabled,omitempty" toml:"auto_tune_enabled,omitempty"`
	MaxTopK                *int  `yaml:"max_top_k,omitempty" json:"max_top_k,omitempty" toml:"max_top_k,omitempty"`
	RerankDisableThreshold *int  `yaml:"rerank_disable_threshold,omitempty" json:"rerank_disable_threshold,omitempty" toml:"rerank_disable_threshold,omitempty"`
	WindowSize             *int  `yaml:"window_size,omitempty" json:"window_size,omitempty" toml:"window_size,omitempty"`
}

// EmbedderSettings selects the dense-index embedding backend.
type EmbedderSettings struct {
	// Provider is static, ollama, or openai.
	Provider   *string `yaml:"provider,omitempty" json:"provider,omitempty" toml:"provider,omitempty"`
	Model      *string `yaml:"model,omitempty" json:"model,omitempty" toml:"model,omitempty"`
	Host       *string `yaml:"host,omitempty" json:"host,omitempty" toml:"host,omitempty"`
	Dimensions *int    `yaml:"dimensions,omitempty" json:"dimensions,omitempty" toml:"dimensions,omitempty"`
	CacheSize  *int    `yaml:"cache_size,omitempty" json:"cache_size,omitempty" toml:"cache_size,omitempty"`
}

// RerankerSettings selects the relevance scorer used by the reranker.
type RerankerSettings struct {
	// Provider is overlap (offline) or http (cross-encoder server).
	Provider        *string `yaml:"provider,omitempty" json:"provider,omitempty" toml:"provider,omitempty"`
	Endpoint        *string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Model           *string `yaml:"model,omitempty" json:"model,omitempty" toml:"model,omitempty"`
	CacheTTLSeconds *int    `yaml:"cache_ttl_seconds,omitempty" json:"cache_ttl_seconds,omitempty" toml:"cache_ttl_seconds,omitempty"`
}

// Ptr returns a pointer to v. Handy for building layers in code and tests.
func Ptr[T any](v T) *T {
	return &v
}

// Or dereferences p, falling back to def when p is nil.
func Or[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Merge returns base overlaid with over, field by field. Nested structs are
// merged recursively so a partial nested override keeps untouched siblings.
func Merge(base, over Settings) Settings {
	out := base.Clone()
	mergeField(&out.TopK, over.TopK)
	mergeField(&out.RRFK, over.RRFK)
	mergeField(&out.EnableRerank, over.EnableRerank)
	mergeField(&out.WDense, over.WDense)
	mergeField(&out.WLexical, over.WLexical)
	mergeField(&out.RerankTimeoutMS, over.RerankTimeoutMS)
	mergeField(&out.DevicePreference, over.DevicePreference)
	mergeField(&out.Device, over.Device)
	mergeField(&out.Precision, over.Precision)
	mergeField(&out.DenseIndex, over.DenseIndex)
	mergeField(&out.LexicalIndex, over.LexicalIndex)
	mergeField(&out.LexicalBackend, over.LexicalBackend)

	if over.EvaluationThresholds != nil {
		et := Or(out.EvaluationThresholds, EvaluationThresholds{})
		mergeField(&et.Faithfulness, over.EvaluationThresholds.Faithfulness)
		mergeField(&et.Relevancy, over.EvaluationThresholds.Relevancy)
		mergeField(&et.Precision, over.EvaluationThresholds.Precision)
		out.EvaluationThresholds = &et
	}
	if over.PerformancePolicy != nil {
		pp := Or(out.PerformancePolicy, PerformancePolicy{})
		mergeField(&pp.TargetP95MS, over.PerformancePolicy.TargetP95MS)
		mergeField(&pp.AutoTuneEnabled, over.PerformancePolicy.AutoTuneEnabled)
		mergeField(&pp.MaxTopK, over.PerformancePolicy.MaxTopK)
		mergeField(&pp.RerankDisableThreshold, over.PerformancePolicy.RerankDisableThreshold)
		mergeField(&pp.WindowSize, over.PerformancePolicy.WindowSize)
		out.PerformancePolicy = &pp
	}
	if over.Embedder != nil {
		em := Or(out.Embedder, EmbedderSettings{})
		mergeField(&em.Provider, over.Embedder.Provider)
		mergeField(&em.Model, over.Embedder.Model)
		mergeField(&em.Host, over.Embedder.Host)
		mergeField(&em.Dimensions, over.Embedder.Dimensions)
		mergeField(&em.CacheSize, over.Embedder.CacheSize)
		out.Embedder = &em
	}
	if over.Reranker != nil {
		rr := Or(out.Reranker, RerankerSettings{})
		mergeField(&rr.Provider, over.Reranker.Provider)
		mergeField(&rr.Endpoint, over.Reranker.Endpoint)
		mergeField(&rr.Model, over.Reranker.Model)
		mergeField(&rr.CacheTTLSeconds, over.Reranker.CacheTTLSeconds)
		out.Reranker = &rr
	}
	if over.TunerLocks != nil {
		out.TunerLocks = slices.Clone(over.TunerLocks)
	}
	return out
}

// mergeField replaces *dst with a fresh copy of *src when src is set.
func mergeField[T any](dst **T, src *T) {
	if src != nil {
		*dst = Ptr(*src)
	}
}

// Clone returns a deep copy; snapshots handed to listeners never alias layers.
func (s Settings) Clone() Settings {
	out := Settings{}
	mergeField(&out.TopK, s.TopK)
	mergeField(&out.RRFK, s.RRFK)
	mergeField(&out.EnableRerank, s.EnableRerank)
	mergeField(&out.WDense, s.WDense)
	mergeField(&out.WLexical, s.WLexical)
	mergeField(&out.RerankTimeoutMS, s.RerankTimeoutMS)
	mergeField(&out.DevicePreference, s.DevicePreference)
	mergeField(&out.Device, s.Device)
	mergeField(&out.Precision, s.Precision)
	mergeField(&out.DenseIndex, s.DenseIndex)
	mergeField(&out.LexicalIndex, s.LexicalIndex)
	mergeField(&out.LexicalBackend, s.LexicalBackend)
	if s.EvaluationThresholds != nil {
		et := *s.EvaluationThresholds
		mergeField(&et.Faithfulness, s.EvaluationThresholds.Faithfulness)
		mergeField(&et.Relevancy, s.EvaluationThresholds.Relevancy)
		mergeField(&et.Precision, s.EvaluationThresholds.Precision)
		out.EvaluationThresholds = &et
	}
	if s.PerformancePolicy != nil {
		pp := *s.PerformancePolicy
		mergeField(&pp.TargetP95MS, s.PerformancePolicy.TargetP95MS)
		mergeField(&pp.AutoTuneEnabled, s.PerformancePolicy.AutoTuneEnabled)
		mergeField(&pp.MaxTopK, s.PerformancePolicy.MaxTopK)
		mergeField(&pp.RerankDisableThreshold, s.PerformancePolicy.RerankDisableThreshold)
		mergeField(&pp.WindowSize, s.PerformancePolicy.WindowSize)
		out.PerformancePolicy = &pp
	}
	if s.Embedder != nil {
		em := *s.Embedder
		mergeField(&em.Provider, s.Embedder.Provider)
		mergeField(&em.Model, s.Embedder.Model)
		mergeField(&em.Host, s.Embedder.Host)
		mergeField(&em.Dimensions, s.Embedder.Dimensions)
		mergeField(&em.CacheSize, s.Embedder.CacheSize)
		out.Embedder = &em
	}
	if s.Reranker != nil {
		rr := *s.Reranker
		mergeField(&rr.Provider, s.Reranker.Provider)
		mergeField(&rr.Endpoint, s.Reranker.Endpoint)
		mergeField(&rr.Model, s.Reranker.Model)
		mergeField(&rr.CacheTTLSeconds, s.Reranker.CacheTTLSeconds)
		out.Reranker = &rr
	}
	if s.TunerLocks != nil {
		out.TunerLocks = slices.Clone(s.TunerLocks)
	}
	return out
}

// IsZero reports whether no field is set.
func (s Settings) IsZero() bool {
	return len(Flatten(s)) == 0 && s.TunerLocks == nil
}

// Policy is the resolved, defaulted view of the performance policy and
// lock set that the auto-tuner reads on every call.
type Policy struct {
	TargetP95MS            float64
	RerankDisableThreshold float64
	AutoTuneEnabled        bool
	MaxTopK                int
	WindowSize             int
	Locks                  []string
}

// Locked reports whether param is in the lock set.
func (p Policy) Locked(param string) bool {
	return slices.Contains(p.Locks, param)
}

// Policy extracts the tuner policy with the same defaults the shipped
// default_settings.yaml carries.
func (s Settings) Policy() Policy {
	pp := Or(s.PerformancePolicy, PerformancePolicy{})
	return Policy{
		TargetP95MS:            float64(Or(pp.TargetP95MS, 2000)),
		RerankDisableThreshold: float64(Or(pp.RerankDisableThreshold, 3000)),
		AutoTuneEnabled:        Or(pp.AutoTuneEnabled, false),
		MaxTopK:                Or(pp.MaxTopK, 50),
		WindowSize:             Or(pp.WindowSize, 100),
		Locks:                  slices.Clone(s.TunerLocks),
	}
}

// GetDataDir returns the directory holding the corpus snapshot and backups.
//   - $RAGCOPILOT_HOME (if set)
//   - ~/.ragcopilot (default)
func GetDataDir() string {
	if dir := os.Getenv("RAGCOPILOT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcopilot")
	}
	return filepath.Join(home, ".ragcopilot")
}

// GetSettingsPath returns the operator settings file path. It follows the
// XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragcopilot/settings.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragcopilot/settings.yaml (default)
func GetSettingsPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragcopilot", "settings.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragcopilot", "settings.yaml")
	}
	return filepath.Join(home, ".config", "ragcopilot", "settings.yaml")
}

// GetBackupDir returns where settings backups are written.
func GetBackupDir() string {
	return filepath.Join(GetDataDir(), "backups")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
