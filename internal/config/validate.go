package config

import (
	"fmt"
	"slices"
	"strings"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// Supported options for enumerated fields.
var (
	DeviceOptions         = []string{"auto", "cpu", "gpu_openvino", "gpu_xpu"}
	PrecisionOptions      = []string{"fp32", "fp16", "int8"}
	LexicalBackendOptions = []string{"okapi", "bleve", "sqlite"}
	EmbedderOptions       = []string{"static", "ollama", "openai"}
	ScorerOptions         = []string{"overlap", "http"}
	LockableParams        = []string{"enable_rerank", "top_k", "rrf_k"}
)

// Validator checks a resolved configuration. An empty result means valid.
type Validator interface {
	Validate(s Settings) ragerrors.FieldErrors
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(s Settings) ragerrors.FieldErrors

// Validate implements Validator.
func (f ValidatorFunc) Validate(s Settings) ragerrors.FieldErrors {
	return f(s)
}

type bound struct {
	key      string
	get      func(s Settings) *int
	low, high int
}

var boundChecks = []bound{
	{"top_k", func(s Settings) *int { return s.TopK }, 1, 1000},
	{"rrf_k", func(s Settings) *int { return s.RRFK }, 1, 1000},
	{"performance_policy.target_p95_ms", func(s Settings) *int {
		return Or(s.PerformancePolicy, PerformancePolicy{}).TargetP95MS
	}, 1, 10000},
	{"performance_policy.max_top_k", func(s Settings) *int {
		return Or(s.PerformancePolicy, PerformancePolicy{}).MaxTopK
	}, 1, 1000},
	{"performance_policy.rerank_disable_threshold", func(s Settings) *int {
		return Or(s.PerformancePolicy, PerformancePolicy{}).RerankDisableThreshold
	}, 0, 10000},
}

// DefaultValidator enforces the shipped bounds and option sets.
//
// Bounded numeric fields and index names are required; everything else is
// checked only when present. With RequireAll set (used for the defaults
// file) every documented field must be present.
type DefaultValidator struct {
	RequireAll bool
}

var _ Validator = DefaultValidator{}

// Validate implements Validator.
func (v DefaultValidator) Validate(s Settings) ragerrors.FieldErrors {
	errs := ragerrors.FieldErrors{}

	for _, b := range boundChecks {
		val := b.get(s)
		if val == nil {
			errs.Add(b.key, "missing")
			continue
		}
		if *val < b.low || *val > b.high {
			errs.Add(b.key, fmt.Sprintf("out_of_bounds:%d-%d", b.low, b.high))
		}
	}

	checkOption(errs, "device_preference", s.DevicePreference, DeviceOptions, v.RequireAll)
	checkOption(errs, "precision", s.Precision, PrecisionOptions, v.RequireAll)
	checkOption(errs, "lexical_backend", s.LexicalBackend, LexicalBackendOptions, false)
	if s.Embedder != nil {
		checkOption(errs, "embedder.provider", s.Embedder.Provider, EmbedderOptions, false)
		if d := s.Embedder.Dimensions; d != nil && (*d < 1 || *d > 8192) {
			errs.Add("embedder.dimensions", "out_of_bounds:1-8192")
		}
	}
	if s.Reranker != nil {
		checkOption(errs, "reranker.provider", s.Reranker.Provider, ScorerOptions, false)
		if Or(s.Reranker.Provider, "") == "http" && strings.TrimSpace(Or(s.Reranker.Endpoint, "")) == "" {
			errs.Add("reranker.endpoint", "missing")
		}
	}

	errs.Merge(v.validateThresholds(s))
	errs.Merge(v.validatePolicy(s))

	for _, key := range []string{"dense_index", "lexical_index"} {
		raw, set, _ := s.Get(key)
		switch {
		case !set:
			errs.Add(key, "missing")
		case strings.TrimSpace(raw) == "":
			errs.Add(key, "blank")
		}
	}

	if t := s.RerankTimeoutMS; t != nil && (*t < 1 || *t > 60000) {
		errs.Add("rerank_timeout_ms", "out_of_bounds:1-60000")
	}

	// top_k above the policy cap is only reported when both are in range.
	if _, bad := errs["top_k"]; !bad && s.TopK != nil && s.PerformancePolicy != nil {
		if maxK := s.PerformancePolicy.MaxTopK; maxK != nil && *s.TopK > *maxK {
			errs.Add("top_k", fmt.Sprintf("exceeds_max_top_k:%d", *maxK))
		}
	}

	for _, lock := range s.TunerLocks {
		if !slices.Contains(LockableParams, lock) {
			errs.Add("tuner_locks", "unknown_param:"+lock)
		}
	}

	return errs
}

func checkOption(errs ragerrors.FieldErrors, key string, val *string, options []string, required bool) {
	if val == nil {
		if required {
			errs.Add(key, "missing")
		}
		return
	}
	if !slices.Contains(options, *val) {
		errs.Add(key, "invalid_option")
	}
}

func (v DefaultValidator) validateThresholds(s Settings) ragerrors.FieldErrors {
	errs := ragerrors.FieldErrors{}
	if s.EvaluationThresholds == nil {
		if v.RequireAll {
			errs.Add("evaluation_thresholds", "missing")
		}
		return errs
	}
	metrics := []struct {
		name string
		val  *float64
	}{
		{"faithfulness", s.EvaluationThresholds.Faithfulness},
		{"relevancy", s.EvaluationThresholds.Relevancy},
		{"precision", s.EvaluationThresholds.Precision},
	}
	for _, m := range metrics {
		key := "evaluation_thresholds." + m.name
		if m.val == nil {
			if v.RequireAll {
				errs.Add(key, "missing")
			}
			continue
		}
		if *m.val < 0 || *m.val > 1 {
			errs.Add(key, "out_of_bounds:0-1")
		}
	}
	return errs
}

func (v DefaultValidator) validatePolicy(s Settings) ragerrors.FieldErrors {
	errs := ragerrors.FieldErrors{}
	if s.PerformancePolicy == nil {
		return errs
	}
	if v.RequireAll && s.PerformancePolicy.AutoTuneEnabled == nil {
		errs.Add("performance_policy.auto_tune_enabled", "missing")
	}
	if w := s.PerformancePolicy.WindowSize; w != nil && (*w < 1 || *w > 100000) {
		errs.Add("performance_policy.window_size", "out_of_bounds:1-100000")
	}
	return errs
}
