package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// field binds a dotted setting key to typed accessors on Settings.
type field struct {
	key string
	get func(s *Settings) (string, bool)
	set func(s *Settings, raw string) error
}

func intField(key string, sel func(s *Settings, create bool) **int) field {
	return field{
		key: key,
		get: func(s *Settings) (string, bool) {
			p := sel(s, false)
			if p == nil || *p == nil {
				return "", false
			}
			return strconv.Itoa(**p), true
		},
		set: func(s *Settings, raw string) error {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: not an integer: %q", key, raw)
			}
			*sel(s, true) = Ptr(v)
			return nil
		},
	}
}

func floatField(key string, sel func(s *Settings, create bool) **float64) field {
	return field{
		key: key,
		get: func(s *Settings) (string, bool) {
			p := sel(s, false)
			if p == nil || *p == nil {
				return "", false
			}
			return strconv.FormatFloat(**p, 'g', -1, 64), true
		},
		set: func(s *Settings, raw string) error {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("%s: not a number: %q", key, raw)
			}
			*sel(s, true) = Ptr(v)
			return nil
		},
	}
}

func boolField(key string, sel func(s *Settings, create bool) **bool) field {
	return field{
		key: key,
		get: func(s *Settings) (string, bool) {
			p := sel(s, false)
			if p == nil || *p == nil {
				return "", false
			}
			return strconv.FormatBool(**p), true
		},
		set: func(s *Settings, raw string) error {
			v, err := parseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*sel(s, true) = Ptr(v)
			return nil
		},
	}
}

func stringField(key string, lower bool, sel func(s *Settings, create bool) **string) field {
	return field{
		key: key,
		get: func(s *Settings) (string, bool) {
			p := sel(s, false)
			if p == nil || *p == nil {
				return "", false
			}
			return **p, true
		},
		set: func(s *Settings, raw string) error {
			if lower {
				raw = strings.ToLower(strings.TrimSpace(raw))
			}
			*sel(s, true) = Ptr(raw)
			return nil
		},
	}
}

// top returns a selector for a top-level field; create is irrelevant there.
func top[T any](f func(s *Settings) **T) func(*Settings, bool) **T {
	return func(s *Settings, _ bool) **T { return f(s) }
}

func policy[T any](f func(p *PerformancePolicy) **T) func(*Settings, bool) **T {
	return func(s *Settings, create bool) **T {
		if s.PerformancePolicy == nil {
			if !create {
				return nil
			}
			s.PerformancePolicy = &PerformancePolicy{}
		}
		return f(s.PerformancePolicy)
	}
}

func thresholds(f func(e *EvaluationThresholds) **float64) func(*Settings, bool) **float64 {
	return func(s *Settings, create bool) **float64 {
		if s.EvaluationThresholds == nil {
			if !create {
				return nil
			}
			s.EvaluationThresholds = &EvaluationThresholds{}
		}
		return f(s.EvaluationThresholds)
	}
}

func embedder[T any](f func(e *EmbedderSettings) **T) func(*Settings, bool) **T {
	return func(s *Settings, create bool) **T {
		if s.Embedder == nil {
			if !create {
				return nil
			}
			s.Embedder = &EmbedderSettings{}
		}
		return f(s.Embedder)
	}
}

func reranker[T any](f func(r *RerankerSettings) **T) func(*Settings, bool) **T {
	return func(s *Settings, create bool) **T {
		if s.Reranker == nil {
			if !create {
				return nil
			}
			s.Reranker = &RerankerSettings{}
		}
		return f(s.Reranker)
	}
}

var fields = []field{
	intField("top_k", top(func(s *Settings) **int { return &s.TopK })),
	intField("rrf_k", top(func(s *Settings) **int { return &s.RRFK })),
	boolField("enable_rerank", top(func(s *Settings) **bool { return &s.EnableRerank })),
	floatField("w_dense", top(func(s *Settings) **float64 { return &s.WDense })),
	floatField("w_lexical", top(func(s *Settings) **float64 { return &s.WLexical })),
	intField("rerank_timeout_ms", top(func(s *Settings) **int { return &s.RerankTimeoutMS })),
	stringField("device_preference", true, top(func(s *Settings) **string { return &s.DevicePreference })),
	stringField("device", true, top(func(s *Settings) **string { return &s.Device })),
	stringField("precision", true, top(func(s *Settings) **string { return &s.Precision })),
	stringField("dense_index", false, top(func(s *Settings) **string { return &s.DenseIndex })),
	stringField("lexical_index", false, top(func(s *Settings) **string { return &s.LexicalIndex })),
	stringField("lexical_backend", true, top(func(s *Settings) **string { return &s.LexicalBackend })),

	floatField("evaluation_thresholds.faithfulness", thresholds(func(e *EvaluationThresholds) **float64 { return &e.Faithfulness })),
	floatField("evaluation_thresholds.relevancy", thresholds(func(e *EvaluationThresholds) **float64 { return &e.Relevancy })),
	floatField("evaluation_thresholds.precision", thresholds(func(e *EvaluationThresholds) **float64 { return &e.Precision })),

	intField("performance_policy.target_p95_ms", policy(func(p *PerformancePolicy) **int { return &p.TargetP95MS })),
	boolField("performance_policy.auto_tune_enabled", policy(func(p *PerformancePolicy) **bool { return &p.AutoTuneEnabled })),
	intField("performance_policy.max_top_k", policy(func(p *PerformancePolicy) **int { return &p.MaxTopK })),
	intField("performance_policy.rerank_disable_threshold", policy(func(p *PerformancePolicy) **int { return &p.RerankDisableThreshold })),
	intField("performance_policy.window_size", policy(func(p *PerformancePolicy) **int { return &p.WindowSize })),

	stringField("embedder.provider", true, embedder(func(e *EmbedderSettings) **string { return &e.Provider })),
	stringField("embedder.model", false, embedder(func(e *EmbedderSettings) **string { return &e.Model })),
	stringField("embedder.host", false, embedder(func(e *EmbedderSettings) **string { return &e.Host })),
	intField("embedder.dimensions", embedder(func(e *EmbedderSettings) **int { return &e.Dimensions })),
	intField("embedder.cache_size", embedder(func(e *EmbedderSettings) **int { return &e.CacheSize })),

	stringField("reranker.provider", true, reranker(func(r *RerankerSettings) **string { return &r.Provider })),
	stringField("reranker.endpoint", false, reranker(func(r *RerankerSettings) **string { return &r.Endpoint })),
	stringField("reranker.model", false, reranker(func(r *RerankerSettings) **string { return &r.Model })),
	intField("reranker.cache_ttl_seconds", reranker(func(r *RerankerSettings) **int { return &r.CacheTTLSeconds })),
}

const tunerLocksKey = "tuner_locks"

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys lists every settable key in declaration order.
func Keys() []string {
	keys := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		keys = append(keys, f.key)
	}
	return append(keys, tunerLocksKey)
}

// Get returns the string form of key, and whether it is set.
func (s Settings) Get(key string) (string, bool, error) {
	if key == tunerLocksKey {
		if s.TunerLocks == nil {
			return "", false, nil
		}
		return strings.Join(s.TunerLocks, ","), true, nil
	}
	f, ok := lookupField(key)
	if !ok {
		return "", false, unknownSetting(key)
	}
	v, set := f.get(&s)
	return v, set, nil
}

// Set parses raw and assigns it to key. tuner_locks takes a comma list.
func (s *Settings) Set(key, raw string) error {
	if key == tunerLocksKey {
		s.TunerLocks = splitList(raw)
		return nil
	}
	f, ok := lookupField(key)
	if !ok {
		return unknownSetting(key)
	}
	if err := f.set(s, raw); err != nil {
		return ragerrors.New(ragerrors.ErrCodeInvalidInput, err.Error(), err)
	}
	return nil
}

// ParseAssignments turns "key=value" pairs (the --set flag) into a layer.
func ParseAssignments(pairs []string) (Settings, error) {
	var s Settings
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Settings{}, ragerrors.ValidationError(fmt.Sprintf("expected key=value, got %q", pair), nil)
		}
		if err := s.Set(strings.TrimSpace(key), value); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// Flatten returns every set field as dotted key -> string value.
func Flatten(s Settings) map[string]string {
	out := make(map[string]string)
	for _, f := range fields {
		if v, ok := f.get(&s); ok {
			out[f.key] = v
		}
	}
	if s.TunerLocks != nil {
		out[tunerLocksKey] = strings.Join(s.TunerLocks, ",")
	}
	return out
}

// SortedKeys returns the keys of a flattened view in sorted order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unknownSetting(key string) error {
	return ragerrors.New(ragerrors.ErrCodeUnknownSetting, fmt.Sprintf("unknown setting %q", key), nil).
		WithSuggestion("run 'ragcopilot config show' to list settings")
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
