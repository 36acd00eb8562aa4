package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envBindings maps environment variables to setting keys.
var envBindings = []struct {
	env string
	key string
}{
	{"TOP_K", "top_k"},
	{"RRF_K", "rrf_k"},
	{"ENABLE_RERANK", "enable_rerank"},
	{"DEVICE_PREFERENCE", "device_preference"},
	{"PRECISION", "precision"},
	{"EVAL_FAITHFULNESS", "evaluation_thresholds.faithfulness"},
	{"EVAL_RELEVANCY", "evaluation_thresholds.relevancy"},
	{"EVAL_PRECISION", "evaluation_thresholds.precision"},
	{"DENSE_INDEX", "dense_index"},
	{"LEXICAL_INDEX", "lexical_index"},
	{"LEXICAL_BACKEND", "lexical_backend"},
	{"TARGET_P95_MS", "performance_policy.target_p95_ms"},
	{"AUTO_TUNE_ENABLED", "performance_policy.auto_tune_enabled"},
	{"MAX_TOP_K", "performance_policy.max_top_k"},
	{"RERANK_DISABLE_THRESHOLD", "performance_policy.rerank_disable_threshold"},
	{"EMBEDDER_PROVIDER", "embedder.provider"},
	{"EMBEDDER_MODEL", "embedder.model"},
	{"OLLAMA_HOST", "embedder.host"},
	{"RERANKER_ENDPOINT", "reranker.endpoint"},
	{"TUNER_LOCKS", "tuner_locks"},
}

// EnvironmentLayer builds the environment layer from lookup. Values that do
// not parse are skipped, so a typo in one variable never blocks startup.
func EnvironmentLayer(lookup func(string) (string, bool)) Settings {
	var s Settings
	for _, b := range envBindings {
		raw, ok := lookup(b.env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := s.Set(b.key, raw); err != nil {
			slog.Debug("ignoring unparsable environment override",
				slog.String("env", b.env),
				slog.String("error", err.Error()))
		}
	}
	return s
}

// LoadEnvironment reads .env files (missing files are fine) into the
// process environment without overriding variables already set, then
// builds the environment layer.
func LoadEnvironment(dotenvFiles ...string) Settings {
	for _, f := range dotenvFiles {
		if !fileExists(f) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Debug("failed to load .env file",
				slog.String("path", f),
				slog.String("error", err.Error()))
		}
	}
	return EnvironmentLayer(os.LookupEnv)
}
