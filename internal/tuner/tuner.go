// Package tuner lowers retrieval cost when rolling latency exceeds the
// configured target.
package tuner

import (
	"log/slog"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
)

// Tunable parameter names, as used in the lock set.
const (
	ParamEnableRerank = "enable_rerank"
	ParamTopK         = "top_k"
	ParamRRFK         = "rrf_k"
)

const (
	// MinRRFK is the floor for the fusion constant.
	MinRRFK = 10

	rrfKStep = 10
)

// Params are the retrieval parameters the tuner may lower.
type Params struct {
	TopK         int  `json:"top_k"`
	K            int  `json:"rrf_k"`
	EnableRerank bool `json:"enable_rerank"`
}

// PolicySource supplies the current tuning policy. *config.Store implements it.
type PolicySource interface {
	Policy() config.Policy
}

// LatencySource reports rolling p95 per mode. *telemetry.Dashboard implements it.
type LatencySource interface {
	P95Latency(mode string) float64
}

// AutoTuner applies at most one de-escalation step per call while a mode's
// p95 is above target. It never raises a parameter; only an operator reset
// restores the configured values.
type AutoTuner struct {
	policy  PolicySource
	latency LatencySource
}

// New creates a tuner.
func New(policy PolicySource, latency LatencySource) *AutoTuner {
	return &AutoTuner{policy: policy, latency: latency}
}

// Tune returns p, possibly with one parameter lowered. The policy is read
// on every call so edits to the lock set or target apply immediately.
func (t *AutoTuner) Tune(mode string, p Params) Params {
	out, _ := t.Step(mode, p)
	return out
}

// Step is Tune that also reports which parameter changed, or "" if none.
func (t *AutoTuner) Step(mode string, p Params) (Params, string) {
	pol := t.policy.Policy()
	if !pol.AutoTuneEnabled {
		return p, ""
	}
	p95 := t.latency.P95Latency(mode)
	if p95 <= pol.TargetP95MS {
		return p, ""
	}

	var changed string
	switch {
	case p.EnableRerank && p95 > pol.RerankDisableThreshold && !pol.Locked(ParamEnableRerank):
		p.EnableRerank = false
		changed = ParamEnableRerank
	case p.TopK > 1 && !pol.Locked(ParamTopK):
		p.TopK--
		changed = ParamTopK
	case p.K > MinRRFK && !pol.Locked(ParamRRFK):
		p.K = max(MinRRFK, p.K-rrfKStep)
		changed = ParamRRFK
	default:
		return p, ""
	}

	slog.Info("auto-tuner lowered parameter",
		slog.String("mode", mode),
		slog.Float64("p95_ms", p95),
		slog.String("param", changed),
		slog.Int("top_k", p.TopK),
		slog.Int("rrf_k", p.K),
		slog.Bool("enable_rerank", p.EnableRerank))
	return p, changed
}
