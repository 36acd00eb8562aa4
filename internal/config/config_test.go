package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

func mustDefaults(t *testing.T) Settings {
	t.Helper()
	d, err := DefaultSettings()
	require.NoError(t, err)
	return d
}

// =============================================================================
// Defaults
// =============================================================================

func TestDefaultSettings_ShippedValues(t *testing.T) {
	// Given: the embedded defaults file
	// When: parsing it
	d := mustDefaults(t)

	// Then: the documented defaults are present
	assert.Equal(t, 5, *d.TopK)
	assert.Equal(t, 60, *d.RRFK)
	assert.False(t, *d.EnableRerank)
	assert.Equal(t, 1.0, *d.WDense)
	assert.Equal(t, 1.0, *d.WLexical)
	assert.Equal(t, "auto", *d.DevicePreference)
	assert.Equal(t, "fp32", *d.Precision)
	assert.Equal(t, "okapi", *d.LexicalBackend)
	assert.Equal(t, 2000, *d.PerformancePolicy.TargetP95MS)
	assert.Equal(t, 3000, *d.PerformancePolicy.RerankDisableThreshold)
	assert.NotNil(t, d.TunerLocks)
	assert.Empty(t, d.TunerLocks)
}

// =============================================================================
// Merge
// =============================================================================

func TestMerge_NilFieldsKeepBase(t *testing.T) {
	base := Settings{TopK: Ptr(5), RRFK: Ptr(60)}
	over := Settings{TopK: Ptr(9)}

	got := Merge(base, over)

	assert.Equal(t, 9, *got.TopK)
	assert.Equal(t, 60, *got.RRFK)
}

func TestMerge_PartialNestedOverrideKeepsSiblings(t *testing.T) {
	// Given: a base with a full performance policy
	base := Settings{PerformancePolicy: &PerformancePolicy{
		TargetP95MS:     Ptr(2000),
		AutoTuneEnabled: Ptr(true),
		MaxTopK:         Ptr(50),
	}}
	// When: overriding a single nested field
	over := Settings{PerformancePolicy: &PerformancePolicy{TargetP95MS: Ptr(800)}}
	got := Merge(base, over)

	// Then: the sibling fields survive
	assert.Equal(t, 800, *got.PerformancePolicy.TargetP95MS)
	assert.True(t, *got.PerformancePolicy.AutoTuneEnabled)
	assert.Equal(t, 50, *got.PerformancePolicy.MaxTopK)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	base := Settings{TopK: Ptr(5), TunerLocks: []string{"top_k"}}
	got := Merge(base, Settings{})

	*got.TopK = 99
	got.TunerLocks[0] = "rrf_k"

	assert.Equal(t, 5, *base.TopK)
	assert.Equal(t, "top_k", base.TunerLocks[0])
}

func TestMerge_EmptyLocksClearLowerLayer(t *testing.T) {
	base := Settings{TunerLocks: []string{"top_k"}}

	assert.Equal(t, []string{"top_k"}, Merge(base, Settings{}).TunerLocks)
	assert.Empty(t, Merge(base, Settings{TunerLocks: []string{}}).TunerLocks)
}

// =============================================================================
// Get / Set
// =============================================================================

func TestSettings_SetAndGet(t *testing.T) {
	var s Settings
	require.NoError(t, s.Set("top_k", "7"))
	require.NoError(t, s.Set("enable_rerank", "yes"))
	require.NoError(t, s.Set("performance_policy.target_p95_ms", "1500"))
	require.NoError(t, s.Set("tuner_locks", "top_k, rrf_k"))
	require.NoError(t, s.Set("device_preference", " CPU "))

	v, ok, err := s.Get("top_k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "7", v)

	v, _, _ = s.Get("enable_rerank")
	assert.Equal(t, "true", v)
	v, _, _ = s.Get("performance_policy.target_p95_ms")
	assert.Equal(t, "1500", v)
	assert.Equal(t, []string{"top_k", "rrf_k"}, s.TunerLocks)
	assert.Equal(t, "cpu", *s.DevicePreference)

	_, ok, err = s.Get("rrf_k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings_SetRejectsBadInput(t *testing.T) {
	var s Settings

	err := s.Set("nope", "1")
	assert.Equal(t, ragerrors.ErrCodeUnknownSetting, ragerrors.GetCode(err))

	err = s.Set("top_k", "many")
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, ragerrors.GetCode(err))
	assert.Nil(t, s.TopK)
}

func TestParseAssignments(t *testing.T) {
	s, err := ParseAssignments([]string{"top_k=3", "reranker.provider=http"})
	require.NoError(t, err)
	assert.Equal(t, 3, *s.TopK)
	assert.Equal(t, "http", *s.Reranker.Provider)

	_, err = ParseAssignments([]string{"top_k"})
	assert.Error(t, err)
}

func TestFlatten_OnlySetFields(t *testing.T) {
	s := Settings{TopK: Ptr(4), Embedder: &EmbedderSettings{Model: Ptr("m")}}

	flat := Flatten(s)

	assert.Equal(t, map[string]string{"top_k": "4", "embedder.model": "m"}, flat)
	assert.Equal(t, []string{"embedder.model", "top_k"}, SortedKeys(flat))
	assert.False(t, s.IsZero())
	assert.True(t, Settings{}.IsZero())
}

func TestKeys_CoverEveryField(t *testing.T) {
	d := mustDefaults(t)
	for _, key := range Keys() {
		_, _, err := d.Get(key)
		assert.NoError(t, err, key)
	}
	assert.Contains(t, Keys(), "tuner_locks")
}

// =============================================================================
// Policy
// =============================================================================

func TestPolicy_DefaultsAndLocks(t *testing.T) {
	p := Settings{}.Policy()
	assert.Equal(t, 2000.0, p.TargetP95MS)
	assert.Equal(t, 3000.0, p.RerankDisableThreshold)
	assert.False(t, p.AutoTuneEnabled)

	p = Settings{TunerLocks: []string{"top_k"}}.Policy()
	assert.True(t, p.Locked("top_k"))
	assert.False(t, p.Locked("rrf_k"))
}

// =============================================================================
// Validation
// =============================================================================

func TestDefaultValidator_Bounds(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"top_k zero", "top_k", "0", "out_of_bounds:1-1000"},
		{"rrf_k huge", "rrf_k", "5000", "out_of_bounds:1-1000"},
		{"bad device", "device_preference", "tpu", "invalid_option"},
		{"bad precision", "precision", "fp64", "invalid_option"},
		{"threshold above one", "evaluation_thresholds.precision", "1.5", "out_of_bounds:0-1"},
		{"blank index", "dense_index", "  ", "blank"},
		{"top_k over cap", "top_k", "51", "exceeds_max_top_k:50"},
		{"unknown lock", "tuner_locks", "w_dense", "unknown_param:w_dense"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustDefaults(t)
			require.NoError(t, s.Set(tt.key, tt.value))

			errs := DefaultValidator{}.Validate(s)

			assert.Equal(t, tt.want, errs[tt.key])
		})
	}
}

func TestDefaultValidator_MissingRequired(t *testing.T) {
	errs := DefaultValidator{}.Validate(Settings{})

	assert.Equal(t, "missing", errs["top_k"])
	assert.Equal(t, "missing", errs["rrf_k"])
	assert.Equal(t, "missing", errs["dense_index"])
	assert.Equal(t, "missing", errs["lexical_index"])
	_, ok := errs["precision"]
	assert.False(t, ok, "optional fields are not required without RequireAll")
}

func TestDefaultValidator_HTTPScorerNeedsEndpoint(t *testing.T) {
	s := mustDefaults(t)
	require.NoError(t, s.Set("reranker.provider", "http"))

	assert.Equal(t, "missing", DefaultValidator{}.Validate(s)["reranker.endpoint"])

	require.NoError(t, s.Set("reranker.endpoint", "http://localhost:8080"))
	assert.Empty(t, DefaultValidator{}.Validate(s))
}

// =============================================================================
// Layers
// =============================================================================

func TestParseLayer(t *testing.T) {
	for _, l := range Layers() {
		got, err := ParseLayer(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLayer("user")
	assert.Error(t, err)
	assert.Equal(t, "layer(9)", Layer(9).String())
}

func TestOverrideChain_Precedence(t *testing.T) {
	var c OverrideChain
	c.SetLayer(LayerDefaults, Settings{TopK: Ptr(5), RRFK: Ptr(60)})
	c.SetLayer(LayerEnvironment, Settings{TopK: Ptr(6)})
	c.SetLayer(LayerCLI, Settings{TopK: Ptr(7)})
	c.SetLayer(LayerRuntime, Settings{RRFK: Ptr(40)})

	got := c.Resolve()

	assert.Equal(t, 7, *got.TopK)
	assert.Equal(t, 40, *got.RRFK)
}

// =============================================================================
// Environment
// =============================================================================

func TestEnvironmentLayer(t *testing.T) {
	env := map[string]string{
		"TOP_K":         "8",
		"ENABLE_RERANK": "true",
		"OLLAMA_HOST":   "http://gpu-box:11434",
		"RRF_K":         "sixty",
		"TUNER_LOCKS":   "top_k",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	s := EnvironmentLayer(lookup)

	assert.Equal(t, 8, *s.TopK)
	assert.True(t, *s.EnableRerank)
	assert.Equal(t, "http://gpu-box:11434", *s.Embedder.Host)
	assert.Nil(t, s.RRFK, "unparsable values are skipped")
	assert.Equal(t, []string{"top_k"}, s.TunerLocks)
}

// =============================================================================
// Device detection
// =============================================================================

func TestDetectDevice(t *testing.T) {
	yes := func() bool { return true }
	no := func() bool { return false }

	tests := []struct {
		name  string
		probe DeviceProbe
		pref  string
		want  string
	}{
		{"explicit cpu", DeviceProbe{OpenVINOGPU: yes, XPU: yes}, "cpu", "cpu"},
		{"auto prefers xpu", DeviceProbe{OpenVINOGPU: yes, XPU: yes}, "auto", "gpu_xpu"},
		{"auto openvino only", DeviceProbe{OpenVINOGPU: yes, XPU: no}, "auto", "gpu_openvino"},
		{"auto nothing", DeviceProbe{}, "auto", "cpu"},
		{"openvino requested", DeviceProbe{OpenVINOGPU: yes, XPU: yes}, "gpu_openvino", "gpu_openvino"},
		{"xpu unavailable falls over", DeviceProbe{OpenVINOGPU: yes}, "gpu_xpu", "gpu_openvino"},
		{"nothing available", DeviceProbe{}, "gpu_xpu", "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.probe.DetectDevice(tt.pref))
		})
	}
}
