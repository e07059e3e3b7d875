// Package config provides the configuration schema, loader and LLM provider
// registry for the tremolo service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// FeedbackSource names where AI feedback comes from.
type FeedbackSource string

const (
	// FeedbackBackend asks the analysis backend's /api/ai endpoint.
	FeedbackBackend FeedbackSource = "backend"

	// FeedbackLLM prompts the configured LLM providers directly.
	FeedbackLLM FeedbackSource = "llm"
)

// IsValid reports whether s is a recognised feedback source.
func (s FeedbackSource) IsValid() bool {
	return s == FeedbackBackend || s == FeedbackLLM
}

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader]; both apply defaults and validate.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Poller   PollerConfig   `yaml:"poller"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Demo     DemoConfig     `yaml:"demo"`
}

// ServerConfig holds network, logging and upload settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadMB caps the size of an uploaded recording.
	MaxUploadMB int64 `yaml:"max_upload_mb"`

	// AnalysisTimeout bounds one background analysis, upload included.
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`

	// Retention is how long finished analyses stay queryable.
	Retention time.Duration `yaml:"retention"`

	// SpoolDir holds uploads waiting for analysis. Empty means the OS temp dir.
	SpoolDir string `yaml:"spool_dir"`

	// Metrics toggles the OpenTelemetry meter provider and /metrics.
	Metrics *bool `yaml:"metrics"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendConfig points at the upstream analysis backend.
type BackendConfig struct {
	// BaseURL is the backend root, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each HTTP request to the backend.
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the backend.
type BreakerConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// PollerConfig sets the job polling policy. The longest wait is roughly
// MaxAttempts × Interval.
type PollerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// FusionConfig overrides the fuser heuristics. Omitted values keep the stock
// heuristics; an explicit 0 is honored.
type FusionConfig struct {
	BodyLanguageCap         *int       `yaml:"body_language_cap"`
	VocalDedupSeconds       *float64   `yaml:"vocal_dedup_seconds"`
	GestureGraceSeconds     *float64   `yaml:"gesture_grace_seconds"`
	MonotoneDeviation       *float64   `yaml:"monotone_deviation"`
	MonotoneMinStartSeconds *float64   `yaml:"monotone_min_start_seconds"`
	FillerWords             []string   `yaml:"filler_words"`
	Tags                    TagsConfig `yaml:"tags"`
}

// TagsConfig renames the enrichment tags the fuser and scorer look for. Empty
// values keep the stock tag names.
type TagsConfig struct {
	Filler     string   `yaml:"filler"`
	LowGesture []string `yaml:"low_gesture"`
	Gesture    []string `yaml:"gesture"`

	// ActiveGesture are the tag-distribution keys the scorer counts as
	// active gesturing.
	ActiveGesture     []string `yaml:"active_gesture"`
	PitchWobble       string   `yaml:"pitch_wobble"`
	FallingIntonation string   `yaml:"falling_intonation"`
}

// ScoringConfig overrides the scoring constants. Omitted values keep the
// stock constants; an explicit 0 is honored.
type ScoringConfig struct {
	// FluencyThreshold separates a 0–1 fluency score (at or below) from a
	// 0–100 one (above).
	FluencyThreshold    *float64       `yaml:"fluency_threshold"`
	Weights             *WeightsConfig `yaml:"weights"`
	FillerPenalty       *float64       `yaml:"filler_penalty"`
	VocalPenalty        *float64       `yaml:"vocal_penalty"`
	BodyLanguagePenalty *float64       `yaml:"body_language_penalty"`
	GestureBase         *float64       `yaml:"gesture_base"`
	GestureGain         *float64       `yaml:"gesture_gain"`
}

// WeightsConfig sets how category scores combine into the overall score.
// They must sum to 1.
type WeightsConfig struct {
	Speech       float64 `yaml:"speech"`
	Vocal        float64 `yaml:"vocal"`
	BodyLanguage float64 `yaml:"body_language"`
}

// FeedbackConfig enables AI feedback appended after scoring.
type FeedbackConfig struct {
	// Sources are tried in order until one answers. Empty disables AI
	// feedback.
	Sources []FeedbackSource `yaml:"sources"`

	// LLM lists the providers used by the llm source, primary first.
	LLM []ProviderEntry `yaml:"llm"`

	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`

	// Placeholder is the transcript range given to AI markers.
	Placeholder RangeConfig `yaml:"placeholder"`
}

// RangeConfig is a [start, end) transcript byte range.
type RangeConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// ProviderEntry configures one LLM provider. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider (e.g. "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Empty lets the provider read
	// its usual environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// DemoConfig controls the canned demonstration dataset.
type DemoConfig struct {
	// Fallback serves the demo dataset when a live analysis fails.
	Fallback *bool `yaml:"fallback"`
}

// Enabled dereferences an optional flag, defaulting to true.
func Enabled(b *bool) bool {
	return b == nil || *b
}
