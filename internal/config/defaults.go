package config

import "time"

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultLogLevel        = LogInfo
	DefaultMaxUploadMB     = 512
	DefaultAnalysisTimeout = 15 * time.Minute
	DefaultRetention       = 24 * time.Hour
	DefaultBackendURL      = "http://localhost:8000"
	DefaultBackendTimeout  = 60 * time.Second
	DefaultMaxAttempts     = 120
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxFailures     = 5
	DefaultResetTimeout    = 30 * time.Second
	DefaultHalfOpenMax     = 3
)

// ApplyDefaults fills unset service-level fields. Fusion and scoring
// overrides are left at zero: their packages substitute the stock
// heuristics for zero values.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.MaxUploadMB == 0 {
		s.MaxUploadMB = DefaultMaxUploadMB
	}
	if s.AnalysisTimeout == 0 {
		s.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if s.Retention == 0 {
		s.Retention = DefaultRetention
	}

	b := &cfg.Backend
	if b.BaseURL == "" {
		b.BaseURL = DefaultBackendURL
	}
	if b.Timeout == 0 {
		b.Timeout = DefaultBackendTimeout
	}
	if b.Breaker.MaxFailures == 0 {
		b.Breaker.MaxFailures = DefaultMaxFailures
	}
	if b.Breaker.ResetTimeout == 0 {
		b.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if b.Breaker.HalfOpenMax == 0 {
		b.Breaker.HalfOpenMax = DefaultHalfOpenMax
	}

	if cfg.Poller.MaxAttempts == 0 {
		cfg.Poller.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = DefaultPollInterval
	}
}
