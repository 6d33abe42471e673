// Package config defines service configuration and how it is loaded.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`
	// RateLimitPerMinute caps session API requests per client IP. 0 disables.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=0"`
	// AllowedOrigins restricts websocket origins, comma separated in env.
	// Empty allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins" validate:"dive,required"`

	// MaxSessions bounds concurrently registered sessions.
	MaxSessions int `koanf:"max_sessions" validate:"min=1"`
	// ReapAfterMS is how long a finished session stays queryable.
	ReapAfterMS int `koanf:"reap_after_ms" validate:"min=0"`

	// ReadinessTimeoutMS raises a one-time notice when resources are still
	// not ready. 0 disables.
	ReadinessTimeoutMS int `koanf:"readiness_timeout_ms" validate:"min=0"`
	// CaptureWindowMS bounds a single face capture.
	CaptureWindowMS int `koanf:"capture_window_ms" validate:"min=100"`
	// CaptureSampleRate is how many frames per second a capture inspects.
	CaptureSampleRate float64 `koanf:"capture_sample_rate" validate:"gt=0,lte=60"`
	// MaxFrameBytes caps a pushed camera frame.
	MaxFrameBytes int `koanf:"max_frame_bytes" validate:"min=1024"`
	// NotifyBuffer is the per-subscriber notice buffer.
	NotifyBuffer int `koanf:"notify_buffer" validate:"min=1"`

	// ModelURL points at a landmark inference service. Empty uses the
	// built-in simulated model.
	ModelURL  string `koanf:"model_url" validate:"omitempty,url"`
	ModelName string `koanf:"model_name"`
	// ModelLoadLatencyMS is the simulated model's load time.
	ModelLoadLatencyMS int `koanf:"model_load_latency_ms" validate:"min=0"`

	// SpeechURL is the speech token endpoint base. Empty issues a local
	// development credential.
	SpeechURL    string `koanf:"speech_url" validate:"omitempty,url"`
	SpeechKey    string `koanf:"speech_key" validate:"required_with=SpeechURL"`
	SpeechRegion string `koanf:"speech_region"`

	// RoomsURL is the room-management service base. Empty skips room
	// deletion on leave.
	RoomsURL   string `koanf:"rooms_url" validate:"omitempty,url"`
	RoomsToken string `koanf:"rooms_token"`
	// ReleaseTimeoutMS bounds one room deletion call.
	ReleaseTimeoutMS int `koanf:"release_timeout_ms" validate:"min=1"`

	// ReleaseQueueSize bounds pending room releases.
	ReleaseQueueSize int `koanf:"queue_size" validate:"min=1"`
	// WorkerCount sets the number of room release workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`
	// DedupeSize is how many released room ids are remembered.
	DedupeSize int `koanf:"dedupe_size" validate:"min=0"`

	// RedisAddr enables the redis handoff store when set.
	RedisAddr     string `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`
	// HandoffTTLMS is how long a published handoff is kept in redis.
	HandoffTTLMS int `koanf:"handoff_ttl_ms" validate:"min=0"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		RateLimitPerMinute: 600,
		MaxSessions:        1000,
		ReapAfterMS:        600_000,
		ReadinessTimeoutMS: 60_000,
		CaptureWindowMS:    2_000,
		CaptureSampleRate:  10,
		MaxFrameBytes:      2 << 20,
		NotifyBuffer:       32,
		ModelName:          "face-landmarks",
		ModelLoadLatencyMS: 300,
		SpeechRegion:       "koreacentral",
		ReleaseTimeoutMS:   10_000,
		ReleaseQueueSize:   1024,
		WorkerCount:        runtime.NumCPU(),
		DedupeSize:         10_000,
		HandoffTTLMS:       7_200_000,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ReapAfter returns ReapAfterMS as a duration.
func (c *Config) ReapAfter() time.Duration { return ms(c.ReapAfterMS) }

// ReadinessTimeout returns ReadinessTimeoutMS as a duration.
func (c *Config) ReadinessTimeout() time.Duration { return ms(c.ReadinessTimeoutMS) }

// CaptureWindow returns CaptureWindowMS as a duration.
func (c *Config) CaptureWindow() time.Duration { return ms(c.CaptureWindowMS) }

// ModelLoadLatency returns ModelLoadLatencyMS as a duration.
func (c *Config) ModelLoadLatency() time.Duration { return ms(c.ModelLoadLatencyMS) }

// ReleaseTimeout returns ReleaseTimeoutMS as a duration.
func (c *Config) ReleaseTimeout() time.Duration { return ms(c.ReleaseTimeoutMS) }

// HandoffTTL returns HandoffTTLMS as a duration.
func (c *Config) HandoffTTL() time.Duration { return ms(c.HandoffTTLMS) }
