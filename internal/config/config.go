package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config contains all runtime settings for the assistant server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel string
	LogJSON  bool
	Timezone string

	ProfilesDir string
	DriveDir    string

	LLMProvider  string
	OpenAIURL    string
	OpenAIAPIKey string
	GeminiAPIKey string
	AgentModel   string

	TTSURL            string
	TTSConnectTimeout time.Duration
	TTSReadTimeout    time.Duration
	TTSWriteTimeout   time.Duration

	HistoryLimit     int
	TaskMarker       string
	TaskMarkerPolicy string
	StreamEndDelay   time.Duration

	WSConnectRate  float64
	WSConnectBurst int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          bindAddr(),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "paserver"),
		AllowAnyOrigin:    true,
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		Timezone:          envOrDefault("APP_TIMEZONE", "Asia/Hong_Kong"),
		ProfilesDir:       envOrDefault("PROFILES_DIR", "profiles"),
		DriveDir:          envOrDefault("DRIVE_DIR", "drive"),
		LLMProvider:       strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		OpenAIURL:         stringsTrimSpace("OPENAI_URL"),
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		GeminiAPIKey:      stringsTrimSpace("GEMINI_API_KEY"),
		AgentModel:        envOrDefault("AGENT_MODEL", "gpt-4o-mini"),
		TTSURL:            envOrDefault("TTS_URL", "http://127.0.0.1:9880/tts"),
		TTSConnectTimeout: 10 * time.Second,
		TTSReadTimeout:    120 * time.Second,
		TTSWriteTimeout:   30 * time.Second,
		HistoryLimit:      50,
		TaskMarker:        envOrDefault("TASK_MARKER", "TASK"),
		TaskMarkerPolicy:  strings.ToLower(envOrDefault("TASK_MARKER_POLICY", "exact")),
		StreamEndDelay:    time.Second,
		ShutdownTimeout:   15 * time.Second,
		WSConnectRate:     1,
		WSConnectBurst:    5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogJSON, err = boolFromEnv("APP_LOG_JSON", cfg.LogJSON)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSConnectTimeout, err = durationFromEnv("TTS_CONNECT_TIMEOUT", cfg.TTSConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSReadTimeout, err = durationFromEnv("TTS_READ_TIMEOUT", cfg.TTSReadTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSWriteTimeout, err = durationFromEnv("TTS_WRITE_TIMEOUT", cfg.TTSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamEndDelay, err = durationFromEnv("STREAM_END_DELAY", cfg.StreamEndDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.WSConnectRate, err = floatFromEnv("WS_CONNECT_RATE", cfg.WSConnectRate)
	if err != nil {
		return Config{}, err
	}
	cfg.WSConnectBurst, err = intFromEnv("WS_CONNECT_BURST", cfg.WSConnectBurst)
	if err != nil {
		return Config{}, err
	}

	switch cfg.LLMProvider {
	case "auto", "openai", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto|openai|gemini|mock, got %q", cfg.LLMProvider)
	}
	switch cfg.TaskMarkerPolicy {
	case "exact", "substring":
	default:
		return Config{}, fmt.Errorf("TASK_MARKER_POLICY must be exact or substring, got %q", cfg.TaskMarkerPolicy)
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.StreamEndDelay < 0 {
		return Config{}, fmt.Errorf("STREAM_END_DELAY must be >= 0")
	}
	if cfg.TTSConnectTimeout <= 0 || cfg.TTSReadTimeout <= 0 || cfg.TTSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("TTS timeouts must be positive")
	}
	if cfg.WSConnectRate <= 0 || cfg.WSConnectBurst <= 0 {
		return Config{}, fmt.Errorf("WS_CONNECT_RATE and WS_CONNECT_BURST must be positive")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// bindAddr prefers an explicit APP_BIND_ADDR and otherwise listens on SVR_PORT.
func bindAddr() string {
	if addr := stringsTrimSpace("APP_BIND_ADDR"); addr != "" {
		return addr
	}
	return ":" + envOrDefault("SVR_PORT", "20000")
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
