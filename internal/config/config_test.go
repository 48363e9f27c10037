package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":20000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":20000")
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.LLMProvider != "auto" {
		t.Fatalf("LLMProvider = %q, want %q", cfg.LLMProvider, "auto")
	}
	if cfg.TTSReadTimeout != 120*time.Second || cfg.TTSConnectTimeout != 10*time.Second || cfg.TTSWriteTimeout != 30*time.Second {
		t.Fatalf("TTS timeouts = %v/%v/%v", cfg.TTSConnectTimeout, cfg.TTSReadTimeout, cfg.TTSWriteTimeout)
	}
	if cfg.StreamEndDelay != time.Second {
		t.Fatalf("StreamEndDelay = %v, want 1s", cfg.StreamEndDelay)
	}
	if cfg.HistoryLimit != 50 || cfg.TaskMarker != "TASK" || cfg.TaskMarkerPolicy != "exact" {
		t.Fatalf("stream defaults = %d %q %q", cfg.HistoryLimit, cfg.TaskMarker, cfg.TaskMarkerPolicy)
	}
	if cfg.Location().String() != "Asia/Hong_Kong" {
		t.Fatalf("Location() = %v", cfg.Location())
	}
}

func TestLoadBindAddrPrecedence(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SVR_PORT", "9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}

	t.Setenv("APP_BIND_ADDR", "127.0.0.1:7000")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:7000" {
		t.Fatalf("BindAddr = %q, want explicit value", cfg.BindAddr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"LLM_PROVIDER", "claude"},
		{"TASK_MARKER_POLICY", "regex"},
		{"HISTORY_LIMIT", "0"},
		{"HISTORY_LIMIT", "many"},
		{"TTS_READ_TIMEOUT", "soon"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"APP_TIMEZONE", "Mars/Olympus"},
		{"WS_CONNECT_RATE", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want failure for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("TASK_MARKER_POLICY", "SUBSTRING")
	t.Setenv("STREAM_END_DELAY", "0s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "off")
	t.Setenv("WS_CONNECT_RATE", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMProvider != "gemini" || cfg.TaskMarkerPolicy != "substring" {
		t.Fatalf("provider/policy = %q/%q", cfg.LLMProvider, cfg.TaskMarkerPolicy)
	}
	if cfg.StreamEndDelay != 0 || cfg.AllowAnyOrigin || cfg.WSConnectRate != 0.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"SVR_PORT",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_JSON",
		"APP_TIMEZONE",
		"PROFILES_DIR",
		"DRIVE_DIR",
		"LLM_PROVIDER",
		"OPENAI_URL",
		"OPENAI_API_KEY",
		"GEMINI_API_KEY",
		"AGENT_MODEL",
		"TTS_URL",
		"TTS_CONNECT_TIMEOUT",
		"TTS_READ_TIMEOUT",
		"TTS_WRITE_TIMEOUT",
		"HISTORY_LIMIT",
		"TASK_MARKER",
		"TASK_MARKER_POLICY",
		"STREAM_END_DELAY",
		"WS_CONNECT_RATE",
		"WS_CONNECT_BURST",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
