package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.GatewayMaxAttempts != 2 {
		t.Fatalf("GatewayMaxAttempts = %d, want 2", cfg.GatewayMaxAttempts)
	}
	if cfg.SessionDedupCapacity != 64 {
		t.Fatalf("SessionDedupCapacity = %d, want 64", cfg.SessionDedupCapacity)
	}
	if cfg.SunoPollInterval != 20*time.Second || cfg.SunoMaxWait != 400*time.Second {
		t.Fatalf("unexpected suno polling defaults: %v / %v", cfg.SunoPollInterval, cfg.SunoMaxWait)
	}
	if cfg.SessionDuplicateWindow != 30*time.Second {
		t.Fatalf("SessionDuplicateWindow = %v, want 30s", cfg.SessionDuplicateWindow)
	}
	if cfg.SessionStore != "auto" || cfg.PersonaStore != "auto" {
		t.Fatalf("stores = %q/%q, want auto/auto", cfg.SessionStore, cfg.PersonaStore)
	}
	if cfg.EvolutionEnabled() {
		t.Fatalf("EvolutionEnabled() = true, want false without credentials")
	}
}

func TestLoadParsesAllowedNumbers(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ALLOWED_NUMBERS", " 905551112233, ,905554445566 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.AllowedNumbers) != 2 || cfg.AllowedNumbers[1] != "905554445566" {
		t.Fatalf("AllowedNumbers = %#v", cfg.AllowedNumbers)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"GATEWAY_MAX_ATTEMPTS":     "0",
		"SESSION_IDLE_TTL":         "10s",
		"SESSION_STORE":            "etcd",
		"SESSION_DUPLICATE_WINDOW": "-1s",
		"BRIEF_TIMEOUT":            "0s",
		"MUSIC_TIMEOUT":            "soon",
		"APP_ALLOW_ANY_ORIGIN":     "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
			}
		})
	}
}

func TestLoadDuplicateWindowCanBeDisabled(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SESSION_DUPLICATE_WINDOW", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionDuplicateWindow != 0 {
		t.Fatalf("SessionDuplicateWindow = %v, want 0", cfg.SessionDuplicateWindow)
	}
}

func TestLoadRequiresCredentialsForExplicitProviders(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MUSIC_PROVIDER", "suno")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing SUNO_API_KEY error")
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tunesmith.yaml")
	body := []byte(`
server:
  bind_addr: ":7000"
  log_level: DEBUG
retry:
  max_attempts: 4
  music_timeout: 90s
evolution:
  allowed_numbers: ["111", "222"]
delivery:
  busy_notice: false
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TUNESMITH_CONFIG_FILE", path)
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7000" {
		t.Fatalf("BindAddr = %q, want file value", cfg.BindAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.GatewayMaxAttempts != 3 {
		t.Fatalf("GatewayMaxAttempts = %d, want env override 3", cfg.GatewayMaxAttempts)
	}
	if cfg.MusicTimeout != 90*time.Second {
		t.Fatalf("MusicTimeout = %v, want 90s", cfg.MusicTimeout)
	}
	if len(cfg.AllowedNumbers) != 2 {
		t.Fatalf("AllowedNumbers = %#v, want file values", cfg.AllowedNumbers)
	}
	if cfg.BusyNotice {
		t.Fatalf("BusyNotice = true, want false from file")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"TUNESMITH_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_PUBLIC_BASE_URL",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_ALLOW_ANY_ORIGIN",
		"SESSION_STORE",
		"SESSION_IDLE_TTL",
		"SESSION_JANITOR_INTERVAL",
		"SESSION_DEDUP_CAPACITY",
		"SESSION_DUPLICATE_WINDOW",
		"DATABASE_URL",
		"REDIS_URL",
		"REDIS_SESSION_TTL",
		"GATEWAY_MAX_ATTEMPTS",
		"GATEWAY_RETRY_BACKOFF",
		"MUSIC_TIMEOUT",
		"COVER_TIMEOUT",
		"VIDEO_TIMEOUT",
		"MUSIC_PROVIDER",
		"SUNO_API_URL",
		"SUNO_API_KEY",
		"SUNO_MODEL",
		"SUNO_POLL_INTERVAL",
		"SUNO_MAX_WAIT",
		"SUNO_CALLBACK_URL",
		"COVER_PROVIDER",
		"GEMINI_API_KEY",
		"GEMINI_IMAGE_MODEL",
		"VIDEO_PROVIDER",
		"FFMPEG_PATH",
		"BRIEF_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"BRIEF_TIMEOUT",
		"PERSONA_STORE",
		"PERSONA_SQLITE_PATH",
		"ARTIFACTS_DIR",
		"EVOLUTION_API_URL",
		"EVOLUTION_API_KEY",
		"EVOLUTION_INSTANCE",
		"ALLOWED_NUMBERS",
		"DELIVERY_BUSY_NOTICE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
