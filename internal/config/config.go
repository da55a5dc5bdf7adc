package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tunesmith service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	PublicBaseURL    string
	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool

	SessionStore           string
	SessionIdleTTL         time.Duration
	SessionJanitorInterval time.Duration
	SessionDedupCapacity   int
	SessionDuplicateWindow time.Duration
	DatabaseURL            string
	RedisURL               string
	RedisSessionTTL        time.Duration

	GatewayMaxAttempts  int
	GatewayRetryBackoff time.Duration
	MusicTimeout        time.Duration
	CoverTimeout        time.Duration
	VideoTimeout        time.Duration

	MusicProvider    string
	SunoAPIURL       string
	SunoAPIKey       string
	SunoModel        string
	SunoPollInterval time.Duration
	SunoMaxWait      time.Duration
	SunoCallbackURL  string

	CoverProvider    string
	GeminiAPIKey     string
	GeminiImageModel string

	VideoProvider string
	FFmpegPath    string

	BriefProvider string
	OpenAIAPIKey  string
	OpenAIModel   string
	BriefTimeout  time.Duration

	PersonaStore      string
	PersonaSQLitePath string

	ArtifactsDir string

	EvolutionAPIURL   string
	EvolutionAPIKey   string
	EvolutionInstance string
	AllowedNumbers    []string

	BusyNotice bool
}

// Load reads the optional config file, then environment variables, and applies safe defaults.
func Load() (Config, error) {
	cfg := defaults()

	if path := stringsTrimSpace("TUNESMITH_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.PublicBaseURL = strings.TrimRight(envOrDefault("APP_PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = strings.ToLower(envOrDefault("APP_LOG_LEVEL", cfg.LogLevel))
	cfg.SessionStore = strings.ToLower(envOrDefault("SESSION_STORE", cfg.SessionStore))
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MusicProvider = strings.ToLower(envOrDefault("MUSIC_PROVIDER", cfg.MusicProvider))
	cfg.SunoAPIURL = strings.TrimRight(envOrDefault("SUNO_API_URL", cfg.SunoAPIURL), "/")
	cfg.SunoAPIKey = envOrDefault("SUNO_API_KEY", cfg.SunoAPIKey)
	cfg.SunoModel = envOrDefault("SUNO_MODEL", cfg.SunoModel)
	cfg.SunoCallbackURL = envOrDefault("SUNO_CALLBACK_URL", cfg.SunoCallbackURL)
	cfg.CoverProvider = strings.ToLower(envOrDefault("COVER_PROVIDER", cfg.CoverProvider))
	cfg.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiImageModel = envOrDefault("GEMINI_IMAGE_MODEL", cfg.GeminiImageModel)
	cfg.VideoProvider = strings.ToLower(envOrDefault("VIDEO_PROVIDER", cfg.VideoProvider))
	cfg.FFmpegPath = envOrDefault("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.BriefProvider = strings.ToLower(envOrDefault("BRIEF_PROVIDER", cfg.BriefProvider))
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.PersonaStore = strings.ToLower(envOrDefault("PERSONA_STORE", cfg.PersonaStore))
	cfg.PersonaSQLitePath = envOrDefault("PERSONA_SQLITE_PATH", cfg.PersonaSQLitePath)
	cfg.ArtifactsDir = envOrDefault("ARTIFACTS_DIR", cfg.ArtifactsDir)
	cfg.EvolutionAPIURL = strings.TrimRight(envOrDefault("EVOLUTION_API_URL", cfg.EvolutionAPIURL), "/")
	cfg.EvolutionAPIKey = envOrDefault("EVOLUTION_API_KEY", cfg.EvolutionAPIKey)
	cfg.EvolutionInstance = envOrDefault("EVOLUTION_INSTANCE", cfg.EvolutionInstance)
	if v := stringsTrimSpace("ALLOWED_NUMBERS"); v != "" {
		cfg.AllowedNumbers = splitList(v)
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL},
		{"SESSION_JANITOR_INTERVAL", &cfg.SessionJanitorInterval},
		{"SESSION_DUPLICATE_WINDOW", &cfg.SessionDuplicateWindow},
		{"REDIS_SESSION_TTL", &cfg.RedisSessionTTL},
		{"GATEWAY_RETRY_BACKOFF", &cfg.GatewayRetryBackoff},
		{"MUSIC_TIMEOUT", &cfg.MusicTimeout},
		{"COVER_TIMEOUT", &cfg.CoverTimeout},
		{"VIDEO_TIMEOUT", &cfg.VideoTimeout},
		{"BRIEF_TIMEOUT", &cfg.BriefTimeout},
		{"SUNO_POLL_INTERVAL", &cfg.SunoPollInterval},
		{"SUNO_MAX_WAIT", &cfg.SunoMaxWait},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.SessionDedupCapacity, err = intFromEnv("SESSION_DEDUP_CAPACITY", cfg.SessionDedupCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayMaxAttempts, err = intFromEnv("GATEWAY_MAX_ATTEMPTS", cfg.GatewayMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.BusyNotice, err = boolFromEnv("DELIVERY_BUSY_NOTICE", cfg.BusyNotice)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		BindAddr:               ":8080",
		ShutdownTimeout:        15 * time.Second,
		PublicBaseURL:          "http://localhost:8080",
		MetricsNamespace:       "tunesmith",
		LogLevel:               "info",
		SessionStore:           "auto",
		SessionIdleTTL:         30 * time.Minute,
		SessionJanitorInterval: time.Minute,
		SessionDedupCapacity:   64,
		SessionDuplicateWindow: 30 * time.Second,
		RedisSessionTTL:        7 * 24 * time.Hour,
		GatewayMaxAttempts:     2,
		GatewayRetryBackoff:    2 * time.Second,
		MusicTimeout:           7 * time.Minute,
		CoverTimeout:           2 * time.Minute,
		VideoTimeout:           3 * time.Minute,
		MusicProvider:          "auto",
		SunoAPIURL:             "https://api.sunoapi.org/api/v1",
		SunoModel:              "V4",
		SunoPollInterval:       20 * time.Second,
		SunoMaxWait:            400 * time.Second,
		CoverProvider:          "auto",
		GeminiImageModel:       "gemini-2.0-flash-exp-image-generation",
		VideoProvider:          "auto",
		FFmpegPath:             "ffmpeg",
		BriefProvider:          "auto",
		OpenAIModel:            "gpt-4o",
		BriefTimeout:           20 * time.Second,
		PersonaStore:           "auto",
		PersonaSQLitePath:      "data/personas.db",
		ArtifactsDir:           "artifacts",
		BusyNotice:             true,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.SessionIdleTTL < time.Minute {
		return fmt.Errorf("SESSION_IDLE_TTL must be at least 1m")
	}
	if c.SessionJanitorInterval <= 0 {
		return fmt.Errorf("SESSION_JANITOR_INTERVAL must be positive")
	}
	if c.SessionDedupCapacity <= 0 {
		return fmt.Errorf("SESSION_DEDUP_CAPACITY must be positive")
	}
	if c.SessionDuplicateWindow < 0 {
		return fmt.Errorf("SESSION_DUPLICATE_WINDOW must be >= 0")
	}
	if c.GatewayMaxAttempts <= 0 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be positive")
	}
	if c.GatewayRetryBackoff < 0 {
		return fmt.Errorf("GATEWAY_RETRY_BACKOFF must be >= 0")
	}
	for name, d := range map[string]time.Duration{
		"MUSIC_TIMEOUT":      c.MusicTimeout,
		"COVER_TIMEOUT":      c.CoverTimeout,
		"VIDEO_TIMEOUT":      c.VideoTimeout,
		"BRIEF_TIMEOUT":      c.BriefTimeout,
		"SUNO_POLL_INTERVAL": c.SunoPollInterval,
		"SUNO_MAX_WAIT":      c.SunoMaxWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if err := oneOf("SESSION_STORE", c.SessionStore, "auto", "memory", "postgres", "redis"); err != nil {
		return err
	}
	if err := oneOf("MUSIC_PROVIDER", c.MusicProvider, "auto", "suno", "mock"); err != nil {
		return err
	}
	if err := oneOf("COVER_PROVIDER", c.CoverProvider, "auto", "gemini", "mock"); err != nil {
		return err
	}
	if err := oneOf("VIDEO_PROVIDER", c.VideoProvider, "auto", "ffmpeg", "mock"); err != nil {
		return err
	}
	if err := oneOf("BRIEF_PROVIDER", c.BriefProvider, "auto", "openai", "rules"); err != nil {
		return err
	}
	if err := oneOf("PERSONA_STORE", c.PersonaStore, "auto", "sqlite", "postgres", "memory"); err != nil {
		return err
	}
	if err := oneOf("APP_LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if c.SessionStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("SESSION_STORE=postgres requires DATABASE_URL")
	}
	if c.SessionStore == "redis" && c.RedisURL == "" {
		return fmt.Errorf("SESSION_STORE=redis requires REDIS_URL")
	}
	if c.PersonaStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("PERSONA_STORE=postgres requires DATABASE_URL")
	}
	if c.MusicProvider == "suno" && c.SunoAPIKey == "" {
		return fmt.Errorf("MUSIC_PROVIDER=suno requires SUNO_API_KEY")
	}
	if c.CoverProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("COVER_PROVIDER=gemini requires GEMINI_API_KEY")
	}
	if c.BriefProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("BRIEF_PROVIDER=openai requires OPENAI_API_KEY")
	}
	return nil
}

// EvolutionEnabled reports whether the WhatsApp channel has enough settings to send replies.
func (c Config) EvolutionEnabled() bool {
	return c.EvolutionAPIURL != "" && c.EvolutionAPIKey != "" && c.EvolutionInstance != ""
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (expected %s)", key, v, strings.Join(allowed, "|"))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
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
