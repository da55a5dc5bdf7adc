package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout accepted by TUNESMITH_CONFIG_FILE.
// Durations are Go duration strings ("30s", "7m").
type fileConfig struct {
	Server struct {
		BindAddr         string `yaml:"bind_addr"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		PublicBaseURL    string `yaml:"public_base_url"`
		MetricsNamespace string `yaml:"metrics_namespace"`
		LogLevel         string `yaml:"log_level"`
		AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	} `yaml:"server"`
	Session struct {
		Store           string `yaml:"store"`
		IdleTTL         string `yaml:"idle_ttl"`
		JanitorInterval string `yaml:"janitor_interval"`
		DedupCapacity   int    `yaml:"dedup_capacity"`
		DuplicateWindow string `yaml:"duplicate_window"`
		DatabaseURL     string `yaml:"database_url"`
		RedisURL        string `yaml:"redis_url"`
		RedisTTL        string `yaml:"redis_ttl"`
	} `yaml:"session"`
	Retry struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		Backoff      string `yaml:"backoff"`
		MusicTimeout string `yaml:"music_timeout"`
		CoverTimeout string `yaml:"cover_timeout"`
		VideoTimeout string `yaml:"video_timeout"`
	} `yaml:"retry"`
	Music struct {
		Provider     string `yaml:"provider"`
		APIURL       string `yaml:"api_url"`
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		PollInterval string `yaml:"poll_interval"`
		MaxWait      string `yaml:"max_wait"`
		CallbackURL  string `yaml:"callback_url"`
	} `yaml:"music"`
	Cover struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
	} `yaml:"cover"`
	Video struct {
		Provider   string `yaml:"provider"`
		FFmpegPath string `yaml:"ffmpeg_path"`
	} `yaml:"video"`
	Brief struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"brief"`
	Persona struct {
		Store      string `yaml:"store"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"persona"`
	Artifacts struct {
		Dir string `yaml:"dir"`
	} `yaml:"artifacts"`
	Evolution struct {
		APIURL         string   `yaml:"api_url"`
		APIKey         string   `yaml:"api_key"`
		Instance       string   `yaml:"instance"`
		AllowedNumbers []string `yaml:"allowed_numbers"`
	} `yaml:"evolution"`
	Delivery struct {
		BusyNotice *bool `yaml:"busy_notice"`
	} `yaml:"delivery"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.Server.BindAddr)
	setString(&cfg.PublicBaseURL, fc.Server.PublicBaseURL)
	setString(&cfg.MetricsNamespace, fc.Server.MetricsNamespace)
	setString(&cfg.LogLevel, fc.Server.LogLevel)
	if fc.Server.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.Server.AllowAnyOrigin
	}
	setString(&cfg.SessionStore, fc.Session.Store)
	setString(&cfg.DatabaseURL, fc.Session.DatabaseURL)
	setString(&cfg.RedisURL, fc.Session.RedisURL)
	if fc.Session.DedupCapacity != 0 {
		cfg.SessionDedupCapacity = fc.Session.DedupCapacity
	}
	if fc.Retry.MaxAttempts != 0 {
		cfg.GatewayMaxAttempts = fc.Retry.MaxAttempts
	}
	setString(&cfg.MusicProvider, fc.Music.Provider)
	setString(&cfg.SunoAPIURL, fc.Music.APIURL)
	setString(&cfg.SunoAPIKey, fc.Music.APIKey)
	setString(&cfg.SunoModel, fc.Music.Model)
	setString(&cfg.SunoCallbackURL, fc.Music.CallbackURL)
	setString(&cfg.CoverProvider, fc.Cover.Provider)
	setString(&cfg.GeminiAPIKey, fc.Cover.APIKey)
	setString(&cfg.GeminiImageModel, fc.Cover.Model)
	setString(&cfg.VideoProvider, fc.Video.Provider)
	setString(&cfg.FFmpegPath, fc.Video.FFmpegPath)
	setString(&cfg.BriefProvider, fc.Brief.Provider)
	setString(&cfg.OpenAIAPIKey, fc.Brief.APIKey)
	setString(&cfg.OpenAIModel, fc.Brief.Model)
	setString(&cfg.PersonaStore, fc.Persona.Store)
	setString(&cfg.PersonaSQLitePath, fc.Persona.SQLitePath)
	setString(&cfg.ArtifactsDir, fc.Artifacts.Dir)
	setString(&cfg.EvolutionAPIURL, fc.Evolution.APIURL)
	setString(&cfg.EvolutionAPIKey, fc.Evolution.APIKey)
	setString(&cfg.EvolutionInstance, fc.Evolution.Instance)
	if len(fc.Evolution.AllowedNumbers) > 0 {
		cfg.AllowedNumbers = append([]string(nil), fc.Evolution.AllowedNumbers...)
	}
	if fc.Delivery.BusyNotice != nil {
		cfg.BusyNotice = *fc.Delivery.BusyNotice
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"session.idle_ttl", fc.Session.IdleTTL, &cfg.SessionIdleTTL},
		{"session.janitor_interval", fc.Session.JanitorInterval, &cfg.SessionJanitorInterval},
		{"session.redis_ttl", fc.Session.RedisTTL, &cfg.RedisSessionTTL},
		{"session.duplicate_window", fc.Session.DuplicateWindow, &cfg.SessionDuplicateWindow},
		{"brief.timeout", fc.Brief.Timeout, &cfg.BriefTimeout},
		{"retry.backoff", fc.Retry.Backoff, &cfg.GatewayRetryBackoff},
		{"retry.music_timeout", fc.Retry.MusicTimeout, &cfg.MusicTimeout},
		{"retry.cover_timeout", fc.Retry.CoverTimeout, &cfg.CoverTimeout},
		{"retry.video_timeout", fc.Retry.VideoTimeout, &cfg.VideoTimeout},
		{"music.poll_interval", fc.Music.PollInterval, &cfg.SunoPollInterval},
		{"music.max_wait", fc.Music.MaxWait, &cfg.SunoMaxWait},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s parse error: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
