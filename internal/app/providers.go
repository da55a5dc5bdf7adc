package app

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/brief"
	"github.com/ent0n29/tunesmith/internal/config"
	"github.com/ent0n29/tunesmith/internal/cover"
	"github.com/ent0n29/tunesmith/internal/music"
	"github.com/ent0n29/tunesmith/internal/video"
)

// providers are the generation backends resolved from configuration.
type providers struct {
	music       music.Gateway
	covers      cover.Gateway
	videos      video.Compositor
	interpreter brief.Interpreter

	musicMode string
	coverMode string
	videoMode string
	briefMode string
}

func resolveProviders(ctx context.Context, cfg config.Config, store *artifacts.Store, logger *zap.Logger) (providers, error) {
	var p providers

	switch mode := normalizeMode(cfg.MusicProvider); {
	case mode == "suno" || (mode == "auto" && cfg.SunoAPIKey != ""):
		p.music = music.NewSunoGateway(music.SunoConfig{
			BaseURL:      cfg.SunoAPIURL,
			APIKey:       cfg.SunoAPIKey,
			Model:        cfg.SunoModel,
			CallbackURL:  cfg.SunoCallbackURL,
			PollInterval: cfg.SunoPollInterval,
			MaxWait:      cfg.SunoMaxWait,
		}, store, logger.Named("suno"))
		p.musicMode = "suno"
	case mode == "mock" || mode == "auto":
		p.music = music.NewMockGateway(store)
		p.musicMode = "mock"
	default:
		return providers{}, fmt.Errorf("invalid MUSIC_PROVIDER: %q (expected auto|suno|mock)", cfg.MusicProvider)
	}

	switch mode := normalizeMode(cfg.CoverProvider); {
	case mode == "gemini" || (mode == "auto" && cfg.GeminiAPIKey != ""):
		g, err := cover.NewGeminiGateway(ctx, cfg.GeminiAPIKey, cfg.GeminiImageModel, store, logger.Named("gemini"))
		if err != nil {
			if mode == "gemini" {
				return providers{}, fmt.Errorf("gemini cover gateway init failed: %w", err)
			}
			logger.Warn("gemini cover gateway unavailable, using mock", zap.Error(err))
			p.covers, p.coverMode = cover.NewMockGateway(store), "mock"
			break
		}
		p.covers, p.coverMode = g, "gemini"
	case mode == "mock" || mode == "auto":
		p.covers, p.coverMode = cover.NewMockGateway(store), "mock"
	default:
		return providers{}, fmt.Errorf("invalid COVER_PROVIDER: %q (expected auto|gemini|mock)", cfg.CoverProvider)
	}

	switch mode := normalizeMode(cfg.VideoProvider); mode {
	case "ffmpeg", "auto":
		c, err := video.NewFFmpegCompositor(cfg.FFmpegPath, store, logger.Named("ffmpeg"))
		if err == nil {
			p.videos, p.videoMode = c, "ffmpeg"
			break
		}
		if mode == "ffmpeg" {
			return providers{}, fmt.Errorf("ffmpeg compositor init failed: %w", err)
		}
		if _, lookErr := exec.LookPath(cfg.FFmpegPath); lookErr != nil {
			logger.Info("ffmpeg not found, using mock video compositor", zap.String("path", cfg.FFmpegPath))
		}
		p.videos, p.videoMode = video.NewMockCompositor(store), "mock"
	case "mock":
		p.videos, p.videoMode = video.NewMockCompositor(store), "mock"
	default:
		return providers{}, fmt.Errorf("invalid VIDEO_PROVIDER: %q (expected auto|ffmpeg|mock)", cfg.VideoProvider)
	}

	interp, err := brief.NewInterpreter(brief.Config{
		Provider: cfg.BriefProvider,
		APIKey:   cfg.OpenAIAPIKey,
		Model:    cfg.OpenAIModel,
		Timeout:  cfg.BriefTimeout,
	}, logger.Named("brief"))
	if err != nil {
		return providers{}, err
	}
	p.interpreter = interp
	p.briefMode = "rules"
	if _, ok := interp.(*brief.FallbackInterpreter); ok {
		p.briefMode = "openai"
	}
	return p, nil
}

func normalizeMode(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "auto"
	}
	return v
}
