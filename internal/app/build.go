// Package app wires configuration into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/channel/evolution"
	"github.com/ent0n29/tunesmith/internal/channel/webchat"
	"github.com/ent0n29/tunesmith/internal/config"
	"github.com/ent0n29/tunesmith/internal/delivery"
	"github.com/ent0n29/tunesmith/internal/httpapi"
	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/orchestrator"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/session"
)

// briefFallbackSlack is added to the interpreter's own budget so the rules fallback can still answer.
const briefFallbackSlack = 5 * time.Second

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *delivery.Dispatcher
	Metrics      *observability.Metrics
	Modes        httpapi.Modes

	// Cleanup should be called on shutdown, after the dispatcher is closed, to release
	// the stores.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	arts, err := artifacts.NewStore(cfg.ArtifactsDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	sessionStore, sessionMode, err := session.NewStore(ctx, session.StoreConfig{
		Kind:        cfg.SessionStore,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		RedisTTL:    cfg.RedisSessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	personaStore, personaMode, err := persona.NewStore(ctx, cfg.PersonaStore, cfg.DatabaseURL, cfg.PersonaSQLitePath)
	if err != nil {
		_ = sessionStore.Close()
		return nil, fmt.Errorf("persona store init failed: %w", err)
	}
	closeStores := func() error {
		return errors.Join(personaStore.Close(), sessionStore.Close())
	}

	prov, err := resolveProviders(ctx, cfg, arts, logger)
	if err != nil {
		_ = closeStores()
		return nil, err
	}

	sessions := session.NewManager(sessionStore, cfg.SessionIdleTTL, logger.Named("sessions"))
	sessions.SetEvictHook(func(_ string, active int) {
		metrics.ObserveEviction(active)
	})

	orch, err := orchestrator.New(orchestrator.Config{
		MaxAttempts:     cfg.GatewayMaxAttempts,
		RetryBackoff:    cfg.GatewayRetryBackoff,
		MusicTimeout:    cfg.MusicTimeout,
		CoverTimeout:    cfg.CoverTimeout,
		VideoTimeout:    cfg.VideoTimeout,
		DedupCapacity:   cfg.SessionDedupCapacity,
		DuplicateWindow: cfg.SessionDuplicateWindow,
		BriefTimeout:    cfg.BriefTimeout + briefFallbackSlack,
	}, orchestrator.Deps{
		Sessions:    sessions,
		Music:       prov.music,
		Covers:      prov.covers,
		Videos:      prov.videos,
		Interpreter: prov.interpreter,
		Personas:    personaStore,
		Artifacts:   arts,
		Metrics:     metrics,
		Logger:      logger.Named("orchestrator"),
	})
	if err != nil {
		_ = closeStores()
		return nil, err
	}

	hub := webchat.NewHub(cfg.AllowAnyOrigin, logger.Named("webchat"))
	senders := map[protocol.Channel]delivery.Sender{
		protocol.ChannelWebchat: hub,
	}
	if cfg.EvolutionEnabled() {
		wa, err := evolution.NewClient(evolution.Config{
			BaseURL:  cfg.EvolutionAPIURL,
			APIKey:   cfg.EvolutionAPIKey,
			Instance: cfg.EvolutionInstance,
		}, logger.Named("evolution"))
		if err != nil {
			_ = closeStores()
			return nil, err
		}
		senders[protocol.ChannelWhatsApp] = wa
	}
	// A turn may chain music, cover and video, each with its own retries.
	attempts := time.Duration(max(cfg.GatewayMaxAttempts, 1))
	turnTimeout := attempts * (cfg.MusicTimeout + cfg.CoverTimeout + cfg.VideoTimeout + cfg.GatewayRetryBackoff)
	dispatcher := delivery.New(delivery.Config{
		BusyNotice:  cfg.BusyNotice,
		TurnTimeout: turnTimeout,
	}, orch, senders, metrics, logger.Named("delivery"))

	modes := httpapi.Modes{
		Music:        prov.musicMode,
		Cover:        prov.coverMode,
		Video:        prov.videoMode,
		Brief:        prov.briefMode,
		SessionStore: sessionMode,
		PersonaStore: personaMode,
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Personas:     personaStore,
		Artifacts:    arts,
		Webchat:      hub,
		Senders:      policy.NewSenderPolicy(cfg.AllowedNumbers),
		Metrics:      metrics,
		Logger:       logger.Named("http"),
		Modes:        modes,
	})

	logger.Info("service wired",
		zap.String("music", modes.Music),
		zap.String("cover", modes.Cover),
		zap.String("video", modes.Video),
		zap.String("brief", modes.Brief),
		zap.String("session_store", modes.SessionStore),
		zap.String("persona_store", modes.PersonaStore),
		zap.Bool("whatsapp", cfg.EvolutionEnabled()),
	)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Modes:        modes,
		Cleanup:      closeStores,
	}, nil
}
