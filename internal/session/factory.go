package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StoreConfig selects and configures a session store driver.
type StoreConfig struct {
	Kind        string // auto|memory|postgres|redis
	DatabaseURL string
	RedisURL    string
	RedisTTL    time.Duration
}

// NewStore builds the configured driver. In auto mode it prefers postgres, then redis,
// then falls back to the volatile in-memory store. The returned name identifies the driver.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, string, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		switch {
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			kind = "postgres"
		case strings.TrimSpace(cfg.RedisURL) != "":
			kind = "redis"
		default:
			kind = "memory"
		}
	}

	switch kind {
	case "memory":
		return NewMemoryStore(), kind, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, kind, nil
	case "redis":
		s, err := NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.RedisTTL)
		if err != nil {
			return nil, "", err
		}
		return s, kind, nil
	default:
		return nil, "", fmt.Errorf("unsupported session store %q", cfg.Kind)
	}
}
