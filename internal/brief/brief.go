// Package brief turns a user's free-text music request into generation parameters.
package brief

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/music"
	"github.com/ent0n29/tunesmith/internal/reliability"
)

// Interpreter maps briefs and refinement deltas onto music parameters.
type Interpreter interface {
	Interpret(ctx context.Context, brief string) (music.Params, error)
	Refine(ctx context.Context, base music.Params, delta string) (music.Params, error)
}

// Config controls interpreter construction.
type Config struct {
	Provider string // auto|openai|rules
	APIKey   string
	Model    string
	// Timeout bounds one call to the model before the rules interpreter takes over.
	Timeout time.Duration
}

const defaultPrimaryTimeout = 20 * time.Second

func NewInterpreter(cfg Config, logger *zap.Logger) (Interpreter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	rules := NewRuleInterpreter()
	switch provider {
	case "rules":
		return rules, nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai brief provider")
		}
		return newModelInterpreter(cfg, rules, logger), nil
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return newModelInterpreter(cfg, rules, logger), nil
		}
		return rules, nil
	default:
		return nil, fmt.Errorf("unsupported brief provider %q", cfg.Provider)
	}
}

func newModelInterpreter(cfg Config, rules Interpreter, logger *zap.Logger) *FallbackInterpreter {
	f := NewFallbackInterpreter(NewOpenAIInterpreter(cfg.APIKey, cfg.Model), rules, logger)
	if cfg.Timeout > 0 {
		f.timeout = cfg.Timeout
	}
	return f
}

// FallbackInterpreter tries a primary interpreter first and falls back on error.
// A primary call that outlives its timeout counts as an error. Cancellation is returned as is.
type FallbackInterpreter struct {
	primary  Interpreter
	fallback Interpreter
	timeout  time.Duration
	logger   *zap.Logger
}

func NewFallbackInterpreter(primary, fallback Interpreter, logger *zap.Logger) *FallbackInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackInterpreter{primary: primary, fallback: fallback, timeout: defaultPrimaryTimeout, logger: logger}
}

func (f *FallbackInterpreter) Interpret(ctx context.Context, brief string) (music.Params, error) {
	return f.run(ctx, "interpret",
		func(ctx context.Context, i Interpreter) (music.Params, error) { return i.Interpret(ctx, brief) })
}

func (f *FallbackInterpreter) Refine(ctx context.Context, base music.Params, delta string) (music.Params, error) {
	return f.run(ctx, "refine",
		func(ctx context.Context, i Interpreter) (music.Params, error) { return i.Refine(ctx, base, delta) })
}

func (f *FallbackInterpreter) run(ctx context.Context, op string, call func(context.Context, Interpreter) (music.Params, error)) (music.Params, error) {
	if f.primary == nil {
		if f.fallback == nil {
			return music.Params{}, errors.New("fallback interpreter misconfigured")
		}
		return call(ctx, f.fallback)
	}
	params, err := reliability.CallWithBudget(ctx, f.timeout, func(ctx context.Context) (music.Params, error) {
		return call(ctx, f.primary)
	})
	if err == nil {
		return params, nil
	}
	if reliability.IsCancellation(err) || ctx.Err() != nil || f.fallback == nil {
		return music.Params{}, err
	}
	f.logger.Warn("brief interpreter failed, using fallback", zap.String("op", op), zap.Error(err))
	fallbackParams, fallbackErr := call(ctx, f.fallback)
	if fallbackErr != nil {
		return music.Params{}, fmt.Errorf("primary interpreter error: %w; fallback interpreter error: %v", err, fallbackErr)
	}
	return fallbackParams, nil
}
