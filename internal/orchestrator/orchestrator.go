// Package orchestrator drives one conversation turn: deduplicate, plan, dispatch to the
// generation gateways with retries, update the session and produce outbound events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/brief"
	"github.com/ent0n29/tunesmith/internal/cover"
	"github.com/ent0n29/tunesmith/internal/music"
	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/session"
	"github.com/ent0n29/tunesmith/internal/video"
)

// ErrPrecondition marks a command that cannot run in the current state, such as saving a
// persona before any track was selected. It is reported to the user, never retried.
var ErrPrecondition = errors.New("precondition failed")

var errDuplicate = errors.New("duplicate event")

const (
	defaultMaxAttempts   = 2
	defaultRetryBackoff  = 2 * time.Second
	defaultMusicTimeout  = 7 * time.Minute
	defaultCoverTimeout  = 2 * time.Minute
	defaultVideoTimeout  = 3 * time.Minute
	defaultDedupCapacity = 64
	registerTimeout      = 30 * time.Second
	defaultBriefTimeout  = 30 * time.Second
)

type Config struct {
	MaxAttempts   int
	RetryBackoff  time.Duration
	MusicTimeout  time.Duration
	CoverTimeout  time.Duration
	VideoTimeout  time.Duration
	BriefTimeout  time.Duration
	DedupCapacity int
	// DuplicateWindow absorbs a repeated text under a new message id within the window.
	// Zero disables it.
	DuplicateWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.MusicTimeout <= 0 {
		c.MusicTimeout = defaultMusicTimeout
	}
	if c.CoverTimeout <= 0 {
		c.CoverTimeout = defaultCoverTimeout
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = defaultVideoTimeout
	}
	if c.BriefTimeout <= 0 {
		c.BriefTimeout = defaultBriefTimeout
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = defaultDedupCapacity
	}
	if c.DuplicateWindow < 0 {
		c.DuplicateWindow = 0
	}
	return c
}

// Deps are the collaborators of the orchestrator. Metrics and Logger are optional.
type Deps struct {
	Sessions    *session.Manager
	Music       music.Gateway
	Covers      cover.Gateway
	Videos      video.Compositor
	Interpreter brief.Interpreter
	Personas    persona.Store
	Artifacts   *artifacts.Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("orchestrator: session manager is required")
	case deps.Music == nil:
		return nil, errors.New("orchestrator: music gateway is required")
	case deps.Covers == nil:
		return nil, errors.New("orchestrator: cover gateway is required")
	case deps.Videos == nil:
		return nil, errors.New("orchestrator: video compositor is required")
	case deps.Interpreter == nil:
		return nil, errors.New("orchestrator: brief interpreter is required")
	case deps.Personas == nil:
		return nil, errors.New("orchestrator: persona store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("orchestrator: artifact store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	deps.Metrics.SetBudget(string(session.OpMusic), cfg.MusicTimeout)
	deps.Metrics.SetBudget(string(session.OpCover), cfg.CoverTimeout)
	deps.Metrics.SetBudget(string(session.OpVideo), cfg.VideoTimeout)
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Outcome is the result of one turn.
type Outcome struct {
	Events []protocol.Outbound
	// Duplicate is set when the event was absorbed as a redelivery and nothing happened.
	Duplicate bool
}

// Step runs one inbound event as an atomic turn on its session and returns the events
// for the user. A duplicate yields no events and no session change.
func (o *Orchestrator) Step(ctx context.Context, in protocol.Inbound) ([]protocol.Outbound, error) {
	res, err := o.Handle(ctx, in)
	return res.Events, err
}

// Handle is Step with the duplicate outcome reported. A message is a duplicate when its
// id was already processed, or when it repeats a text of the session within
// DuplicateWindow.
//
// An error is returned only for invalid input, cancellation or a session store failure;
// in those cases the turn is not persisted. User-level failures become outbound text.
func (o *Orchestrator) Handle(ctx context.Context, in protocol.Inbound) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid inbound event: %w", err)
	}
	ctx, span := observability.Tracer().Start(ctx, "orchestrator.step", trace.WithAttributes(
		attribute.String("message_id", in.MessageID),
		attribute.String("channel", string(in.Channel)),
		attribute.String("kind", string(in.Kind)),
	))
	defer span.End()

	log := o.log.With(
		zap.String("session_id", policy.MaskID(in.SessionID)),
		zap.String("message_id", in.MessageID),
	)

	var t *turn
	err := o.deps.Sessions.WithSession(ctx, in.SessionID, func(s *session.Session) error {
		now := o.now()
		if s.HasProcessed(in.MessageID) {
			return errDuplicate
		}
		if in.Kind == protocol.InboundText && s.IsRepeat(in.Text, now, o.cfg.DuplicateWindow) {
			return errDuplicate
		}
		s.MarkProcessed(in.MessageID, o.cfg.DedupCapacity)
		if in.Kind == protocol.InboundText {
			s.MarkText(in.Text, now, o.cfg.DuplicateWindow)
		}
		t = &turn{o: o, s: s, in: in, log: log}
		return t.run(ctx)
	})
	o.deps.Metrics.SetActiveSessions(o.deps.Sessions.ActiveCount())

	switch {
	case errors.Is(err, errDuplicate):
		span.SetAttributes(attribute.Bool("duplicate", true))
		o.deps.Metrics.ObserveDuplicate()
		o.deps.Metrics.ObserveTurn("duplicate")
		log.Debug("duplicate event absorbed")
		return Outcome{Duplicate: true}, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.deps.Metrics.ObserveTurn("aborted")
		log.Warn("turn aborted", zap.Error(err))
		return Outcome{}, err
	}

	span.SetAttributes(
		attribute.String("intent", string(t.intent)),
		attribute.String("phase", string(t.s.Phase)),
	)
	o.deps.Metrics.ObserveTurn("ok")
	log.Info("turn completed",
		zap.String("intent", string(t.intent)),
		zap.String("phase", string(t.s.Phase)),
		zap.Int("outbound", len(t.out)),
	)

	now := o.now()
	for i := range t.out {
		t.out[i].ID = uuid.NewString()
		t.out[i].SessionID = in.SessionID
		t.out[i].Channel = in.Channel
		t.out[i].CreatedAt = now
	}
	return Outcome{Events: t.out}, nil
}

// Snapshot returns the stored session without changing it.
func (o *Orchestrator) Snapshot(ctx context.Context, id string) (*session.Session, error) {
	return o.deps.Sessions.Snapshot(ctx, id)
}

// Reset force-resets a session to Idle, serialized with its turns.
func (o *Orchestrator) Reset(ctx context.Context, id string) error {
	return o.deps.Sessions.Reset(ctx, id)
}
