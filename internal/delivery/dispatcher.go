// Package delivery runs inbound events through the orchestrator in per-session order and
// hands the resulting outbound events to the channel senders.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/reliability"
)

var (
	ErrClosed    = errors.New("dispatcher is closed")
	ErrQueueFull = errors.New("session queue is full")
	ErrNoSender  = errors.New("no sender for channel")
)

const (
	BusyNoticeText   = "Still working on your previous request, I'll get to this next."
	TurnFailedText   = "Something went wrong on my side. Please send that again."
	defaultQueueSize = 16
	defaultTurnLimit = 20 * time.Minute
	sendTimeout      = 30 * time.Second
)

// Stepper runs one turn. *orchestrator.Orchestrator implements it.
type Stepper interface {
	Step(ctx context.Context, in protocol.Inbound) ([]protocol.Outbound, error)
}

// Sender delivers an outbound event on one channel.
type Sender interface {
	Send(ctx context.Context, out protocol.Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, out protocol.Outbound) error

func (f SenderFunc) Send(ctx context.Context, out protocol.Outbound) error { return f(ctx, out) }

type Config struct {
	BusyNotice bool
	QueueSize  int
	// TurnTimeout bounds one turn including all of its gateway retries.
	TurnTimeout time.Duration
}

type Dispatcher struct {
	cfg     Config
	stepper Stepper
	senders map[protocol.Channel]Sender
	metrics *observability.Metrics
	log     *zap.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*sessionQueue
	closed bool
}

// sessionQueue is the FIFO of one session. A worker goroutine exists while running is set.
type sessionQueue struct {
	pending  []protocol.Inbound
	inFlight string
	noticed  bool
	running  bool
}

func New(cfg Config, stepper Stepper, senders map[protocol.Channel]Sender, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[protocol.Channel]Sender, len(senders))
	for ch, s := range senders {
		if s != nil {
			copied[ch] = s
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		stepper: stepper,
		senders: copied,
		metrics: metrics,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
		baseCtx: ctx,
		cancel:  cancel,
		queues:  make(map[string]*sessionQueue),
	}
}

// Submit enqueues in behind any earlier events of its session and returns without waiting
// for the turn. When a turn of the session is already running the sender gets one busy
// notice per running turn.
func (d *Dispatcher) Submit(in protocol.Inbound) error {
	if err := in.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	q := d.queues[in.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[in.SessionID] = q
	}
	if len(q.pending) >= d.cfg.QueueSize {
		d.mu.Unlock()
		return ErrQueueFull
	}
	known := q.inFlight == in.MessageID
	for _, p := range q.pending {
		if p.MessageID == in.MessageID {
			known = true
		}
	}
	notify := d.cfg.BusyNotice && q.running && q.inFlight != "" && !q.noticed && !known &&
		in.Kind == protocol.InboundText
	if notify {
		q.noticed = true
	}
	q.pending = append(q.pending, in)
	start := !q.running
	if start {
		q.running = true
		d.wg.Add(1)
	}
	if notify {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if notify {
		go func() {
			defer d.wg.Done()
			d.metrics.ObserveBusyNotice()
			d.deliver(in.SessionID, []protocol.Outbound{{
				SessionID: in.SessionID,
				Kind:      protocol.OutboundText,
				Text:      BusyNoticeText,
				Channel:   in.Channel,
				CreatedAt: d.now(),
			}})
		}()
	}
	if start {
		go d.work(in.SessionID)
	}
	return nil
}

// work drains the queue of one session and exits once it is empty.
func (d *Dispatcher) work(sessionID string) {
	defer d.wg.Done()
	for {
		in, ok := d.next(sessionID)
		if !ok {
			return
		}
		d.runTurn(in)
	}
}

func (d *Dispatcher) next(sessionID string) (protocol.Inbound, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[sessionID]
	if q == nil || len(q.pending) == 0 {
		delete(d.queues, sessionID)
		return protocol.Inbound{}, false
	}
	in := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = in.MessageID
	q.noticed = false
	return in, true
}

func (d *Dispatcher) runTurn(in protocol.Inbound) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.TurnTimeout)
	defer cancel()
	log := d.log.With(zap.String("session_id", policy.MaskID(in.SessionID)), zap.String("message_id", in.MessageID))

	out, err := d.stepper.Step(ctx, in)
	if err != nil {
		if reliability.IsCancellation(err) && d.baseCtx.Err() != nil {
			log.Info("turn abandoned at shutdown", zap.Error(err))
			return
		}
		// The turn was not persisted, so a redelivery of the same id is processed again.
		log.Error("turn failed", zap.Error(err))
		out = []protocol.Outbound{{
			SessionID: in.SessionID,
			Kind:      protocol.OutboundText,
			Text:      TurnFailedText,
			Channel:   in.Channel,
			CreatedAt: d.now(),
		}}
	}
	d.deliver(in.SessionID, out)
}

func (d *Dispatcher) deliver(sessionID string, out []protocol.Outbound) {
	for _, o := range out {
		result := "ok"
		sender, ok := d.senders[o.Channel]
		if !ok {
			result = "no_sender"
			d.log.Warn("dropping outbound event", zap.String("channel", string(o.Channel)), zap.Error(ErrNoSender))
		} else {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(d.baseCtx), sendTimeout)
			if err := sender.Send(ctx, o); err != nil {
				result = "error"
				d.log.Warn("outbound delivery failed",
					zap.String("session_id", policy.MaskID(sessionID)),
					zap.String("kind", string(o.Kind)),
					zap.Error(err),
				)
			}
			cancel()
		}
		d.metrics.ObserveOutbound(string(o.Channel), string(o.Kind), result)
	}
}

// Pending reports the number of queued events of a session, excluding the running one.
func (d *Dispatcher) Pending(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[sessionID]; q != nil {
		return len(q.pending)
	}
	return 0
}

// Close stops accepting events and waits for queued turns to finish. If ctx ends first the
// running turns are cancelled and Close waits for them to unwind.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
