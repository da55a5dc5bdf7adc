package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/tunesmith/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedStepper echoes each message text once its gate is released.
type gatedStepper struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan string
	fail    map[string]error
}

func newGatedStepper() *gatedStepper {
	return &gatedStepper{
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 32),
		fail:    make(map[string]error),
	}
}

func (s *gatedStepper) gate(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[id]
	if !ok {
		g = make(chan struct{})
		s.gates[id] = g
	}
	return g
}

func (s *gatedStepper) release(id string) { close(s.gate(id)) }

func (s *gatedStepper) Step(ctx context.Context, in protocol.Inbound) ([]protocol.Outbound, error) {
	s.started <- in.MessageID
	select {
	case <-s.gate(in.MessageID):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	err := s.fail[in.MessageID]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []protocol.Outbound{{SessionID: in.SessionID, Kind: protocol.OutboundText, Text: "re:" + in.Text, Channel: in.Channel}}, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []protocol.Outbound
	got  chan protocol.Outbound
}

func newRecorder() *recorder { return &recorder{got: make(chan protocol.Outbound, 32)} }

func (r *recorder) Send(_ context.Context, out protocol.Outbound) error {
	r.mu.Lock()
	r.sent = append(r.sent, out)
	r.mu.Unlock()
	r.got <- out
	return nil
}

func (r *recorder) next(t *testing.T) protocol.Outbound {
	t.Helper()
	select {
	case out := <-r.got:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound event")
		return protocol.Outbound{}
	}
}

func waitStarted(t *testing.T, s *gatedStepper, want string) {
	t.Helper()
	select {
	case id := <-s.started:
		require.Equal(t, want, id)
	case <-time.After(2 * time.Second):
		t.Fatalf("turn %s did not start", want)
	}
}

func text(session, id, body string) protocol.Inbound {
	return protocol.Inbound{SessionID: session, MessageID: id, Kind: protocol.InboundText, Text: body, Channel: protocol.ChannelWhatsApp}
}

func newTestDispatcher(stepper Stepper, rec *recorder, busy bool) *Dispatcher {
	return New(Config{BusyNotice: busy}, stepper, map[protocol.Channel]Sender{protocol.ChannelWhatsApp: rec}, nil, nil)
}

func TestDispatcherKeepsPerSessionOrder(t *testing.T) {
	stepper := newGatedStepper()
	rec := newRecorder()
	d := newTestDispatcher(stepper, rec, false)

	require.NoError(t, d.Submit(text("s1", "m1", "one")))
	waitStarted(t, stepper, "m1")
	require.NoError(t, d.Submit(text("s1", "m2", "two")))
	require.NoError(t, d.Submit(text("s1", "m3", "three")))
	assert.Equal(t, 2, d.Pending("s1"))

	stepper.release("m2")
	stepper.release("m3")
	stepper.release("m1")

	assert.Equal(t, "re:one", rec.next(t).Text)
	assert.Equal(t, "re:two", rec.next(t).Text)
	assert.Equal(t, "re:three", rec.next(t).Text)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherRunsSessionsInParallel(t *testing.T) {
	stepper := newGatedStepper()
	rec := newRecorder()
	d := newTestDispatcher(stepper, rec, false)

	require.NoError(t, d.Submit(text("s1", "a", "slow")))
	waitStarted(t, stepper, "a")
	require.NoError(t, d.Submit(text("s2", "b", "fast")))
	waitStarted(t, stepper, "b")

	stepper.release("b")
	assert.Equal(t, "re:fast", rec.next(t).Text)
	stepper.release("a")
	assert.Equal(t, "re:slow", rec.next(t).Text)
	require.NoError(t, d.Close(context.Background()))
}

func TestBusyNoticeOncePerRunningTurn(t *testing.T) {
	stepper := newGatedStepper()
	rec := newRecorder()
	d := newTestDispatcher(stepper, rec, true)

	require.NoError(t, d.Submit(text("s1", "m1", "first")))
	waitStarted(t, stepper, "m1")

	require.NoError(t, d.Submit(text("s1", "m1", "first")))
	require.NoError(t, d.Submit(text("s1", "m2", "second")))
	require.NoError(t, d.Submit(text("s1", "m3", "third")))

	assert.Equal(t, BusyNoticeText, rec.next(t).Text)

	stepper.release("m1")
	stepper.release("m2")
	stepper.release("m3")
	require.NoError(t, d.Close(context.Background()))

	var notices int
	for _, out := range rec.sent {
		if out.Text == BusyNoticeText {
			notices++
		}
	}
	// One notice for the m1 turn; m2 and m3 arrived while m1 was running.
	assert.Equal(t, 1, notices)
}

func TestFailedTurnSendsApology(t *testing.T) {
	stepper := newGatedStepper()
	stepper.fail["m1"] = errors.New("store unavailable")
	rec := newRecorder()
	d := newTestDispatcher(stepper, rec, false)

	require.NoError(t, d.Submit(text("s1", "m1", "x")))
	stepper.release("m1")
	assert.Equal(t, TurnFailedText, rec.next(t).Text)
	require.NoError(t, d.Close(context.Background()))
}

func TestCloseRejectsNewEventsAndCancelsOnDeadline(t *testing.T) {
	stepper := newGatedStepper()
	rec := newRecorder()
	d := newTestDispatcher(stepper, rec, false)

	require.NoError(t, d.Submit(text("s1", "m1", "stuck")))
	waitStarted(t, stepper, "m1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, d.Submit(text("s1", "m2", "late")), ErrClosed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.sent)
}

func TestQueueLimit(t *testing.T) {
	stepper := newGatedStepper()
	rec := newRecorder()
	d := New(Config{QueueSize: 1}, stepper, map[protocol.Channel]Sender{protocol.ChannelWhatsApp: rec}, nil, nil)

	require.NoError(t, d.Submit(text("s1", "m1", "a")))
	waitStarted(t, stepper, "m1")
	require.NoError(t, d.Submit(text("s1", "m2", "b")))
	require.ErrorIs(t, d.Submit(text("s1", "m3", "c")), ErrQueueFull)

	stepper.release("m1")
	stepper.release("m2")
	require.NoError(t, d.Close(context.Background()))
}

func TestMissingSenderDropsEvent(t *testing.T) {
	stepper := newGatedStepper()
	d := New(Config{}, stepper, nil, nil, nil)
	in := text("s1", "m1", "a")
	in.Channel = protocol.ChannelWebchat
	require.NoError(t, d.Submit(in))
	stepper.release("m1")
	require.NoError(t, d.Close(context.Background()))
}
