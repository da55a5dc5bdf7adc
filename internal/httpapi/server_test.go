package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/brief"
	"github.com/ent0n29/tunesmith/internal/config"
	"github.com/ent0n29/tunesmith/internal/cover"
	"github.com/ent0n29/tunesmith/internal/delivery"
	"github.com/ent0n29/tunesmith/internal/music"
	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/orchestrator"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/session"
	"github.com/ent0n29/tunesmith/internal/video"
)

type testEnv struct {
	ts       *httptest.Server
	arts     *artifacts.Store
	personas persona.Store
	sent     chan protocol.Outbound
}

func newTestEnv(t *testing.T, metrics *observability.Metrics) *testEnv {
	t.Helper()
	arts, err := artifacts.NewStore(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	personas := persona.NewInMemoryStore()
	orch, err := orchestrator.New(orchestrator.Config{RetryBackoff: -1}, orchestrator.Deps{
		Sessions:    session.NewManager(session.NewMemoryStore(), time.Hour, nil),
		Music:       music.NewMockGateway(arts),
		Covers:      cover.NewMockGateway(arts),
		Videos:      video.NewMockCompositor(arts),
		Interpreter: brief.NewRuleInterpreter(),
		Personas:    personas,
		Artifacts:   arts,
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	sent := make(chan protocol.Outbound, 16)
	dispatcher := delivery.New(delivery.Config{}, orch, map[protocol.Channel]delivery.Sender{
		protocol.ChannelWhatsApp: delivery.SenderFunc(func(_ context.Context, out protocol.Outbound) error {
			sent <- out
			return nil
		}),
	}, metrics, nil)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	srv := New(config.Config{FFmpegPath: "ffmpeg"}, Deps{
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Personas:     personas,
		Artifacts:    arts,
		Senders:      policy.NewSenderPolicy([]string{"905551112233"}),
		Metrics:      metrics,
		Modes:        Modes{Music: "mock", Cover: "mock", Video: "mock", Brief: "rules", SessionStore: "memory", PersonaStore: "memory"},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, arts: arts, personas: personas, sent: sent}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestUIRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}

	uiRes, err := http.Get(env.ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if uiRes.StatusCode != http.StatusOK || !strings.Contains(body.String(), "/v1/chat/ws") {
		t.Fatalf("GET /ui/ status = %d, body missing chat client", uiRes.StatusCode)
	}
}

func TestEventEndpointMediaAckIsNotDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	req := map[string]string{"session_id": "api-2", "message_id": "img-1", "kind": "media_ack", "media_type": "image"}

	var got eventResponse
	res := postJSON(t, env.ts.URL+"/v1/events", req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/events status = %d, want 200", res.StatusCode)
	}
	decodeBody(t, res, &got)
	if got.Duplicate || len(got.Events) != 0 {
		t.Fatalf("media ack response = %+v, want no events and not duplicate", got)
	}

	decodeBody(t, postJSON(t, env.ts.URL+"/v1/events", req), &got)
	if !got.Duplicate {
		t.Fatalf("redelivered media ack response = %+v, want duplicate", got)
	}
}

func TestEventEndpointRunsTurnAndAbsorbsDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	req := map[string]string{"session_id": "api-1", "message_id": "m1", "text": "chill lofi beats"}

	var first eventResponse
	res := postJSON(t, env.ts.URL+"/v1/events", req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/events status = %d, want 200", res.StatusCode)
	}
	decodeBody(t, res, &first)
	if first.Duplicate || len(first.Events) != 1 || first.Events[0].Kind != protocol.OutboundMusicOptions {
		t.Fatalf("first response = %+v, want one music_options event", first)
	}

	var second eventResponse
	decodeBody(t, postJSON(t, env.ts.URL+"/v1/events", req), &second)
	if !second.Duplicate || len(second.Events) != 0 {
		t.Fatalf("second response = %+v, want duplicate with no events", second)
	}

	res = postJSON(t, env.ts.URL+"/v1/events", map[string]string{"session_id": "api-1", "text": "x"})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing message_id status = %d, want 400", res.StatusCode)
	}
}

func TestSessionSnapshotAndReset(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := http.Get(env.ts.URL + "/v1/sessions/nobody")
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", res.StatusCode)
	}

	postJSON(t, env.ts.URL+"/v1/events", map[string]string{"session_id": "api-1", "message_id": "m1", "text": "happy pop"}).Body.Close()

	var snap session.Session
	res, err = http.Get(env.ts.URL + "/v1/sessions/api-1")
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	decodeBody(t, res, &snap)
	if snap.Phase != session.PhaseAwaitingMusicSelection || len(snap.Candidates) != 2 {
		t.Fatalf("snapshot phase=%s candidates=%d", snap.Phase, len(snap.Candidates))
	}

	var reset session.Session
	decodeBody(t, postJSON(t, env.ts.URL+"/v1/sessions/api-1/reset", nil), &reset)
	if reset.Phase != session.PhaseIdle || len(reset.Candidates) != 0 {
		t.Fatalf("after reset phase=%s candidates=%d", reset.Phase, len(reset.Candidates))
	}
}

func TestPersonaEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.personas.Save(context.Background(), persona.Persona{Name: "Summer", Params: music.Params{Style: "pop"}}, false); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var list struct {
		Personas []persona.Persona `json:"personas"`
	}
	res, err := http.Get(env.ts.URL + "/v1/personas")
	if err != nil {
		t.Fatalf("GET personas error = %v", err)
	}
	decodeBody(t, res, &list)
	if len(list.Personas) != 1 || list.Personas[0].Name != "Summer" {
		t.Fatalf("personas = %+v", list.Personas)
	}

	for _, want := range []int{http.StatusNoContent, http.StatusNotFound} {
		req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/personas/summer", nil)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE persona error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != want {
			t.Fatalf("DELETE status = %d, want %d", res.StatusCode, want)
		}
	}
}

func TestFileServing(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.arts.Save(artifacts.KindMusic, "track.mp3", strings.NewReader("mp3")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res, err := http.Get(env.ts.URL + "/files/music/track.mp3")
	if err != nil {
		t.Fatalf("GET file error = %v", err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || body.String() != "mp3" {
		t.Fatalf("GET file status = %d body = %q", res.StatusCode, body.String())
	}

	for _, path := range []string{"/files/music/missing.mp3", "/files/secrets/track.mp3", "/files/music/..%2fconfig"} {
		res, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want 404", path, res.StatusCode)
		}
	}
}

func TestEvolutionWebhookQueuesAllowedMessages(t *testing.T) {
	env := newTestEnv(t, nil)

	ignored := `{"event":"messages.upsert","data":{"key":{"remoteJid":"15550001111@s.whatsapp.net","id":"X1"},"message":{"conversation":"hi"}}}`
	var status map[string]string
	decodeBody(t, postRaw(t, env.ts.URL+"/v1/webhook/evolution", ignored), &status)
	if status["status"] != "ignored" {
		t.Fatalf("not allowed sender status = %q, want ignored", status["status"])
	}

	accepted := `{"event":"messages.upsert","data":{"key":{"remoteJid":"905551112233@s.whatsapp.net","id":"W1"},"message":{"conversation":"energetic edm"}}}`
	decodeBody(t, postRaw(t, env.ts.URL+"/v1/webhook/evolution", accepted), &status)
	if status["status"] != "queued" {
		t.Fatalf("allowed sender status = %q, want queued", status["status"])
	}

	select {
	case out := <-env.sent:
		if out.SessionID != "905551112233" || out.Kind != protocol.OutboundMusicOptions {
			t.Fatalf("delivered %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no outbound event delivered")
	}
}

func TestStatusAndPerfEndpoints(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_status")
	env := newTestEnv(t, metrics)

	var status statusResponse
	res, err := http.Get(env.ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status error = %v", err)
	}
	decodeBody(t, res, &status)
	if status.Music != "mock" || status.WhatsApp || len(status.Checks) == 0 {
		t.Fatalf("status = %+v", status)
	}

	postJSON(t, env.ts.URL+"/v1/events", map[string]string{"session_id": "api-1", "message_id": "m1", "text": "happy pop"}).Body.Close()
	var perf observability.GatewaySnapshot
	res, err = http.Get(env.ts.URL + "/v1/perf/gateways")
	if err != nil {
		t.Fatalf("GET /v1/perf/gateways error = %v", err)
	}
	decodeBody(t, res, &perf)
	if len(perf.Operations) == 0 {
		t.Fatalf("perf snapshot has no operations: %+v", perf)
	}
}

func postRaw(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}
