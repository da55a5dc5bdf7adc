package music

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/reliability"
)

// SunoConfig controls the Suno HTTP client.
type SunoConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	CallbackURL  string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTPClient   *http.Client
}

// SunoGateway submits generation tasks to the Suno API, polls them to completion and
// downloads the resulting tracks into the artifact store.
type SunoGateway struct {
	cfg    SunoConfig
	client *http.Client
	store  *artifacts.Store
	logger *zap.Logger
}

func NewSunoGateway(cfg SunoConfig, store *artifacts.Store, logger *zap.Logger) *SunoGateway {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Model == "" {
		cfg.Model = "V4"
	}
	if cfg.CallbackURL == "" {
		// The API requires a callback even when results are polled.
		cfg.CallbackURL = "https://example.com/callback"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 400 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SunoGateway{cfg: cfg, client: client, store: store, logger: logger}
}

type sunoEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type sunoGenerateRequest struct {
	CustomMode          bool    `json:"customMode"`
	Instrumental        bool    `json:"instrumental"`
	Model               string  `json:"model"`
	Prompt              string  `json:"prompt"`
	Style               string  `json:"style"`
	Title               string  `json:"title"`
	NegativeTags        string  `json:"negativeTags"`
	VocalGender         string  `json:"vocalGender,omitempty"`
	StyleWeight         float64 `json:"styleWeight"`
	WeirdnessConstraint float64 `json:"weirdnessConstraint"`
	AudioWeight         float64 `json:"audioWeight"`
	CallBackURL         string  `json:"callBackUrl"`
	PersonaID           string  `json:"personaId,omitempty"`
}

type sunoTask struct {
	TaskID string `json:"taskId"`
}

type sunoRecord struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []sunoTrack `json:"sunoData"`
	} `json:"response"`
}

type sunoTrack struct {
	ID             string `json:"id"`
	AudioID        string `json:"audioId"`
	AudioURL       string `json:"audioUrl"`
	StreamAudioURL string `json:"streamAudioUrl"`
	SourceAudioURL string `json:"sourceAudioUrl"`
	Title          string `json:"title"`
}

func (t sunoTrack) url() string {
	for _, u := range []string{t.AudioURL, t.StreamAudioURL, t.SourceAudioURL} {
		if strings.TrimSpace(u) != "" {
			return u
		}
	}
	return ""
}

func (t sunoTrack) id() string {
	if t.ID != "" {
		return t.ID
	}
	return t.AudioID
}

func (g *SunoGateway) Generate(ctx context.Context, params Params) ([]Variant, error) {
	params = params.WithDefaults()
	if params.Model == "" {
		params.Model = g.cfg.Model
	}

	taskID, err := g.submit(ctx, params)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("suno task submitted", zap.String("task_id", taskID))

	tracks, err := g.poll(ctx, taskID)
	if err != nil {
		return nil, err
	}

	usable := make([]sunoTrack, 0, VariantsPerRequest)
	for i, t := range tracks {
		if t.url() == "" {
			continue
		}
		if t.id() == "" {
			t.ID = fmt.Sprintf("%s-%d", taskID, i)
		}
		usable = append(usable, t)
		if len(usable) == VariantsPerRequest {
			break
		}
	}
	if len(usable) < VariantsPerRequest {
		return nil, fmt.Errorf("%w: task %s returned %d playable tracks, want %d", ErrGenerationFailed, taskID, len(usable), VariantsPerRequest)
	}

	variants := make([]Variant, len(usable))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, t := range usable {
		eg.Go(func() error {
			locator, err := g.download(egCtx, t.url(), t.id()+".mp3")
			if err != nil {
				return err
			}
			variants[i] = Variant{
				ID:        t.id(),
				TaskID:    taskID,
				Locator:   locator,
				SourceURL: t.url(),
				Params:    params,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}

// RegisterPersona creates a backend voice persona from a generated variant.
func (g *SunoGateway) RegisterPersona(ctx context.Context, v Variant, name, description string) (string, error) {
	payload := map[string]string{
		"taskId":      v.TaskID,
		"audioId":     v.ID,
		"name":        name,
		"description": description,
	}
	var out struct {
		PersonaID string `json:"personaId"`
	}
	if err := g.call(ctx, http.MethodPost, "/generate/generate-persona", payload, &out); err != nil {
		return "", err
	}
	if out.PersonaID == "" {
		return "", fmt.Errorf("suno persona response missing personaId")
	}
	return out.PersonaID, nil
}

func (g *SunoGateway) submit(ctx context.Context, p Params) (string, error) {
	req := sunoGenerateRequest{
		CustomMode:          true,
		Instrumental:        p.Instrumental,
		Model:               p.Model,
		Prompt:              p.Prompt,
		Style:               p.Style,
		Title:               p.Title,
		NegativeTags:        p.NegativeTags,
		VocalGender:         p.VocalGender,
		StyleWeight:         p.StyleWeight,
		WeirdnessConstraint: p.WeirdnessConstraint,
		AudioWeight:         p.AudioWeight,
		CallBackURL:         g.cfg.CallbackURL,
		PersonaID:           p.BackendPersonaID,
	}
	var task sunoTask
	if err := g.call(ctx, http.MethodPost, "/generate", req, &task); err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrGenerationFailed, err)
	}
	if task.TaskID == "" {
		return "", fmt.Errorf("%w: submit response missing taskId", ErrGenerationFailed)
	}
	return task.TaskID, nil
}

func (g *SunoGateway) poll(ctx context.Context, taskID string) ([]sunoTrack, error) {
	pollCtx, cancel := context.WithTimeout(ctx, g.cfg.MaxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(g.cfg.PollInterval), 1)
	lastStatus := ""
	for {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: task %s still %q after %s", ErrGenerationFailed, taskID, lastStatus, g.cfg.MaxWait)
		}

		var record sunoRecord
		err := g.call(pollCtx, http.MethodGet, "/generate/record-info?taskId="+url.QueryEscape(taskID), nil, &record)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && !reliability.IsRetryableHTTPStatus(se.code) {
				return nil, fmt.Errorf("%w: poll: %v", ErrGenerationFailed, err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn("suno poll failed, retrying", zap.String("task_id", taskID), zap.Error(err))
			continue
		}

		status := strings.ToUpper(strings.TrimSpace(record.Status))
		if status != lastStatus {
			g.logger.Debug("suno task status", zap.String("task_id", taskID), zap.String("status", status))
			lastStatus = status
		}
		switch {
		case status == "SUCCESS":
			return record.Response.SunoData, nil
		case status == "FAILED", status == "ERROR", status == "CANCELLED", strings.HasSuffix(status, "_FAILED"):
			return nil, fmt.Errorf("%w: task %s status %s: %s", ErrGenerationFailed, taskID, status, record.ErrorMessage)
		default:
			// PENDING, TEXT_SUCCESS, FIRST_SUCCESS and friends: keep waiting.
		}
	}
}

func (g *SunoGateway) download(ctx context.Context, src, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create download request: %v", ErrGenerationFailed, err)
	}
	res, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download %s: %v", ErrGenerationFailed, name, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download %s: http status %d", ErrGenerationFailed, name, res.StatusCode)
	}
	locator, err := g.store.Save(artifacts.KindMusic, name, res.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return locator, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("suno http status %d: %s", e.code, e.body)
}

func (g *SunoGateway) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &statusError{code: res.StatusCode, body: string(raw)}
	}

	var env sunoEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != http.StatusOK {
		return &statusError{code: env.Code, body: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
