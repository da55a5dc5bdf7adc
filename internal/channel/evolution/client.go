package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ent0n29/tunesmith/internal/protocol"
)

type Config struct {
	BaseURL  string
	APIKey   string
	Instance string
	// MinInterval spaces consecutive requests to the instance.
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// Client sends outbound events to WhatsApp chats. The session id is the recipient number.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Instance = strings.TrimSpace(cfg.Instance)
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Instance == "" {
		return nil, errors.New("evolution: base url, api key and instance are required")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 250 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 3),
		logger:  logger,
	}, nil
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName,omitempty"`
}

// Send delivers out as a text message followed by one media message per artifact.
// Image and video captions carry the event text instead of a separate message.
func (c *Client) Send(ctx context.Context, out protocol.Outbound) error {
	number := out.SessionID
	caption := ""
	switch {
	case len(out.Artifacts) == 0 || out.Kind == protocol.OutboundMusicOptions:
		if strings.TrimSpace(out.Text) != "" {
			if err := c.post(ctx, "sendText", sendTextRequest{Number: number, Text: out.Text}); err != nil {
				return err
			}
		}
	default:
		caption = out.Text
	}

	for i, a := range out.Artifacts {
		if a.URL == "" {
			return fmt.Errorf("evolution: artifact %s has no public url", a.Locator)
		}
		req := sendMediaRequest{
			Number:    number,
			MediaType: mediaType(a.Kind),
			MimeType:  mimeType(a.Locator),
			Media:     a.URL,
			FileName:  path.Base(a.Locator),
		}
		switch {
		case i == 0 && caption != "":
			req.Caption = caption
		case a.Label != "" && a.Kind != protocol.ArtifactMusic:
			req.Caption = a.Label
		}
		if err := c.post(ctx, "sendMedia", req); err != nil {
			return err
		}
		if a.Label != "" && a.Kind == protocol.ArtifactMusic {
			// Audio messages have no caption, so the label follows as text.
			if err := c.post(ctx, "sendText", sendTextRequest{Number: number, Text: a.Label}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	endpoint := c.cfg.BaseURL + "/message/" + method + "/" + url.PathEscape(c.cfg.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("evolution %s: %w", method, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("evolution %s: http status %d: %s", method, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	c.logger.Debug("evolution message sent", zap.String("method", method))
	return nil
}

func mediaType(k protocol.ArtifactKind) string {
	switch k {
	case protocol.ArtifactMusic:
		return "audio"
	case protocol.ArtifactVideo:
		return "video"
	default:
		return "image"
	}
}

func mimeType(locator string) string {
	switch strings.ToLower(path.Ext(locator)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	}
	return ""
}
