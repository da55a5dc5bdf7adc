// Package evolution connects the service to WhatsApp through an Evolution API instance:
// it parses inbound webhooks and sends text and media replies.
package evolution

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
)

// ErrIgnored marks webhook payloads that are valid but carry nothing to act on.
var ErrIgnored = errors.New("webhook ignored")

const (
	eventMessagesUpsert = "messages.upsert"
	personalJIDSuffix   = "@s.whatsapp.net"
)

type webhookPayload struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName         string          `json:"pushName"`
		Message          json.RawMessage `json:"message"`
		MessageTimestamp int64           `json:"messageTimestamp"`
	} `json:"data"`
}

type waMessage struct {
	Conversation        *string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *mediaMessage `json:"imageMessage"`
	VideoMessage    *mediaMessage `json:"videoMessage"`
	AudioMessage    *mediaMessage `json:"audioMessage"`
	DocumentMessage *mediaMessage `json:"documentMessage"`
	StickerMessage  *mediaMessage `json:"stickerMessage"`
}

type mediaMessage struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
}

// ParseWebhook turns an Evolution webhook body into an inbound event keyed by the sender's
// phone number. Payloads from us, from groups, from senders the policy rejects, or without
// a message are reported as ErrIgnored.
func ParseWebhook(body []byte, senders *policy.SenderPolicy, now time.Time) (protocol.Inbound, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return protocol.Inbound{}, fmt.Errorf("decode webhook: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(p.Event), eventMessagesUpsert) {
		return protocol.Inbound{}, fmt.Errorf("%w: event %q", ErrIgnored, p.Event)
	}
	key := p.Data.Key
	if key.FromMe {
		return protocol.Inbound{}, fmt.Errorf("%w: own message", ErrIgnored)
	}
	if !strings.HasSuffix(key.RemoteJID, personalJIDSuffix) {
		return protocol.Inbound{}, fmt.Errorf("%w: not a personal chat", ErrIgnored)
	}
	number := policy.NormalizeNumber(strings.TrimSuffix(key.RemoteJID, personalJIDSuffix))
	if decision := senders.Decide(number); !decision.Allowed {
		return protocol.Inbound{}, fmt.Errorf("%w: %s", ErrIgnored, decision.Reason)
	}
	if strings.TrimSpace(key.ID) == "" {
		return protocol.Inbound{}, fmt.Errorf("%w: missing message id", ErrIgnored)
	}

	in := protocol.Inbound{
		SessionID:  number,
		MessageID:  key.ID,
		Channel:    protocol.ChannelWhatsApp,
		ReceivedAt: now,
	}
	if p.Data.MessageTimestamp > 0 {
		in.ReceivedAt = time.Unix(p.Data.MessageTimestamp, 0).UTC()
	}

	var msg waMessage
	if len(p.Data.Message) > 0 {
		if err := json.Unmarshal(p.Data.Message, &msg); err != nil {
			return protocol.Inbound{}, fmt.Errorf("decode message: %w", err)
		}
	}
	switch {
	case msg.Conversation != nil:
		in.Kind, in.Text = protocol.InboundText, *msg.Conversation
	case msg.ExtendedTextMessage != nil:
		in.Kind, in.Text = protocol.InboundText, msg.ExtendedTextMessage.Text
	case msg.ImageMessage != nil:
		in.Kind, in.Text, in.MediaType = mediaOrCaption(msg.ImageMessage, "image")
	case msg.VideoMessage != nil:
		in.Kind, in.Text, in.MediaType = mediaOrCaption(msg.VideoMessage, "video")
	case msg.AudioMessage != nil:
		in.Kind, in.MediaType = protocol.InboundMediaAck, "audio"
	case msg.DocumentMessage != nil:
		in.Kind, in.Text, in.MediaType = mediaOrCaption(msg.DocumentMessage, "document")
	case msg.StickerMessage != nil:
		in.Kind, in.MediaType = protocol.InboundMediaAck, "sticker"
	default:
		return protocol.Inbound{}, fmt.Errorf("%w: unsupported message type", ErrIgnored)
	}
	if in.Kind == protocol.InboundText && strings.TrimSpace(in.Text) == "" {
		return protocol.Inbound{}, fmt.Errorf("%w: empty text", ErrIgnored)
	}
	return in, nil
}

// mediaOrCaption treats a captioned attachment as the caption text.
func mediaOrCaption(m *mediaMessage, mediaType string) (protocol.InboundKind, string, string) {
	if c := strings.TrimSpace(m.Caption); c != "" {
		return protocol.InboundText, c, mediaType
	}
	return protocol.InboundMediaAck, "", mediaType
}
