package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies web chat websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat_message"
	TypeChatEvent   MessageType = "chat_event"
	TypeSystemEvent MessageType = "system_event"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Text      string      `json:"text"`
}

type ChatEvent struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	EventID   string        `json:"event_id"`
	Kind      OutboundKind  `json:"kind"`
	Text      string        `json:"text,omitempty"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid chat_message")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ChatEventFrom renders an outbound event for the web chat.
func ChatEventFrom(out Outbound) ChatEvent {
	return ChatEvent{
		Type:      TypeChatEvent,
		SessionID: out.SessionID,
		EventID:   out.ID,
		Kind:      out.Kind,
		Text:      out.Text,
		Artifacts: out.Artifacts,
	}
}
