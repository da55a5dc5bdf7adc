package protocol

import (
	"errors"
	"strings"
	"time"
)

// Channel names the transport an event arrived on or is delivered to.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWebchat  Channel = "webchat"
	ChannelAPI      Channel = "api"
)

type InboundKind string

const (
	InboundText     InboundKind = "text"
	InboundMediaAck InboundKind = "media_ack"
)

// Inbound is one normalized user message. MessageID is the channel's delivery id and is
// used for duplicate suppression.
type Inbound struct {
	SessionID  string      `json:"session_id"`
	MessageID  string      `json:"message_id"`
	Kind       InboundKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	MediaType  string      `json:"media_type,omitempty"`
	Channel    Channel     `json:"channel"`
	ReceivedAt time.Time   `json:"received_at"`
}

func (in Inbound) Validate() error {
	if strings.TrimSpace(in.SessionID) == "" {
		return errors.New("session_id is required")
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return errors.New("message_id is required")
	}
	switch in.Kind {
	case InboundText, InboundMediaAck:
	default:
		return errors.New("kind must be text or media_ack")
	}
	return nil
}

type OutboundKind string

const (
	OutboundText         OutboundKind = "text"
	OutboundMusicOptions OutboundKind = "music_options"
	OutboundImage        OutboundKind = "image"
	OutboundVideo        OutboundKind = "video"
)

type ArtifactKind string

const (
	ArtifactMusic ArtifactKind = "music"
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// ArtifactRef points at a stored file. URL is the public download address.
type ArtifactRef struct {
	Kind      ArtifactKind `json:"kind"`
	Locator   string       `json:"locator"`
	URL       string       `json:"url,omitempty"`
	VariantID string       `json:"variant_id,omitempty"`
	Label     string       `json:"label,omitempty"`
}

// Outbound is one message for the user, produced by a turn.
type Outbound struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Kind      OutboundKind  `json:"kind"`
	Text      string        `json:"text,omitempty"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
	Channel   Channel       `json:"channel"`
	CreatedAt time.Time     `json:"created_at"`
}
