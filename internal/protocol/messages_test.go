package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestParseClientMessageChat(t *testing.T) {
	raw := []byte(`{"type":"chat_message","session_id":"s1","message_id":"m1","text":"energetic EDM"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chat, ok := msg.(ChatMessage)
	if !ok {
		t.Fatalf("message type = %T, want ChatMessage", msg)
	}
	if chat.MessageID != "m1" || chat.Text != "energetic EDM" {
		t.Fatalf("unexpected chat message: %+v", chat)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"chat_message","text":"   "}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestInboundValidate(t *testing.T) {
	ok := Inbound{SessionID: "905551112233", MessageID: "m1", Kind: InboundText, Text: "hi"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	bad := []Inbound{
		{MessageID: "m1", Kind: InboundText},
		{SessionID: "s", Kind: InboundText},
		{SessionID: "s", MessageID: "m1", Kind: "audio"},
	}
	for _, in := range bad {
		if err := in.Validate(); err == nil {
			t.Fatalf("Validate(%+v) error = nil, want error", in)
		}
	}
}

func TestChatEventFrom(t *testing.T) {
	out := Outbound{
		ID:        "e1",
		SessionID: "s1",
		Kind:      OutboundMusicOptions,
		Text:      "Pick one",
		Artifacts: []ArtifactRef{{Kind: ArtifactMusic, Locator: "music/a.mp3", VariantID: "a"}},
		CreatedAt: time.Now(),
	}
	ev := ChatEventFrom(out)
	if ev.Type != TypeChatEvent || ev.EventID != "e1" || len(ev.Artifacts) != 1 {
		t.Fatalf("unexpected chat event: %+v", ev)
	}
}

func BenchmarkParseClientMessageChat(b *testing.B) {
	raw := []byte(`{"type":"chat_message","session_id":"s1","message_id":"m7","text":"make it more upbeat"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ChatMessage); !ok {
			b.Fatalf("message type = %T, want ChatMessage", msg)
		}
	}
}
