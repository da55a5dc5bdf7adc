package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TextMark records when a message text was last handled, by content hash.
type TextMark struct {
	Hash string    `json:"hash"`
	At   time.Time `json:"at"`
}

// HasProcessed reports whether messageID was already handled by a turn on this session.
func (s *Session) HasProcessed(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, id := range s.ProcessedMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}

// MarkProcessed records messageID, evicting the oldest ids beyond capacity.
func (s *Session) MarkProcessed(messageID string, capacity int) {
	if messageID == "" {
		return
	}
	if capacity <= 0 {
		capacity = 1
	}
	for i, id := range s.ProcessedMessageIDs {
		if id == messageID {
			// Move to the most recent position.
			s.ProcessedMessageIDs = append(s.ProcessedMessageIDs[:i], s.ProcessedMessageIDs[i+1:]...)
			break
		}
	}
	s.ProcessedMessageIDs = append(s.ProcessedMessageIDs, messageID)
	if over := len(s.ProcessedMessageIDs) - capacity; over > 0 {
		s.ProcessedMessageIDs = append([]string(nil), s.ProcessedMessageIDs[over:]...)
	}
}

// IsRepeat reports whether the same text was handled within window before now. Channels
// sometimes redeliver a message under a new id; this catches those.
func (s *Session) IsRepeat(text string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	h := textHash(text)
	if h == "" {
		return false
	}
	for _, m := range s.RecentTexts {
		if m.Hash == h && now.Sub(m.At) < window {
			return true
		}
	}
	return false
}

// MarkText records text at now and drops marks older than window.
func (s *Session) MarkText(text string, now time.Time, window time.Duration) {
	if window <= 0 {
		s.RecentTexts = nil
		return
	}
	h := textHash(text)
	var kept []TextMark
	for _, m := range s.RecentTexts {
		if m.Hash != h && now.Sub(m.At) < window {
			kept = append(kept, m)
		}
	}
	if h != "" {
		kept = append(kept, TextMark{Hash: h, At: now})
	}
	s.RecentTexts = kept
}

func textHash(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}
