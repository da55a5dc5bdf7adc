package session

import (
	"errors"
	"time"

	"github.com/ent0n29/tunesmith/internal/music"
)

// Phase is the point of the generate/select/finalize cycle a session rests in between turns.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseAwaitingMusicSelection Phase = "awaiting_music_selection"
	PhaseAwaitingCoverDecision  Phase = "awaiting_cover_decision"
	PhaseAwaitingVideoDecision  Phase = "awaiting_video_decision"
	PhaseAwaitingPersonaName    Phase = "awaiting_persona_name"
	PhaseClarifying             Phase = "clarifying"
)

// Operation names a retried gateway call.
type Operation string

const (
	OpMusic Operation = "music"
	OpCover Operation = "cover"
	OpVideo Operation = "video"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session was modified concurrently")
)

// Cover is the generated cover for the current selection.
type Cover struct {
	Locator string `json:"locator"`
	Prompt  string `json:"prompt"`
	Final   bool   `json:"final"`
}

// Video is one composed video, built from a selected candidate and the cover.
type Video struct {
	VariantID string `json:"variant_id"`
	Locator   string `json:"locator"`
	Final     bool   `json:"final"`
}

// Session is the per-conversation state. Only the orchestrator mutates it, and only
// inside Manager.WithSession.
type Session struct {
	ID      string `json:"session_id"`
	Version int64  `json:"version"`
	Phase   Phase  `json:"phase"`

	Candidates []music.Variant `json:"pending_candidates"`
	// Selected holds variant ids from Candidates; the first entry is the primary selection.
	Selected []string `json:"selected_music"`
	Cover    *Cover   `json:"cover,omitempty"`
	Videos   []Video  `json:"videos,omitempty"`

	Brief           string   `json:"last_user_request_description"`
	Refinements     []string `json:"refinements,omitempty"`
	RefinementRound int      `json:"refinement_round"`

	RetryCounts         map[Operation]int `json:"retry_counts"`
	ProcessedMessageIDs []string          `json:"processed_message_ids"`
	RecentTexts         []TextMark        `json:"recent_texts,omitempty"`

	PendingPersonaName string `json:"pending_persona_name,omitempty"`
	ActivePersona      string `json:"active_persona,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// New returns an Idle session for id.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:            id,
		Phase:         PhaseIdle,
		RetryCounts:   make(map[Operation]int),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Candidates = append([]music.Variant(nil), s.Candidates...)
	c.Selected = append([]string(nil), s.Selected...)
	c.Videos = append([]Video(nil), s.Videos...)
	c.Refinements = append([]string(nil), s.Refinements...)
	c.ProcessedMessageIDs = append([]string(nil), s.ProcessedMessageIDs...)
	c.RecentTexts = append([]TextMark(nil), s.RecentTexts...)
	if s.Cover != nil {
		cv := *s.Cover
		c.Cover = &cv
	}
	c.RetryCounts = make(map[Operation]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		c.RetryCounts[k] = v
	}
	return &c
}

// Candidate returns the candidate with the given variant id.
func (s *Session) Candidate(variantID string) (music.Variant, bool) {
	for _, c := range s.Candidates {
		if c.ID == variantID {
			return c, true
		}
	}
	return music.Variant{}, false
}

// SelectedCandidates resolves Selected against Candidates, skipping stale ids.
func (s *Session) SelectedCandidates() []music.Variant {
	out := make([]music.Variant, 0, len(s.Selected))
	for _, id := range s.Selected {
		if c, ok := s.Candidate(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Primary returns the first selected candidate.
func (s *Session) Primary() (music.Variant, bool) {
	sel := s.SelectedCandidates()
	if len(sel) == 0 {
		return music.Variant{}, false
	}
	return sel[0], true
}

// ReplaceCandidates installs a new variant pair and drops everything derived from the old one.
func (s *Session) ReplaceCandidates(variants []music.Variant) {
	s.Candidates = append([]music.Variant(nil), variants...)
	s.Selected = nil
	s.Cover = nil
	s.Videos = nil
}

func (s *Session) RetryCount(op Operation) int {
	return s.RetryCounts[op]
}

func (s *Session) IncRetry(op Operation) int {
	if s.RetryCounts == nil {
		s.RetryCounts = make(map[Operation]int)
	}
	s.RetryCounts[op]++
	return s.RetryCounts[op]
}

func (s *Session) ResetRetry(op Operation) {
	if s.RetryCounts == nil {
		s.RetryCounts = make(map[Operation]int)
	}
	s.RetryCounts[op] = 0
}

// Reset returns the session to Idle with no candidates. Message ids and recent texts stay
// recorded so redeliveries are still absorbed after a reset.
func (s *Session) Reset() {
	processed, texts := s.ProcessedMessageIDs, s.RecentTexts
	*s = Session{
		ID:                  s.ID,
		Version:             s.Version,
		Phase:               PhaseIdle,
		RetryCounts:         make(map[Operation]int),
		ProcessedMessageIDs: processed,
		RecentTexts:         texts,
		CreatedAt:           s.CreatedAt,
		LastUpdatedAt:       s.LastUpdatedAt,
	}
}
