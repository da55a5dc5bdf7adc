package httpapi

import (
	"net/http"
	"os/exec"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Music        string        `json:"music_provider"`
	Cover        string        `json:"cover_provider"`
	Video        string        `json:"video_provider"`
	Brief        string        `json:"brief_provider"`
	SessionStore string        `json:"session_store"`
	PersonaStore string        `json:"persona_store"`
	WhatsApp     bool          `json:"whatsapp_enabled"`
	Checks       []statusCheck `json:"checks"`
}

// handleStatus reports which backends are wired and what is missing for a real setup.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	m := s.deps.Modes
	checks := make([]statusCheck, 0, 8)

	checks = append(checks, mockCheck("music", "Music generation", m.Music, "Set SUNO_API_KEY to generate real tracks."))
	checks = append(checks, mockCheck("cover", "Cover art", m.Cover, "Set GEMINI_API_KEY to generate real covers."))
	checks = append(checks, mockCheck("video", "Video composition", m.Video, "Install ffmpeg or set FFMPEG_PATH."))
	if m.Video == "ffmpeg" {
		if _, err := exec.LookPath(s.cfg.FFmpegPath); err != nil {
			checks = append(checks, statusCheck{
				ID:     "ffmpeg_binary",
				Status: "error",
				Label:  "ffmpeg",
				Detail: s.cfg.FFmpegPath + " not found",
				Fix:    "Install ffmpeg or set FFMPEG_PATH.",
			})
		}
	}
	if m.Brief == "rules" {
		checks = append(checks, statusCheck{
			ID:     "brief",
			Status: "warn",
			Label:  "Brief interpretation",
			Detail: "keyword rules only",
			Fix:    "Set OPENAI_API_KEY for richer prompt interpretation.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "brief", Status: "ok", Label: "Brief interpretation", Detail: m.Brief})
	}

	if m.SessionStore == "memory" {
		checks = append(checks, statusCheck{
			ID:     "session_store",
			Status: "warn",
			Label:  "Session persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or REDIS_URL to keep conversations across restarts.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "session_store", Status: "ok", Label: "Session persistence", Detail: m.SessionStore})
	}
	checks = append(checks, statusCheck{ID: "persona_store", Status: "ok", Label: "Persona library", Detail: m.PersonaStore})

	whatsapp := s.cfg.EvolutionEnabled()
	if whatsapp {
		checks = append(checks, statusCheck{ID: "whatsapp", Status: "ok", Label: "WhatsApp", Detail: "instance " + s.cfg.EvolutionInstance})
	} else {
		checks = append(checks, statusCheck{
			ID:     "whatsapp",
			Status: "warn",
			Label:  "WhatsApp",
			Detail: "disabled",
			Fix:    "Set EVOLUTION_API_URL, EVOLUTION_API_KEY and EVOLUTION_INSTANCE.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		Music:        m.Music,
		Cover:        m.Cover,
		Video:        m.Video,
		Brief:        m.Brief,
		SessionStore: m.SessionStore,
		PersonaStore: m.PersonaStore,
		WhatsApp:     whatsapp,
		Checks:       checks,
	})
}

func mockCheck(id, label, mode, fix string) statusCheck {
	if strings.EqualFold(mode, "mock") || mode == "" {
		return statusCheck{ID: id, Status: "warn", Label: label, Detail: "mock backend", Fix: fix}
	}
	return statusCheck{ID: id, Status: "ok", Label: label, Detail: mode}
}
