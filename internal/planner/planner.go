// Package planner maps the current conversation state and a new message onto the next
// intended action. It performs no I/O and never mutates state.
package planner

import (
	"regexp"
	"strings"

	"github.com/ent0n29/tunesmith/internal/brief"
	"github.com/ent0n29/tunesmith/internal/selection"
	"github.com/ent0n29/tunesmith/internal/session"
)

type Kind string

const (
	KindGenerateMusic    Kind = "generate_music"
	KindSelectVariant    Kind = "select_variant"
	KindRefineMusic      Kind = "refine_music"
	KindGenerateCover    Kind = "generate_cover"
	KindGenerateVideo    Kind = "generate_video"
	KindSavePersona      Kind = "save_persona"
	KindLoadPersona      Kind = "load_persona"
	KindListPersonas     Kind = "list_personas"
	KindDeletePersona    Kind = "delete_persona"
	KindApprove          Kind = "approve"
	KindConfirmOverwrite Kind = "confirm_overwrite"
	KindCancel           Kind = "cancel"
	KindClarify          Kind = "clarify"
	KindReset            Kind = "reset"
	KindHelp             Kind = "help"
	KindUnrecognized     Kind = "unrecognized"
)

// State is the part of a session the planner looks at.
type State struct {
	Phase              session.Phase
	HasCandidates      bool
	Candidates         int
	HasSelection       bool
	HasCover           bool
	HasVideo           bool
	PendingPersonaName string
}

// StateOf extracts the planner view of a session.
func StateOf(s *session.Session) State {
	return State{
		Phase:              s.Phase,
		HasCandidates:      len(s.Candidates) > 0,
		Candidates:         len(s.Candidates),
		HasSelection:       len(s.SelectedCandidates()) > 0,
		HasCover:           s.Cover != nil,
		HasVideo:           len(s.Videos) > 0,
		PendingPersonaName: s.PendingPersonaName,
	}
}

// Intent is the planned action.
//
// Brief is set for GenerateMusic and LoadPersona (optional refinement of the persona).
// Delta is the refinement for RefineMusic and the feedback for a regenerated cover.
// Name is set for persona intents. AlsoCover asks for a cover right after a selection.
type Intent struct {
	Kind       Kind
	Brief      string
	Selection  selection.Result
	Delta      string
	Regenerate bool
	Name       string
	AlsoCover  bool
}

var (
	resetRe         = regexp.MustCompile(`(?i)^(?:reset|start over|restart|start again|new session|clear)$`)
	cancelRe        = regexp.MustCompile(`(?i)^(?:cancel|stop|never ?mind|forget it|abort)$`)
	helpRe          = regexp.MustCompile(`(?i)^(?:help|\?|commands|menu|what can you do\??)$`)
	listPersonasRe  = regexp.MustCompile(`(?i)^(?:(?:list|show)(?:\s+(?:my|all|the))?\s+personas|personas|my personas)$`)
	deletePersonaRe = regexp.MustCompile(`(?i)^(?:delete|remove|forget)\s+persona\s+(.+)$`)
	savePersonaRe   = regexp.MustCompile(`(?i)^save(?:\s+(?:this|it|that|the song|this one))?\s+(?:as\s+)?(?:a\s+)?persona(?:\s+(?:as|named|called))?(?:\s+(.+))?$`)
	loadPersonaRe   = regexp.MustCompile(`(?i)^(?:use|load|apply)\s+persona\s+(.+?)(?:\s*(?:[:,]|\s-\s|\bfor\b|\bwith\b|\bto make\b)\s*(.+))?$`)
	coverRe         = regexp.MustCompile(`(?i)^(?:(?:please|pls|now|ok|okay|and|then|also|can you|could you)\s+)*((?:make|create|generate|design|draw|give me|do|build|add|want|need|redo)\s+)?(?:(?:a|an|the|me a|me an)\s+)?(?:(?:new|different|another)\s+)?(cover(?:\s+art)?|artwork|album\s+art|album\s+cover)\b([\s,.!:]*)(.*)$`)
	videoRe         = regexp.MustCompile(`(?i)^(?:(?:please|pls|now|ok|okay|and|then|also|can you|could you)\s+)*((?:make|create|generate|render|give me|do|build|want|need)\s+)?(?:(?:a|an|the|me a|me an)\s+)?(?:(?:new|music)\s+)?((?:video|clip|mp4)s?)\b([\s,.!:]*)(.*)$`)
	coverSongRe     = regexp.MustCompile(`(?i)^(?:of|song|version|band)\b`)
	videoGameRe     = regexp.MustCompile(`(?i)^games?\b`)
	feedbackLeadRe  = regexp.MustCompile(`(?i)^(?:with|in|for|but|that|more|less|please|again|using|like)\b`)
	approveRe       = regexp.MustCompile(`(?i)^(?:yes|yep|yeah|yup|sure|ok|okay|approve|approved|accept|looks good|sounds good|love it|perfect|great|good|nice|final|done|keep it|that's it|thats it|thanks|thank you|👍)[\s.!]*$`)
	overwriteRe     = regexp.MustCompile(`(?i)^(?:overwrite|replace|yes|yep|yeah|ok|okay|sure|overwrite it|replace it)[\s.!]*$`)
	declineRe       = regexp.MustCompile(`(?i)^(?:no|nope|don't|dont)[\s.!]*$`)
	namePrefixRe    = regexp.MustCompile(`(?i)^(?:(?:call|name)\s+it|it'?s|its|name(?:\s+is)?:?)\s+`)
	smalltalkRe     = regexp.MustCompile(`(?i)^(?:hi|hello|hey|hiya|yo|good (?:morning|afternoon|evening)|thanks|thank you|ok|okay|cool|nice|great|bye|goodbye|how are you\??)[\s.!]*$`)
	genericMusicRe  = regexp.MustCompile(`(?i)^(?:(?:please|pls|can you|could you|i want|i'd like|i would like|let's|lets)\s+)*(?:make|create|generate|compose|write|give|produce)?\s*(?:me|us)?\s*(?:a|an|some)?\s*(?:new\s+)?(?:song|track|music|tune|beat)s?(?:\s+(?:please|for me))?[\s.!?]*$`)
	connectorRe     = regexp.MustCompile(`(?i)\s*(?:,|;|\+|&|\band then\b|\bthen\b|\band\b)\s*`)
)

// Plan returns the intent for text in state. It is total: every input maps to an intent.
//
// Narrow phase tokens are tried first, then global commands, then the phase's fallback
// for free text.
func Plan(st State, text string) Intent {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return Intent{Kind: KindUnrecognized}
	}

	if in, ok := phaseToken(st, text); ok {
		return in
	}
	if in, ok := globalCommand(text); ok {
		return in
	}
	return fallback(st, text)
}

func phaseToken(st State, text string) (Intent, bool) {
	switch st.Phase {
	case session.PhaseAwaitingMusicSelection:
		if in, ok := choice(st, text); ok {
			return in, true
		}
		if r := selection.Resolve(text, st.Candidates); r.Kind == selection.KindRefinement && r.Regenerate {
			return Intent{Kind: KindRefineMusic, Selection: r, Regenerate: true}, true
		}
	case session.PhaseAwaitingCoverDecision, session.PhaseAwaitingVideoDecision:
		if approveRe.MatchString(text) {
			return Intent{Kind: KindApprove}, true
		}
	case session.PhaseAwaitingPersonaName:
		if cancelRe.MatchString(text) {
			return Intent{Kind: KindCancel}, true
		}
		if st.PendingPersonaName != "" {
			if overwriteRe.MatchString(text) {
				return Intent{Kind: KindConfirmOverwrite, Name: st.PendingPersonaName}, true
			}
			if declineRe.MatchString(text) {
				return Intent{Kind: KindCancel}, true
			}
		}
	case session.PhaseIdle:
		if st.HasCandidates {
			if in, ok := choice(st, text); ok {
				return in, true
			}
		}
	}
	return Intent{}, false
}

// choice recognizes "2", "both" and "1 and make a cover".
func choice(st State, text string) (Intent, bool) {
	if r := selection.Resolve(text, st.Candidates); r.IsChoice() {
		return Intent{Kind: KindSelectVariant, Selection: r}, true
	}
	parts := connectorRe.Split(text, -1)
	if len(parts) < 2 {
		return Intent{}, false
	}
	var (
		pick      selection.Result
		picked    bool
		alsoCover bool
	)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch r := selection.Resolve(part, st.Candidates); {
		case part == "":
		case r.IsChoice() && !picked:
			pick, picked = r, true
		case isCoverCommand(part):
			alsoCover = true
		default:
			return Intent{}, false
		}
	}
	if !picked {
		return Intent{}, false
	}
	return Intent{Kind: KindSelectVariant, Selection: pick, AlsoCover: alsoCover}, true
}

func globalCommand(text string) (Intent, bool) {
	switch {
	case resetRe.MatchString(text), cancelRe.MatchString(text):
		return Intent{Kind: KindReset}, true
	case helpRe.MatchString(text):
		return Intent{Kind: KindHelp}, true
	case listPersonasRe.MatchString(text):
		return Intent{Kind: KindListPersonas}, true
	}
	if m := deletePersonaRe.FindStringSubmatch(text); m != nil {
		return Intent{Kind: KindDeletePersona, Name: cleanName(m[1])}, true
	}
	if m := savePersonaRe.FindStringSubmatch(text); m != nil {
		return Intent{Kind: KindSavePersona, Name: cleanName(m[1])}, true
	}
	if m := loadPersonaRe.FindStringSubmatch(text); m != nil {
		return Intent{Kind: KindLoadPersona, Name: cleanName(m[1]), Brief: strings.TrimSpace(m[2])}, true
	}
	if m := coverRe.FindStringSubmatch(text); m != nil && isCommand(m, coverSongOrNil(m[2])) {
		return Intent{Kind: KindGenerateCover, Delta: strings.TrimSpace(m[4])}, true
	}
	if m := videoRe.FindStringSubmatch(text); m != nil && isCommand(m, videoGameRe) {
		return Intent{Kind: KindGenerateVideo, Delta: strings.TrimSpace(m[4])}, true
	}
	return Intent{}, false
}

func isCoverCommand(text string) bool {
	m := coverRe.FindStringSubmatch(text)
	return m != nil && isCommand(m, coverSongOrNil(m[2]))
}

// coverSongOrNil guards the bare word "cover", which also names a cover version of a song.
func coverSongOrNil(noun string) *regexp.Regexp {
	if strings.EqualFold(noun, "cover") {
		return coverSongRe
	}
	return nil
}

// isCommand decides whether a cover/video keyword match is a command or part of a music
// brief such as "video game music" or "a cover of an old jazz standard". Submatches are
// verb, keyword, separator and the rest. Without a leading verb the rest must be empty or
// read as feedback on the artwork.
func isCommand(m []string, brief *regexp.Regexp) bool {
	verb, sep, rest := m[1], m[3], strings.TrimSpace(m[4])
	if brief != nil && brief.MatchString(rest) {
		return false
	}
	switch {
	case verb != "", rest == "":
		return true
	case strings.ContainsAny(sep, ",.!:"):
		return true
	default:
		return feedbackLeadRe.MatchString(rest)
	}
}

func fallback(st State, text string) Intent {
	switch st.Phase {
	case session.PhaseAwaitingMusicSelection:
		return Intent{Kind: KindRefineMusic, Delta: text}
	case session.PhaseClarifying:
		return Intent{Kind: KindGenerateMusic, Brief: text}
	case session.PhaseAwaitingCoverDecision:
		return Intent{Kind: KindGenerateCover, Delta: text}
	case session.PhaseAwaitingPersonaName:
		return Intent{Kind: KindSavePersona, Name: cleanName(namePrefixRe.ReplaceAllString(text, ""))}
	case session.PhaseAwaitingVideoDecision:
		return Intent{Kind: KindUnrecognized}
	default:
		switch {
		case smalltalkRe.MatchString(text):
			return Intent{Kind: KindUnrecognized}
		case genericMusicRe.MatchString(text) && !brief.HasStyleCues(text):
			return Intent{Kind: KindClarify}
		default:
			return Intent{Kind: KindGenerateMusic, Brief: text}
		}
	}
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'.!?`)
	return strings.TrimSpace(s)
}
