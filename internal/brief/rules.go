package brief

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/ent0n29/tunesmith/internal/music"
)

const (
	maxPromptLength = 3000
	maxTitleLength  = 80
	defaultStyle    = "Pop"
)

// ErrEmptyBrief is returned when there is nothing to interpret.
var ErrEmptyBrief = errors.New("brief is empty")

type cue struct {
	words []string
	label string
}

// Order matters: earlier cues win ties and appear first in the style string.
var genreCues = []cue{
	{[]string{"edm", "electronic", "electro"}, "EDM"},
	{[]string{"house"}, "House"},
	{[]string{"techno"}, "Techno"},
	{[]string{"synthwave", "retrowave"}, "Synthwave"},
	{[]string{"lofi", "lo-fi", "lo fi"}, "Lo-fi"},
	{[]string{"hip hop", "hip-hop", "hiphop", "rap", "trap"}, "Hip Hop"},
	{[]string{"jazz"}, "Jazz"},
	{[]string{"blues"}, "Blues"},
	{[]string{"rock"}, "Rock"},
	{[]string{"metal"}, "Metal"},
	{[]string{"punk"}, "Punk"},
	{[]string{"pop"}, "Pop"},
	{[]string{"r&b", "rnb", "soul"}, "R&B"},
	{[]string{"reggae"}, "Reggae"},
	{[]string{"country"}, "Country"},
	{[]string{"folk", "acoustic"}, "Acoustic Folk"},
	{[]string{"classical", "orchestral", "symphonic"}, "Classical"},
	{[]string{"piano"}, "Piano"},
	{[]string{"ambient"}, "Ambient"},
	{[]string{"cinematic", "soundtrack", "epic"}, "Cinematic"},
	{[]string{"latin", "salsa", "reggaeton"}, "Latin"},
	{[]string{"disco", "funk"}, "Funk"},
}

var moodCues = []cue{
	{[]string{"energetic", "energy", "high energy", "hype"}, "energetic"},
	{[]string{"upbeat", "happy", "cheerful", "joyful", "bright"}, "upbeat"},
	{[]string{"calm", "relaxing", "peaceful", "soothing", "chill"}, "calm"},
	{[]string{"sad", "melancholic", "melancholy", "emotional"}, "melancholic"},
	{[]string{"dark", "moody", "gloomy"}, "dark"},
	{[]string{"romantic", "love"}, "romantic"},
	{[]string{"dreamy", "ethereal"}, "dreamy"},
	{[]string{"aggressive", "heavy", "intense"}, "aggressive"},
	{[]string{"fast"}, "fast tempo"},
	{[]string{"slow"}, "slow tempo"},
}

// RuleInterpreter is a deterministic keyword interpreter with no external calls.
type RuleInterpreter struct{}

func NewRuleInterpreter() *RuleInterpreter { return &RuleInterpreter{} }

func (r *RuleInterpreter) Interpret(ctx context.Context, brief string) (music.Params, error) {
	if err := ctx.Err(); err != nil {
		return music.Params{}, err
	}
	brief = normalizeSpace(brief)
	if brief == "" {
		return music.Params{}, ErrEmptyBrief
	}
	lower := strings.ToLower(brief)

	genres := matchCues(lower, genreCues)
	moods := matchCues(lower, moodCues)
	if len(genres) == 0 {
		genres = []string{defaultStyle}
	}
	p := music.Params{
		Title:  deriveTitle(moods, genres),
		Style:  strings.Join(append(genres, moods...), ", "),
		Prompt: truncate(brief, maxPromptLength),
	}
	p.Instrumental = wantsInstrumental(lower)
	if !p.Instrumental {
		p.VocalGender = vocalGender(lower)
	}
	return p.WithDefaults(), nil
}

// Refine keeps the base title and weights, appends new style cues and folds the delta
// into the prompt. An empty delta regenerates with the base parameters.
func (r *RuleInterpreter) Refine(ctx context.Context, base music.Params, delta string) (music.Params, error) {
	if err := ctx.Err(); err != nil {
		return music.Params{}, err
	}
	delta = normalizeSpace(delta)
	if delta == "" {
		return base.WithDefaults(), nil
	}
	lower := strings.ToLower(delta)
	p := base

	existing := strings.ToLower(p.Style)
	var extra []string
	for _, label := range append(matchCues(lower, genreCues), matchCues(lower, moodCues)...) {
		if !strings.Contains(existing, strings.ToLower(label)) {
			extra = append(extra, label)
		}
	}
	if len(extra) > 0 {
		if p.Style == "" {
			p.Style = strings.Join(extra, ", ")
		} else {
			p.Style = p.Style + ", " + strings.Join(extra, ", ")
		}
	}

	prompt := strings.TrimRight(p.Prompt, " .")
	if prompt == "" {
		prompt = delta
	} else {
		prompt = prompt + ". " + delta
	}
	p.Prompt = truncate(prompt, maxPromptLength)

	switch {
	case wantsInstrumental(lower):
		p.Instrumental = true
		p.VocalGender = ""
	case containsAny(lower, "with vocals", "add vocals", "add lyrics", "with lyrics", "singing"):
		p.Instrumental = false
	}
	if g := vocalGender(lower); g != "" {
		p.Instrumental = false
		p.VocalGender = g
	}
	return p.WithDefaults(), nil
}

// HasStyleCues reports whether text names any genre, mood or vocal preference.
func HasStyleCues(text string) bool {
	lower := strings.ToLower(text)
	return len(matchCues(lower, genreCues)) > 0 ||
		len(matchCues(lower, moodCues)) > 0 ||
		wantsInstrumental(lower) ||
		vocalGender(lower) != ""
}

func matchCues(lower string, cues []cue) []string {
	var out []string
	for _, c := range cues {
		for _, w := range c.words {
			if containsWord(lower, w) {
				out = append(out, c.label)
				break
			}
		}
	}
	return out
}

func wantsInstrumental(lower string) bool {
	return containsAny(lower, "instrumental", "no vocals", "without vocals", "no lyrics", "without lyrics")
}

func vocalGender(lower string) string {
	switch {
	case containsWord(lower, "female") || containsWord(lower, "woman") || containsWord(lower, "girl"):
		return "f"
	case containsWord(lower, "male") || containsWord(lower, "man") || containsWord(lower, "guy"):
		return "m"
	default:
		return ""
	}
}

func deriveTitle(moods, genres []string) string {
	parts := make([]string, 0, 2)
	if len(moods) > 0 {
		parts = append(parts, titleCase(moods[0]))
	}
	parts = append(parts, genres[0])
	return truncate(strings.Join(parts, " "), maxTitleLength)
}

func containsAny(lower string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// containsWord matches w in s on word boundaries.
func containsWord(s, w string) bool {
	for i := 0; ; {
		idx := strings.Index(s[i:], w)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(w)
		if boundary(s, start-1) && boundary(s, end) {
			return true
		}
		i = start + 1
		if i >= len(s) {
			return false
		}
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
