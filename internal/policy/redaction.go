package policy

import (
	"regexp"
	"strings"
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: chat ids contain digits and card numbers look like phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`\b[0-9]{6,}@(?:s\.whatsapp\.net|g\.us)\b`), "[chat]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// RedactPII masks contact details and card numbers in user text before it leaves the
// process, for example inside a generation prompt.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactionRules {
		out = r.pattern.ReplaceAllString(out, r.marker)
	}
	return out, out != input
}

// Redact is RedactPII without the change flag.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}

// MaskID hides all but the last four characters of an identifier such as a phone
// number used as a session id, for logging.
func MaskID(id string) string {
	r := []rune(id)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
