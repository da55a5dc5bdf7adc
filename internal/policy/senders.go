package policy

import (
	"strings"
	"unicode"
)

// SenderPolicy decides which messaging identities may start turns. An empty allow-list
// admits every well formed sender.
type SenderPolicy struct {
	allowed map[string]struct{}
}

type SenderDecision struct {
	Allowed bool
	Reason  string
}

func NewSenderPolicy(numbers []string) *SenderPolicy {
	p := &SenderPolicy{allowed: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		if norm := NormalizeNumber(n); norm != "" {
			p.allowed[norm] = struct{}{}
		}
	}
	return p
}

func (p *SenderPolicy) Decide(sender string) SenderDecision {
	norm := NormalizeNumber(sender)
	if norm == "" {
		return SenderDecision{Reason: "sender is not a phone number"}
	}
	if p == nil || len(p.allowed) == 0 {
		return SenderDecision{Allowed: true}
	}
	if _, ok := p.allowed[norm]; !ok {
		return SenderDecision{Reason: "sender is not on the allow-list"}
	}
	return SenderDecision{Allowed: true}
}

// NormalizeNumber strips formatting and a leading plus from a phone number. It returns
// "" when anything other than digits remains.
func NormalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	n = strings.TrimPrefix(n, "+")
	var b strings.Builder
	for _, r := range n {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	return b.String()
}
