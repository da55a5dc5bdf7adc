// Package selection interprets a reply to a presented set of music variants.
package selection

import (
	"strconv"
	"strings"
	"unicode"
)

type Kind string

const (
	KindInvalid    Kind = "invalid"
	KindExactIndex Kind = "exact_index"
	KindAll        Kind = "all"
	KindRefinement Kind = "refinement"
)

// Result is the resolved reply. Index is zero based and set for KindExactIndex.
// Regenerate marks a refinement that asks for new variants with unchanged parameters;
// Text is empty in that case.
type Result struct {
	Kind       Kind
	Index      int
	Text       string
	Regenerate bool
}

// IsChoice reports whether the reply picked from the candidates.
func (r Result) IsChoice() bool {
	return r.Kind == KindExactIndex || r.Kind == KindAll
}

// Indices expands the choice into zero based candidate indices.
func (r Result) Indices(candidates int) []int {
	switch r.Kind {
	case KindExactIndex:
		return []int{r.Index}
	case KindAll:
		out := make([]int, candidates)
		for i := range out {
			out[i] = i
		}
		return out
	default:
		return nil
	}
}

var ordinalWords = map[string]int{
	"one": 1, "first": 1, "1st": 1,
	"two": 2, "second": 2, "2nd": 2,
	"three": 3, "third": 3, "3rd": 3,
	"four": 4, "fourth": 4, "4th": 4,
}

var allWords = map[string]bool{"both": true, "all": true}

var regenerateWords = map[string]bool{
	"neither": true, "none": true, "regenerate": true, "again": true, "redo": true,
	"retry": true, "another": true, "others": true, "new": true, "different": true,
}

var fillerWords = map[string]bool{
	"i": true, "id": true, "i'd": true, "want": true, "like": true, "pick": true, "choose": true,
	"take": true, "select": true, "prefer": true, "go": true, "with": true, "the": true, "a": true,
	"number": true, "no": true, "nr": true, "option": true, "track": true, "song": true,
	"version": true, "variant": true, "please": true, "pls": true, "lets": true, "let's": true,
	"is": true, "it": true, "of": true, "them": true, "ones": true, "and": true, "&": true,
	"ok": true, "okay": true, "im": true, "i'm": true, "going": true, "for": true,
	"try": true, "give": true, "me": true, "make": true, "do": true, "one's": true,
}

// Resolve interprets text against a list of candidates. Only empty or whitespace text is
// Invalid; anything that is not a clean choice is a refinement instruction.
func Resolve(text string, candidates int) Result {
	trimmed := strings.Join(strings.Fields(text), " ")
	if trimmed == "" {
		return Result{Kind: KindInvalid}
	}

	tokens := tokenize(trimmed)
	var (
		picked     = map[int]bool{}
		all        bool
		regenerate bool
		other      bool
	)
	for i, tok := range tokens {
		if tok == "one" && i > 0 && isOrdinal(tokens[i-1], candidates) {
			// "first one", "the second one"
			continue
		}
		if n, ok := ordinal(tok); ok {
			if n < 1 || n > candidates {
				other = true
				continue
			}
			picked[n-1] = true
			continue
		}
		switch {
		case allWords[tok]:
			all = true
		case regenerateWords[tok]:
			regenerate = true
		case fillerWords[tok]:
		default:
			other = true
		}
	}

	refinement := Result{Kind: KindRefinement, Text: trimmed}
	if other {
		return refinement
	}
	if regenerate {
		if all || len(picked) > 0 {
			return refinement
		}
		return Result{Kind: KindRefinement, Regenerate: true}
	}
	if all {
		if len(picked) > 0 && len(picked) < candidates {
			return refinement
		}
		return Result{Kind: KindAll}
	}
	switch {
	case len(picked) == 1:
		for idx := range picked {
			return Result{Kind: KindExactIndex, Index: idx}
		}
	case len(picked) > 1 && len(picked) == candidates:
		return Result{Kind: KindAll}
	}
	return refinement
}

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '&')
	})
	return fields
}

func isOrdinal(tok string, candidates int) bool {
	n, ok := ordinal(tok)
	return ok && n >= 1 && n <= candidates
}

func ordinal(tok string) (int, bool) {
	if n, ok := ordinalWords[tok]; ok {
		return n, true
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n, true
	}
	return 0, false
}
