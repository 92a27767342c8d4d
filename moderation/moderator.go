// Package moderation screens message bodies against a list of blocked words.
// Matching ignores case, punctuation, spacing and common leet substitutions,
// so "B.4.d-g3r" matches "badger".
package moderation

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

type Moderator struct {
	matcher *goahocorasick.Machine
}

// NewModerator builds the automaton. Blank words are ignored; a list with no
// usable word yields a nil Moderator, which blocks nothing.
func NewModerator(blockedWords []string) (*Moderator, error) {
	patterns := lo.FilterMap(blockedWords, func(word string, _ int) ([]rune, bool) {
		normalized := normalize(strings.TrimSpace(word))
		return normalized, len(normalized) > 0
	})
	if len(patterns) == 0 {
		return nil, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m}, nil
}

// Blocked returns the distinct normalized words found in text.
func (m *Moderator) Blocked(text string) []string {
	if m == nil {
		return nil
	}
	normalized := normalize(text)
	if len(normalized) == 0 {
		return nil
	}
	terms := m.matcher.MultiPatternSearch(normalized, false)
	return lo.Uniq(lo.Map(terms, func(term *goahocorasick.Term, _ int) string {
		return string(term.Word)
	}))
}

func normalize(input string) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet characters back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
