package redaction

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RestorationContext is the reversible mapping produced by one redaction
// pass, or by combining several passes of the same call.
type RestorationContext struct {
	WasRedacted bool
	// Replacements maps placeholder token to original value.
	Replacements map[string]string
	// Pseudonym is the token standing for the patient, if the patient
	// appeared in the text.
	Pseudonym string
	// Conflicts counts keys dropped by Combine because an earlier table
	// already mapped them to a different value.
	Conflicts int
}

func newContext() *RestorationContext {
	return &RestorationContext{WasRedacted: true, Replacements: make(map[string]string)}
}

// Len is the number of replacements, zero for a nil context.
func (c *RestorationContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Replacements)
}

// Categories counts replacements per placeholder category.
func (c *RestorationContext) Categories() map[string]int {
	counts := make(map[string]int)
	if c == nil {
		return counts
	}
	for token := range c.Replacements {
		counts[TokenCategory(token)]++
	}
	return counts
}

// TokenCategory extracts "email" from "[email_3]".
func TokenCategory(token string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(token, "["), "]")
	if i := strings.Index(inner, "_"); i > 0 {
		return inner[:i]
	}
	return inner
}

// Restore replaces every placeholder of ctx in text by its original value.
// A placeholder re-capitalised at a sentence start ("[Patient_1]") is
// restored with its first letter upper-cased.
func Restore(text string, ctx *RestorationContext) string {
	if ctx == nil || !ctx.WasRedacted || len(ctx.Replacements) == 0 || text == "" {
		return text
	}
	return ctx.replacer().Replace(text)
}

func (c *RestorationContext) replacer() *strings.Replacer {
	tokens := make([]string, 0, len(c.Replacements))
	for token := range c.Replacements {
		tokens = append(tokens, token)
	}
	// Longest first so no token can shadow a longer one sharing its prefix.
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	pairs := make([]string, 0, 4*len(tokens))
	for _, token := range tokens {
		pairs = append(pairs, token, c.Replacements[token])
	}
	for _, token := range tokens {
		capped := capitalizeFirst(token)
		if capped == token {
			continue
		}
		if _, isKey := c.Replacements[capped]; isKey {
			continue
		}
		pairs = append(pairs, capped, capitalizeFirst(c.Replacements[token]))
	}
	return strings.NewReplacer(pairs...)
}

// capitalizeFirst upper-cases the first letter, skipping leading punctuation.
func capitalizeFirst(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			upper := unicode.ToUpper(r)
			if upper == r {
				return s
			}
			return s[:i] + string(upper) + s[i+utf8.RuneLen(r):]
		}
	}
	return s
}

// Combine merges the system table and the message tables of one exchange.
// The system table is read first, then each message table in order; the
// first writer of a key wins. The pseudonym is the system table's, or else
// the last non-empty message pseudonym.
func Combine(system *RestorationContext, messages ...*RestorationContext) *RestorationContext {
	combined := newContext()

	merge := func(src *RestorationContext) {
		if src == nil {
			return
		}
		for token, value := range src.Replacements {
			existing, ok := combined.Replacements[token]
			if !ok {
				combined.Replacements[token] = value
				continue
			}
			if existing != value {
				combined.Conflicts++
			}
		}
		combined.Conflicts += src.Conflicts
	}

	merge(system)
	for _, msg := range messages {
		merge(msg)
		if msg != nil && msg.Pseudonym != "" {
			combined.Pseudonym = msg.Pseudonym
		}
	}
	if system != nil && system.Pseudonym != "" {
		combined.Pseudonym = system.Pseudonym
	}
	return combined
}
