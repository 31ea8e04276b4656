// Package redaction replaces protected identifiers in outgoing text by
// reversible placeholders and restores them in model output.
//
// A pass combines three strategies into one replacement set before a
// single substitution over the text:
//  1. structured patient attributes and their surface forms,
//  2. entities flagged by assisted extraction,
//  3. regular-expression patterns (phones, emails, dates, ...).
//
// Overlaps between candidates are resolved by descending span length, then
// strategy priority. Pattern matches are only kept where they overlap
// nothing found by the first two strategies, except that a pattern match
// absorbs derived forms lying strictly inside it ("martin" inside an email).
package redaction

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/dlp"
)

// Result is the output of one pass.
type Result struct {
	Text    string
	Context *RestorationContext
}

type Engine struct {
	detector *dlp.Detector
}

// NewEngine builds an engine over the given pattern detector, or over the
// default rules when detector is nil.
func NewEngine(detector *dlp.Detector) *Engine {
	if detector == nil {
		detector = dlp.MustDefault()
	}
	return &Engine{detector: detector}
}

type span struct {
	start, end int
	cand       candidate
}

func (s span) length() int { return s.end - s.start }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

// Redact runs one pass over text. attrs and entities may be nil. Passes
// that will later be combined must share issuer; a nil issuer starts a
// fresh numbering.
func (e *Engine) Redact(issuer *Issuer, text string, attrs *models.PatientAttributes, entities models.EntitySet) Result {
	if text == "" {
		return Result{Text: text, Context: &RestorationContext{Replacements: map[string]string{}}}
	}
	if issuer == nil {
		issuer = NewIssuer()
	}

	cands := dedupe(attributeCandidates(attrs))
	cands = append(cands, entityCandidates(entities, cands)...)

	var primary []span
	for _, c := range cands {
		primary = append(primary, findSpans(text, c)...)
	}
	accepted := resolve(nil, primary)

	var patterns []span
	for _, m := range e.detector.Scan(text) {
		patterns = append(patterns, span{
			start: m.Start,
			end:   m.End,
			cand:  candidate{form: m.Value, category: m.Category, priority: priorityPattern},
		})
	}
	accepted = resolvePatterns(accepted, patterns)

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return e.substitute(issuer, text, accepted)
}

func (e *Engine) substitute(issuer *Issuer, text string, spans []span) Result {
	ctx := newContext()
	var out strings.Builder
	out.Grow(len(text))

	var patientTokens []string
	last := 0
	for _, s := range spans {
		literal := text[s.start:s.end]
		var token string
		if s.cand.person != "" {
			token = issuer.PersonToken(s.cand.category, s.cand.person, literal, text)
			if s.cand.person == personPatient {
				patientTokens = append(patientTokens, token)
			}
		} else {
			token = issuer.Token(s.cand.category, literal, text)
		}
		ctx.Replacements[token] = literal

		out.WriteString(text[last:s.start])
		out.WriteString(token)
		last = s.end
	}
	out.WriteString(text[last:])

	if pseudonym := issuer.Pseudonym(personPatient); pseudonym != "" {
		if _, here := ctx.Replacements[pseudonym]; here {
			ctx.Pseudonym = pseudonym
		}
	}
	if ctx.Pseudonym == "" && len(patientTokens) > 0 {
		ctx.Pseudonym = patientTokens[0]
	}

	return Result{Text: out.String(), Context: ctx}
}

// resolve adds the candidates of next to accepted, longest first, skipping
// any span that overlaps one already accepted.
func resolve(accepted, next []span) []span {
	sortSpans(next)
	for _, s := range next {
		free := true
		for _, a := range accepted {
			if s.overlaps(a) {
				free = false
				break
			}
		}
		if free {
			accepted = append(accepted, s)
		}
	}
	return accepted
}

func sortSpans(spans []span) {
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.length() != b.length() {
			return a.length() > b.length()
		}
		if a.cand.priority != b.cand.priority {
			return a.cand.priority < b.cand.priority
		}
		return a.start < b.start
	})
}

// resolvePatterns adds pattern spans the way resolve does, but a pattern
// span also wins over accepted boundary-checked forms it strictly contains.
func resolvePatterns(accepted, patterns []span) []span {
	sortSpans(patterns)
	for _, p := range patterns {
		var inside []int
		free := true
		for i, a := range accepted {
			if !p.overlaps(a) {
				continue
			}
			if a.cand.boundary && a.cand.priority < priorityPattern && p.start <= a.start && a.end <= p.end && a.length() < p.length() {
				inside = append(inside, i)
				continue
			}
			free = false
			break
		}
		if !free {
			continue
		}
		for j := len(inside) - 1; j >= 0; j-- {
			i := inside[j]
			accepted = append(accepted[:i], accepted[i+1:]...)
		}
		accepted = append(accepted, p)
	}
	return accepted
}

// findSpans locates every case-insensitive occurrence of c.form. Runs of
// whitespace in the form match any run of whitespace in the text.
func findSpans(text string, c candidate) []span {
	re, err := regexp.Compile(`(?i)` + formPattern(c.form))
	if err != nil {
		return nil
	}
	var out []span
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if c.boundary && !atBoundary(text, loc[0], loc[1]) {
			continue
		}
		out = append(out, span{start: loc[0], end: loc[1], cand: c})
	}
	return out
}

func formPattern(form string) string {
	parts := strings.Fields(form)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

func atBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func dedupe(in []candidate) []candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if strings.TrimSpace(c.form) == "" {
			continue
		}
		key := c.category + "\x00" + c.person + "\x00" + c.form
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// entityCandidates turns extracted entities into candidates, skipping any
// entity already covered by an attribute form.
func entityCandidates(entities models.EntitySet, covered []candidate) []candidate {
	if len(entities) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(covered))
	for _, c := range covered {
		known[normalizedKey(c.form)] = struct{}{}
	}

	var out []candidate
	for _, ent := range entities {
		text := strings.TrimSpace(ent.Text)
		if utf8.RuneCountInString(text) < minValueRunes {
			continue
		}
		key := normalizedKey(text)
		if _, dup := known[key]; dup {
			continue
		}
		known[key] = struct{}{}

		c := candidate{form: text, priority: priorityExtracted, boundary: true}
		switch ent.Category {
		case models.EntityPerson:
			c.category = categoryPerson
			c.person = personEntityPref + key
		case models.EntityOrganization:
			c.category = categoryOrg
		case models.EntityPlace:
			c.category = categoryPlace
		case models.EntityDate:
			c.category = categoryDate
		default:
			c.category = categoryEntity
		}
		out = append(out, c)
	}
	return out
}
