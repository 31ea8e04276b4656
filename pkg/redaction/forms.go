package redaction

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

// minSingleTokenRunes gates surface forms made of one word: shorter
// words collide too often with ordinary vocabulary.
const minSingleTokenRunes = 4

// minValueRunes is the shortest attribute value that is redacted at all.
const minValueRunes = 2

// commonWords are names that double as ordinary French or English words.
// They are never redacted on their own, only as part of a longer form.
var commonWords = map[string]struct{}{
	"rose": {}, "pierre": {}, "blanc": {}, "blanche": {}, "petit": {}, "petite": {},
	"grand": {}, "roux": {}, "brun": {}, "noir": {}, "vert": {}, "france": {},
	"marin": {}, "page": {}, "lion": {}, "loup": {}, "beau": {}, "belle": {},
	"bon": {}, "avril": {}, "juin": {}, "mars": {}, "reine": {}, "prince": {},
	"will": {}, "mark": {}, "june": {}, "april": {}, "bill": {}, "grace": {},
	"hope": {}, "faith": {}, "summer": {}, "rich": {}, "young": {}, "white": {},
	"black": {}, "green": {}, "brown": {}, "long": {}, "king": {}, "baker": {},
	"patient": {}, "docteur": {}, "doctor": {}, "madame": {}, "monsieur": {},
}

var frenchMonthNames = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// candidate is one surface form to look for in the text.
type candidate struct {
	form     string
	category string
	person   string // identity key, non-empty for person names
	priority int
	boundary bool // must sit between word boundaries
}

const (
	priorityAttribute = 1
	priorityExtracted = 2
	priorityPattern   = 3
)

// personName splits a full name into given names and family name.
// Fully upper-cased tokens are taken as the family name ("MARTIN Jean"),
// otherwise the last token is.
func personName(full string) (first, last string) {
	tokens := strings.Fields(full)
	if len(tokens) == 0 {
		return "", ""
	}
	if len(tokens) == 1 {
		return "", tokens[0]
	}

	var firsts, lasts []string
	for _, tok := range tokens {
		if isUpperWord(tok) {
			lasts = append(lasts, tok)
		} else {
			firsts = append(firsts, tok)
		}
	}
	if len(lasts) == 0 || len(firsts) == 0 {
		return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
	}
	return strings.Join(firsts, " "), strings.Join(lasts, " ")
}

func isUpperWord(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 1
}

// nameForms lists the surface forms of one person's name. The value as
// given always comes first and is matched without boundaries.
func nameForms(full, category, person string) []candidate {
	full = strings.TrimSpace(full)
	if utf8.RuneCountInString(full) < minValueRunes {
		return nil
	}

	out := []candidate{{form: full, category: category, person: person, priority: priorityAttribute}}
	add := func(form string, boundary bool) {
		if utf8.RuneCountInString(form) < minValueRunes {
			return
		}
		out = append(out, candidate{form: form, category: category, person: person, priority: priorityAttribute, boundary: boundary})
	}

	first, last := personName(full)
	if first != "" {
		add(first+" "+last, false)
		add(last+" "+first, false)
		initial, _ := utf8.DecodeRuneInString(first)
		add(string(initial)+". "+last, true)
		add(string(initial)+" "+last, true)
	}
	for _, single := range []string{first, last} {
		if single == "" || strings.Contains(single, " ") {
			continue
		}
		if singleTokenAllowed(single) {
			add(single, true)
		}
	}
	if first != "" && strings.Contains(last, " ") && singleTokenAllowed(last) {
		add(last, true)
	}

	return withFoldedVariants(out)
}

func singleTokenAllowed(word string) bool {
	if utf8.RuneCountInString(word) < minSingleTokenRunes {
		return false
	}
	_, common := commonWords[strings.ToLower(foldDiacritics(word))]
	return !common
}

var dateLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02", "02-01-2006", "02.01.2006", "02/01/06"}

// dateForms renders a date of birth the ways a clinician might write it.
func dateForms(value string) []candidate {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < minValueRunes {
		return nil
	}
	out := []candidate{{form: value, category: categoryDate, priority: priorityAttribute}}

	var parsed time.Time
	var ok bool
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			parsed, ok = t, true
			break
		}
	}
	if !ok {
		return out
	}

	day := parsed.Day()
	month := frenchMonthNames[parsed.Month()-1]
	rendered := []string{
		parsed.Format("02/01/2006"),
		parsed.Format("02-01-2006"),
		parsed.Format("02.01.2006"),
		parsed.Format("2006-01-02"),
		parsed.Format("02/01/06"),
		parsed.Format("2/1/2006"),
		fmt.Sprintf("%d %s %d", day, month, parsed.Year()),
		fmt.Sprintf("%02d %s %d", day, month, parsed.Year()),
		parsed.Format("2 January 2006"),
		parsed.Format("January 2, 2006"),
	}
	if day == 1 {
		rendered = append(rendered, fmt.Sprintf("1er %s %d", month, parsed.Year()))
	}
	for _, form := range rendered {
		if form != value {
			out = append(out, candidate{form: form, category: categoryDate, priority: priorityAttribute, boundary: true})
		}
	}
	return withFoldedVariants(out)
}

// phoneForms renders a phone number in spaced, dotted, dashed, compact and
// international forms when it parses as a French national number.
func phoneForms(value string) []candidate {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < minValueRunes {
		return nil
	}
	out := []candidate{{form: value, category: categoryPhone, priority: priorityAttribute}}

	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	national := digits.String()
	if strings.HasPrefix(national, "33") && len(national) == 11 {
		national = "0" + national[2:]
	}
	if len(national) != 10 || national[0] != '0' {
		return out
	}

	pairs := make([]string, 0, 5)
	for i := 0; i < 10; i += 2 {
		pairs = append(pairs, national[i:i+2])
	}
	intlPairs := append([]string{national[1:2]}, pairs[1:]...)
	rendered := []string{
		national,
		strings.Join(pairs, " "),
		strings.Join(pairs, "."),
		strings.Join(pairs, "-"),
		"+33" + national[1:],
		"+33 " + strings.Join(intlPairs, " "),
	}
	for _, form := range rendered {
		if form != value {
			out = append(out, candidate{form: form, category: categoryPhone, priority: priorityAttribute, boundary: true})
		}
	}
	return out
}

// addressForms adds the street line of a multi-part address.
func addressForms(value string) []candidate {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < minValueRunes {
		return nil
	}
	out := []candidate{{form: value, category: categoryAddress, priority: priorityAttribute}}
	if i := strings.Index(value, ","); i > 0 {
		street := strings.TrimSpace(value[:i])
		if utf8.RuneCountInString(street) >= 8 {
			out = append(out, candidate{form: street, category: categoryAddress, priority: priorityAttribute, boundary: true})
		}
	}
	return withFoldedVariants(out)
}

// literalForms covers attributes that are matched as given.
func literalForms(value, category string) []candidate {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < minValueRunes {
		return nil
	}
	return withFoldedVariants([]candidate{{form: value, category: category, priority: priorityAttribute}})
}

// attributeCandidates expands every non-empty attribute into its forms.
func attributeCandidates(attrs *models.PatientAttributes) []candidate {
	if attrs == nil {
		return nil
	}
	var out []candidate
	out = append(out, nameForms(attrs.Name, categoryPatient, personPatient)...)
	out = append(out, nameForms(attrs.GuardianName, categoryPerson, personGuardian)...)
	out = append(out, dateForms(attrs.DateOfBirth)...)
	out = append(out, addressForms(attrs.Address)...)
	out = append(out, phoneForms(attrs.Phone)...)
	out = append(out, phoneForms(attrs.GuardianPhone)...)
	out = append(out, literalForms(attrs.Email, categoryEmail)...)
	out = append(out, literalForms(attrs.GuardianEmail, categoryEmail)...)
	out = append(out, literalForms(attrs.School, categorySchool)...)
	keys := make([]string, 0, len(attrs.Extra))
	for k := range attrs.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, literalForms(attrs.Extra[k], categoryID)...)
	}
	return out
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// foldDiacritics removes combining marks: "Hélène" becomes "Helene".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// withFoldedVariants appends the diacritic-free and decomposed spellings of
// each form so "Helene" and NFD input still match "Hélène".
func withFoldedVariants(in []candidate) []candidate {
	out := in
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		seen[c.form] = struct{}{}
	}
	for _, c := range in {
		for _, variant := range []string{foldDiacritics(c.form), norm.NFD.String(c.form)} {
			if _, dup := seen[variant]; dup {
				continue
			}
			seen[variant] = struct{}{}
			v := c
			v.form = variant
			out = append(out, v)
		}
	}
	return out
}

func normalizedKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(foldDiacritics(s)), " "))
}
