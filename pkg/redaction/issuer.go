package redaction

import (
	"fmt"
	"strings"
)

// Placeholder categories.
const (
	categoryPatient  = "patient"
	categoryPerson   = "person"
	categoryDate     = "date"
	categoryAddress  = "address"
	categoryPhone    = "phone"
	categoryEmail    = "email"
	categorySchool   = "school"
	categoryID       = "id"
	categoryOrg      = "org"
	categoryPlace    = "place"
	categoryEntity   = "entity"
	personPatient    = "patient"
	personGuardian   = "guardian"
	personEntityPref = "entity:"
)

// Issuer hands out placeholder tokens. Every pass that shares an Issuer
// draws from the same counters, so a token always stands for exactly one
// original value across all of those passes, and the same value always
// gets the same token.
//
// An Issuer belongs to a single call and is not safe for concurrent use.
type Issuer struct {
	counters map[string]int
	byValue  map[string]string
	persons  map[string]*personSlot
	used     map[string]struct{}
	reserved []string
}

type personSlot struct {
	category string
	number   int
	primary  string
	variants map[string]string
}

// NewIssuer starts a numbering. reserved holds every input text of the
// call: no token that occurs in any of them is ever issued, so restoring
// one pass cannot rewrite text the caller wrote in another.
func NewIssuer(reserved ...string) *Issuer {
	return &Issuer{
		counters: make(map[string]int),
		byValue:  make(map[string]string),
		persons:  make(map[string]*personSlot),
		used:     make(map[string]struct{}),
		reserved: reserved,
	}
}

// Token returns the placeholder for value in category. avoid is the text
// being redacted: a token that already occurs in it is never issued.
func (i *Issuer) Token(category, value, avoid string) string {
	key := category + "\x00" + value
	if tok, ok := i.byValue[key]; ok {
		return tok
	}
	for {
		i.counters[category]++
		tok := fmt.Sprintf("[%s_%d]", category, i.counters[category])
		if i.available(tok, avoid) {
			i.used[tok] = struct{}{}
			i.byValue[key] = tok
			return tok
		}
	}
}

// PersonToken returns the placeholder for one literal spelling of a person.
// The first spelling gets the person's base token; further spellings reuse
// its number with a letter suffix so each one restores to itself.
func (i *Issuer) PersonToken(category, person, literal, avoid string) string {
	slot, ok := i.persons[person]
	if !ok {
		slot = &personSlot{category: category, variants: make(map[string]string)}
		for {
			i.counters[category]++
			base := fmt.Sprintf("[%s_%d]", category, i.counters[category])
			if i.available(base, avoid) {
				slot.number = i.counters[category]
				break
			}
		}
		i.persons[person] = slot
	}
	if tok, ok := slot.variants[literal]; ok {
		return tok
	}

	for n := len(slot.variants); ; n++ {
		tok := fmt.Sprintf("[%s_%d%s]", slot.category, slot.number, variantSuffix(n))
		if i.available(tok, avoid) {
			i.used[tok] = struct{}{}
			slot.variants[literal] = tok
			if slot.primary == "" {
				slot.primary = tok
			}
			return tok
		}
	}
}

// Pseudonym is the first token issued for a person, empty until one of
// their spellings has been seen.
func (i *Issuer) Pseudonym(person string) string {
	if slot, ok := i.persons[person]; ok {
		return slot.primary
	}
	return ""
}

// available rejects a token already issued or present in the pass text or
// a reserved text, in either its plain or its capitalised spelling.
func (i *Issuer) available(tok, avoid string) bool {
	if _, taken := i.used[tok]; taken {
		return false
	}
	capped := capitalizeFirst(tok)
	for _, text := range append([]string{avoid}, i.reserved...) {
		if strings.Contains(text, tok) || strings.Contains(text, capped) {
			return false
		}
	}
	return true
}

// variantSuffix maps 0 to "", 1 to "b", ... 25 to "z", then numbers.
func variantSuffix(n int) string {
	switch {
	case n == 0:
		return ""
	case n < 26:
		return string(rune('a' + n))
	default:
		return fmt.Sprintf("_%d", n)
	}
}
