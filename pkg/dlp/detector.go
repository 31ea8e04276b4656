package dlp

import (
	"fmt"
	"regexp"
	"sort"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Match is one pattern hit, with byte offsets into the scanned text.
type Match struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Category string `json:"category"`
	Rule     string `json:"rule"`
	Value    string `json:"-"`
}

type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// MustDefault builds a detector from DefaultRules and panics on a bad pattern.
func MustDefault() *Detector {
	d, err := NewDetector(DefaultRules())
	if err != nil {
		panic(err)
	}
	return d
}

// Scan returns every match of every enabled rule, ordered by start offset.
// Matches from different rules may overlap; callers resolve overlaps.
func (d *Detector) Scan(text string) []Match {
	if d == nil || text == "" {
		return nil
	}

	var matches []Match
	for _, rule := range d.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			matches = append(matches, Match{
				Start:    loc[0],
				End:      loc[1],
				Category: rule.rule.Category,
				Rule:     rule.rule.Name,
				Value:    text[loc[0]:loc[1]],
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	return matches
}

// Categories summarises which categories were seen in a scan.
func Categories(matches []Match) map[string]int {
	counts := make(map[string]int)
	for _, m := range matches {
		counts[m.Category]++
	}
	return counts
}
