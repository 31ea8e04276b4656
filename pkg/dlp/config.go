package dlp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Placeholder categories emitted by the default rule set.
const (
	CategoryPhone    = "phone"
	CategoryEmail    = "email"
	CategoryPostcode = "postcode"
	CategoryDate     = "date"
	CategoryNIR      = "nir"
	CategorySSN      = "ssn"
)

type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category" json:"category"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Severity string `yaml:"severity" json:"severity"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

var ErrNoRules = errors.New("no DLP rules configured")

// LoadRules reads a YAML rule file. An empty path yields the default rules.
func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), fmt.Errorf("read rules %s: %w", path, err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parse rules %s: %w", path, err)
	}

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, ErrNoRules
	}
	for _, rule := range cfg.Rules {
		if rule.Category == "" {
			return RulesConfig{}, fmt.Errorf("rule %q has no category", rule.Name)
		}
	}

	return cfg, nil
}

const frenchMonths = `janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[ûu]t|septembre|octobre|novembre|d[ée]cembre`

func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "NIR", Category: CategoryNIR, Pattern: `\b[12]\s?\d{2}\s?(?:0[1-9]|1[0-2])\s?(?:\d{2}|2[ABab])\s?\d{3}\s?\d{3}(?:\s?\d{2})?\b`, Enabled: true, Severity: "high"},
		{Name: "SSN", Category: CategorySSN, Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Enabled: true, Severity: "high"},
		{Name: "Email", Category: CategoryEmail, Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Enabled: true, Severity: "medium"},
		{Name: "PhoneFR", Category: CategoryPhone, Pattern: `(?:\+33\s?|\b0)[1-9](?:[\s.\-]?\d{2}){4}\b`, Enabled: true, Severity: "medium"},
		{Name: "PhoneNANP", Category: CategoryPhone, Pattern: `\b\d{3}-\d{3}-\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}\b`, Enabled: true, Severity: "medium"},
		{Name: "DateNumeric", Category: CategoryDate, Pattern: `\b\d{1,2}[/.\-]\d{1,2}[/.\-](?:\d{4}|\d{2})\b`, Enabled: true, Severity: "medium"},
		{Name: "DateISO", Category: CategoryDate, Pattern: `\b\d{4}-\d{2}-\d{2}\b`, Enabled: true, Severity: "medium"},
		{Name: "DateFrench", Category: CategoryDate, Pattern: `(?i)\b\d{1,2}(?:er)?\s+(?:` + frenchMonths + `)\s+\d{4}\b`, Enabled: true, Severity: "medium"},
		{Name: "Postcode", Category: CategoryPostcode, Pattern: `\b\d{5}\b`, Enabled: true, Severity: "low"},
	}}
}
