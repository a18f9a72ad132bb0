package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/parslaw/dadgar/pkg/models"
)

// Policy is the routing policy: the confidence threshold, follow-up
// phrasings, per-module keyword tables, and history budgets. All of it is
// tuning data, kept in routing.yaml rather than code.
type Policy struct {
	ConfidenceThreshold float64             `yaml:"confidence_threshold"`
	FollowUpPatterns    []string            `yaml:"follow_up_patterns"`
	FollowUpMaxRunes    int                 `yaml:"follow_up_max_runes"`
	ModuleKeywords      map[string][]string `yaml:"module_keywords"`
	HistoryMaxTurns     int                 `yaml:"history_max_turns"`
	HistoryMaxTokens    int                 `yaml:"history_max_tokens"`
	MinPromptLength     int                 `yaml:"min_prompt_length"`
}

var currentPolicy atomic.Pointer[Policy]

// DefaultPolicy returns the built-in routing policy. Follow-up patterns and
// keyword tables cover Persian and English phrasings.
func DefaultPolicy() *Policy {
	return &Policy{
		ConfidenceThreshold: 0.6,
		FollowUpMaxRunes:    40,
		FollowUpPatterns: []string{
			"ادامه بده",
			"ادامه",
			"بقیه‌اش",
			"بقیه",
			"باشه",
			"خب بعدش",
			"همینو ادامه",
			"continue",
			"go on",
			"keep going",
			"and then",
			"what next",
			"ok go ahead",
		},
		ModuleKeywords: map[string][]string{
			string(models.ModuleContractDrafting): {
				"قرارداد بنویس",
				"تنظیم قرارداد",
				"پیش‌نویس قرارداد",
				"یه قرارداد میخوام",
				"draft a contract",
				"write a contract",
				"draw up a contract",
			},
			string(models.ModuleContractReview): {
				"بررسی قرارداد",
				"قراردادمو بررسی",
				"این قرارداد رو چک",
				"review my contract",
				"review this contract",
				"check my contract",
			},
			string(models.ModulePetitions): {
				"دادخواست",
				"شکوائیه",
				"شکایت کنم",
				"لایحه",
				"petition",
				"file a complaint",
			},
		},
		HistoryMaxTurns:  12,
		HistoryMaxTokens: 4000,
		MinPromptLength:  20,
	}
}

// Validate checks the policy for structural errors: threshold out of range,
// unknown module names, and keyword sets that overlap across modules
// (overlap would make explicit-intent detection ambiguous by construction).
func (p *Policy) Validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", p.ConfidenceThreshold)
	}
	seen := make(map[string]string) // normalized keyword -> module
	for name, keywords := range p.ModuleKeywords {
		if _, err := models.ParseModule(name); err != nil {
			return fmt.Errorf("module_keywords: %w", err)
		}
		for _, kw := range keywords {
			norm := NormalizeText(kw)
			if norm == "" {
				return fmt.Errorf("module_keywords[%s]: empty keyword", name)
			}
			if prev, ok := seen[norm]; ok && prev != name {
				return fmt.Errorf("keyword %q appears in both %s and %s", kw, prev, name)
			}
			seen[norm] = name
		}
	}
	return nil
}

// NormalizeText lowercases and collapses whitespace for pattern matching.
// Persian text has no case, so lowering only affects Latin segments.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LoadPolicy reads routing.yaml, validates it, and makes it available via
// GetPolicy. A missing file yields the defaults.
func LoadPolicy() (*Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(PolicyPath())
	if err != nil {
		if os.IsNotExist(err) {
			currentPolicy.Store(p)
			return p, nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	if p.FollowUpMaxRunes <= 0 {
		p.FollowUpMaxRunes = 40
	}
	if p.HistoryMaxTurns <= 0 {
		p.HistoryMaxTurns = 12
	}
	if p.HistoryMaxTokens <= 0 {
		p.HistoryMaxTokens = 4000
	}
	if p.MinPromptLength <= 0 {
		p.MinPromptLength = 20
	}

	currentPolicy.Store(p)
	return p, nil
}

// ReloadPolicy re-reads routing.yaml, keeping the previous policy on error.
func ReloadPolicy() error {
	prev := currentPolicy.Load()
	if _, err := LoadPolicy(); err != nil {
		if prev != nil {
			currentPolicy.Store(prev)
		}
		return err
	}
	return nil
}

// GetPolicy returns the current routing policy, loading defaults if
// LoadPolicy was never called.
func GetPolicy() *Policy {
	if p := currentPolicy.Load(); p != nil {
		return p
	}
	p := DefaultPolicy()
	currentPolicy.Store(p)
	return p
}

// EnsurePolicy writes a default routing.yaml if none exists.
func EnsurePolicy() error {
	path := PolicyPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(DefaultPolicy())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
