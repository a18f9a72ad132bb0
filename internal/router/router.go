// Package router implements sticky module routing: the per-turn decision
// of which task module handles a message, combining the LLM classifier's
// verdict with local heuristics and the chat's current active module.
package router

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/config"
	"github.com/parslaw/dadgar/internal/llm"
	"github.com/parslaw/dadgar/pkg/models"
)

// Router resolves the effective module for each turn. The policy getter is
// called per turn so routing.yaml reloads take effect without restart.
type Router struct {
	classifier llm.Classifier
	policy     func() *config.Policy
}

// New creates a router.
func New(classifier llm.Classifier, policy func() *config.Policy) *Router {
	if policy == nil {
		policy = config.GetPolicy
	}
	return &Router{classifier: classifier, policy: policy}
}

// DetectFollowUp reports whether the text reads as a continuation of the
// ongoing task: a short message matching acknowledgement/"continue"
// phrasing, independent of module keywords.
func (r *Router) DetectFollowUp(text string) bool {
	p := r.policy()
	norm := config.NormalizeText(text)
	if norm == "" {
		return false
	}
	if utf8.RuneCountInString(norm) > p.FollowUpMaxRunes {
		return false
	}
	for _, pattern := range p.FollowUpPatterns {
		if strings.Contains(norm, config.NormalizeText(pattern)) {
			return true
		}
	}
	return false
}

// DetectExplicitIntent returns the module whose keywords the text matches.
// A match is only honored when it is unambiguous: text touching the
// keyword tables of more than one module yields no intent.
func (r *Router) DetectExplicitIntent(text string) (models.Module, bool) {
	p := r.policy()
	norm := config.NormalizeText(text)
	if norm == "" {
		return "", false
	}

	var (
		matched models.Module
		found   bool
	)
	for _, m := range models.Modules() {
		keywords, ok := p.ModuleKeywords[string(m)]
		if !ok {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(norm, config.NormalizeText(kw)) {
				if found && matched != m {
					return "", false // ambiguous across modules
				}
				matched = m
				found = true
				break
			}
		}
	}
	return matched, found
}

// Resolve produces the effective module for this turn. Precedence:
//  1. explicit user intent always wins;
//  2. a weak-confidence decision during a follow-up keeps the active
//     module (resist thrashing mid-task);
//  3. otherwise the classifier's module is trusted.
func (r *Router) Resolve(active models.Module, text string, decision models.RouterDecision) models.Module {
	if intent, ok := r.DetectExplicitIntent(text); ok {
		return intent
	}

	threshold := r.policy().ConfidenceThreshold
	if r.DetectFollowUp(text) && decision.Confidence < threshold {
		return active
	}

	if decision.Module.Valid() {
		return decision.Module
	}
	return active
}

// Decide obtains the turn's RouterDecision from the classifier, retrying
// once on transport failure. Malformed output is not retried: the model
// already answered, and a second call rarely changes its mind. Either way
// it fails open, proceeding with a synthetic zero-confidence decision
// pinned to the active module.
func (r *Router) Decide(ctx context.Context, routerPrompt string, active models.Module, recent []models.ChatMessage, text string) models.RouterDecision {
	req := llm.ClassifyRequest{
		RouterPrompt: routerPrompt,
		Recent:       recent,
		Message:      text,
	}

	decision, err := r.classifier.Classify(ctx, req)
	if err != nil && errors.Is(err, models.ErrClassifierUnavailable) &&
		!errors.Is(err, models.ErrClassifierMalformed) && ctx.Err() == nil {
		decision, err = r.classifier.Classify(ctx, req)
	}
	if err != nil {
		log.Warn().Err(err).Str("activeModule", string(active)).
			Msg("Classifier failed, staying on active module")
		return models.FallbackDecision(active, "classifier unavailable: "+err.Error())
	}
	return decision
}
