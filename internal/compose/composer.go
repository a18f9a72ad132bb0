// Package compose assembles the message list sent to the completion
// backend. Composition order is fixed: core prompt, module prompt,
// conversation summary block, article lookup block, trimmed history
// oldest-first, then the new user message.
package compose

import (
	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/config"
	"github.com/parslaw/dadgar/internal/tokens"
	"github.com/parslaw/dadgar/pkg/models"
)

const (
	summaryMarker = "CONVERSATION_SUMMARY_JSON:"
	lookupMarker  = "ARTICLE_LOOKUP_RESULTS_JSON:"
)

// Input carries everything a single turn contributes to the prompt.
// Summary and LookupResults are JSON documents; empty strings render
// as {} so the backend always sees both blocks at fixed positions.
type Input struct {
	CorePrompt    string
	ModulePrompt  string
	Summary       string
	LookupResults string
	History       []models.ChatMessage
	Message       string
}

type Composer struct {
	estimator *tokens.Estimator
	policy    func() *config.Policy
}

func New(estimator *tokens.Estimator, policy func() *config.Policy) *Composer {
	if policy == nil {
		policy = config.GetPolicy
	}
	return &Composer{estimator: estimator, policy: policy}
}

// Compose builds the ordered message list for one turn.
func (c *Composer) Compose(in Input) []models.ComposedMessage {
	p := c.policy()
	history := c.TrimHistory(in.History, p.HistoryMaxTurns, p.HistoryMaxTokens)

	out := make([]models.ComposedMessage, 0, len(history)+5)
	out = append(out,
		models.ComposedMessage{Role: models.RoleSystem, Content: in.CorePrompt},
		models.ComposedMessage{Role: models.RoleSystem, Content: in.ModulePrompt},
		models.ComposedMessage{Role: models.RoleSystem, Content: summaryMarker + "\n" + orEmptyJSON(in.Summary)},
		models.ComposedMessage{Role: models.RoleSystem, Content: lookupMarker + "\n" + orEmptyJSON(in.LookupResults)},
	)
	for _, msg := range history {
		out = append(out, models.ComposedMessage{Role: msg.Role, Content: msg.Content})
	}
	out = append(out, models.ComposedMessage{Role: models.RoleUser, Content: in.Message})
	return out
}

// TrimHistory drops the oldest messages until both budgets hold. A turn
// is a user/assistant exchange, so the turn budget caps messages at
// twice its value. Relative order of the survivors is preserved.
func (c *Composer) TrimHistory(history []models.ChatMessage, maxTurns, maxTokens int) []models.ChatMessage {
	if len(history) == 0 {
		return nil
	}
	kept := history
	if maxTurns > 0 && len(kept) > maxTurns*2 {
		kept = kept[len(kept)-maxTurns*2:]
	}
	if maxTokens <= 0 {
		return kept
	}

	total := 0
	counts := make([]int, len(kept))
	for i, msg := range kept {
		n := msg.Tokens
		if n <= 0 {
			n = c.estimator.EstimateText(msg.Content)
		}
		counts[i] = n
		total += n
	}
	start := 0
	for start < len(kept) && total > maxTokens {
		total -= counts[start]
		start++
	}
	if start > 0 {
		log.Debug().
			Int("dropped", start).
			Int("kept", len(kept)-start).
			Msg("trimmed history to token budget")
	}
	return kept[start:]
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
