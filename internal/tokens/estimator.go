// Package tokens provides deterministic token estimation for quota
// accounting. Estimates must be stable across runs so that usage records
// stay auditable; no network access is allowed here.
package tokens

import (
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/parslaw/dadgar/pkg/models"
)

// Estimator counts tokens with a BPE codec, falling back to a
// Unicode-weight heuristic when the encoding is unavailable.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates an estimator backed by the cl100k_base encoding.
func NewEstimator() *Estimator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("cl100k_base unavailable, using heuristic token estimates")
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// EstimateText returns the token count for a text. Empty text is 0; any
// nonempty text counts at least 1.
func (e *Estimator) EstimateText(s string) int {
	if s == "" {
		return 0
	}
	n := e.count(s)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessages totals a sequence of role-tagged messages. Each message
// is floored at 1 token even when its content is empty, so every turn
// produces a nonzero accounting signal.
func (e *Estimator) EstimateMessages(msgs []models.ComposedMessage) int {
	total := 0
	for _, m := range msgs {
		n := e.count(m.Content)
		if n < 1 {
			n = 1
		}
		total += n
	}
	return total
}

func (e *Estimator) count(s string) int {
	if e.codec != nil {
		ids, _, err := e.codec.Encode(s)
		if err == nil {
			return len(ids)
		}
	}
	return heuristicTokens(s)
}

// heuristicTokens estimates tokens with Unicode-aware weights: ASCII runs
// at roughly 4 characters per token, everything else (Persian, Arabic,
// CJK, emoji) at roughly 1 character per token.
func heuristicTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
