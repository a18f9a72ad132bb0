package models

import "time"

// RouterDecision is the classifier's structured verdict for a single turn.
// Produced once per turn, never mutated, appended to the chat's decision log.
type RouterDecision struct {
	Module           Module          `json:"module"`
	Confidence       float64         `json:"confidence"`
	RequiredMetadata JSONStringArray `json:"required_metadata,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Fallback         bool            `json:"fallback,omitempty"`
	DecidedAt        time.Time       `json:"decided_at"`
}

// FallbackDecision builds the synthetic decision recorded when the
// classifier is unavailable or returned garbage. Confidence is zero so the
// sticky router keeps the chat on its active module.
func FallbackDecision(active Module, note string) RouterDecision {
	return RouterDecision{
		Module:     active,
		Confidence: 0,
		Notes:      note,
		Fallback:   true,
		DecidedAt:  time.Now(),
	}
}
