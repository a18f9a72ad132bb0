// Package llm defines the gateway's language-model boundary: the module
// classifier and the completion backend, both interface-typed so the
// router and turn pipeline can run against deterministic fakes.
package llm

import (
	"context"

	"github.com/parslaw/dadgar/pkg/models"
)

// CompletionRequest is the ordered message sequence plus sampling
// parameters for one completion call.
type CompletionRequest struct {
	Model       string
	Messages    []models.ComposedMessage
	Temperature float64
	MaxTokens   int

	// OnDelta, when set, requests streaming; it is called once per text
	// delta in arrival order. The full text is still returned at the end.
	OnDelta func(delta string)
}

// CompletionResult is the backend's reply for one turn.
type CompletionResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens returns the backend-reported consumption for the call.
func (r *CompletionResult) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Completer is the completion backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ClassifyRequest carries what the module classifier sees: the router
// prompt, recent turns, and the new message.
type ClassifyRequest struct {
	RouterPrompt string
	Recent       []models.ChatMessage
	Message      string
}

// Classifier is the LLM-backed module decision function.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (models.RouterDecision, error)
}
