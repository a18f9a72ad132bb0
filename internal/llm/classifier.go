package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/parslaw/dadgar/pkg/models"
)

// classifierRecentTurns caps how much history the classifier sees.
const classifierRecentTurns = 6

// Classify implements Classifier: it asks the classifier model for a JSON
// decision and parses it leniently. Transport failures surface as
// ErrClassifierUnavailable, unparsable output as ErrClassifierMalformed;
// the sticky router is responsible for failing open.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (models.RouterDecision, error) {
	messages := make([]models.ComposedMessage, 0, classifierRecentTurns+2)
	messages = append(messages, models.ComposedMessage{
		Role:    models.RoleSystem,
		Content: req.RouterPrompt,
	})

	recent := req.Recent
	if len(recent) > classifierRecentTurns {
		recent = recent[len(recent)-classifierRecentTurns:]
	}
	for _, m := range recent {
		messages = append(messages, models.ComposedMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, models.ComposedMessage{
		Role:    models.RoleUser,
		Content: req.Message,
	})

	result, err := c.Complete(ctx, CompletionRequest{
		Model:       c.classifierModel,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.RouterDecision{}, ctx.Err()
		}
		return models.RouterDecision{}, fmt.Errorf("classifier call: %v: %w",
			err, models.ErrClassifierUnavailable)
	}

	decision, err := ParseDecision(result.Text)
	if err != nil {
		return models.RouterDecision{}, fmt.Errorf("classifier output: %v: %w",
			err, models.ErrClassifierMalformed)
	}
	return decision, nil
}

// decisionWire is the JSON shape the router prompt asks for.
type decisionWire struct {
	Module           string   `json:"module"`
	Confidence       float64  `json:"confidence"`
	RequiredMetadata []string `json:"required_metadata"`
	Notes            string   `json:"notes"`
}

// ParseDecision extracts a RouterDecision from raw classifier output.
// Models wrap JSON in prose or code fences often enough that we scan for
// the outermost object instead of decoding the whole text.
func ParseDecision(raw string) (models.RouterDecision, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return models.RouterDecision{}, fmt.Errorf("no JSON object in %q", truncateForLog(raw))
	}

	var wire decisionWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return models.RouterDecision{}, fmt.Errorf("decode decision: %w", err)
	}

	module, err := models.ParseModule(wire.Module)
	if err != nil {
		return models.RouterDecision{}, err
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.RouterDecision{
		Module:           module,
		Confidence:       confidence,
		RequiredMetadata: models.JSONStringArray(wire.RequiredMetadata),
		Notes:            wire.Notes,
		DecidedAt:        time.Now(),
	}, nil
}

func truncateForLog(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[:120] + "..."
}
