package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parslaw/dadgar/pkg/models"
)

func TestParseDecisionCleanJSON(t *testing.T) {
	raw := `{"module":"contract_review","confidence":0.85,"required_metadata":["contract_text"],"notes":"user pasted a contract"}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, models.ModuleContractReview, d.Module)
	assert.InDelta(t, 0.85, d.Confidence, 0.001)
	assert.Equal(t, models.JSONStringArray{"contract_text"}, d.RequiredMetadata)
	assert.False(t, d.DecidedAt.IsZero())
}

func TestParseDecisionFencedJSON(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"module\":\"petitions_complaints\",\"confidence\":0.7}\n```"

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, models.ModulePetitions, d.Module)
}

func TestParseDecisionClampsConfidence(t *testing.T) {
	d, err := ParseDecision(`{"module":"generic_chat","confidence":1.8}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Confidence)

	d, err = ParseDecision(`{"module":"generic_chat","confidence":-0.3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestParseDecisionErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no JSON", "I think this is about contracts"},
		{"broken JSON", `{"module": "contract_review", "confidence":`},
		{"unknown module", `{"module":"tax_filing","confidence":0.9}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDecision(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestCompleteSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"سلام، چطور می‌توانم کمک کنم؟"}}],
			"usage":{"prompt_tokens":42,"completion_tokens":12}
		}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o"})
	result, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []models.ComposedMessage{{Role: models.RoleUser, Content: "سلام"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "سلام، چطور می‌توانم کمک کنم؟", result.Text)
	assert.Equal(t, int64(42), result.InputTokens)
	assert.Equal(t, int64(54), result.TotalTokens())
}

func TestCompleteNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []models.ComposedMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"قرارداد"}}]}`,
			`data: {"choices":[{"delta":{"content":" اجاره"}}]}`,
			`data: {"choices":[{"delta":{}}],"usage":{"prompt_tokens":30,"completion_tokens":8}}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	var deltas []string
	result, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []models.ComposedMessage{{Role: models.RoleUser, Content: "قرارداد"}},
		OnDelta:  func(d string) { deltas = append(deltas, d) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"قرارداد", " اجاره"}, deltas)
	assert.Equal(t, "قرارداد اجاره", result.Text)
	assert.Equal(t, int64(30), result.InputTokens)
	assert.Equal(t, int64(8), result.OutputTokens)
}

func TestClassifyParsesDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"{\"module\":\"contract_drafting\",\"confidence\":0.9,\"notes\":\"wants a lease\"}"}}],
			"usage":{"prompt_tokens":100,"completion_tokens":20}
		}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, ClassifierModel: "gpt-4o-mini"})
	d, err := client.Classify(context.Background(), ClassifyRequest{
		RouterPrompt: "route this",
		Message:      "یک قرارداد اجاره برای من بنویس",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ModuleContractDrafting, d.Module)
	assert.InDelta(t, 0.9, d.Confidence, 0.001)
}

func TestClassifyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), ClassifyRequest{
		RouterPrompt: "route this",
		Message:      "hello",
	})
	assert.ErrorIs(t, err, models.ErrClassifierUnavailable)
}

func TestClassifyMalformedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"definitely a contract thing"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), ClassifyRequest{Message: "hi"})
	assert.ErrorIs(t, err, models.ErrClassifierUnavailable)
	assert.True(t, strings.Contains(err.Error(), "classifier output"))
}
