package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/pkg/models"
)

// Client talks to an OpenAI-compatible chat-completions endpoint. It
// implements both Completer and Classifier.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	classifierModel string
	httpClient      *http.Client
}

// ClientConfig holds connection settings for the backend.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	ClassifierModel string
	Timeout         time.Duration
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		classifierModel: cfg.ClassifierModel,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Wire types for the chat-completions API.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Completer against the chat-completions endpoint.
// Non-2xx responses and transport failures surface as ErrBackendUnavailable.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	wire := wireRequest{
		Model:       model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.OnDelta != nil,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("completion call: %v: %w", err, models.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().Int("status", resp.StatusCode).Str("body", string(snippet)).
			Msg("Completion backend returned non-2xx")
		return nil, fmt.Errorf("completion backend status %d: %w",
			resp.StatusCode, models.ErrBackendUnavailable)
	}

	if req.OnDelta != nil {
		return c.readStream(resp.Body, req.OnDelta)
	}
	return c.readSingle(resp.Body)
}

func (c *Client) readSingle(body io.Reader) (*CompletionResult, error) {
	var wire wireResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode completion response: %v: %w", err, models.ErrBackendUnavailable)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices: %w", models.ErrBackendUnavailable)
	}
	return &CompletionResult{
		Text:         wire.Choices[0].Message.Content,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}, nil
}

// readStream consumes an SSE stream of completion chunks, forwarding each
// text delta and accumulating the full reply.
func (c *Client) readStream(body io.Reader, onDelta func(string)) (*CompletionResult, error) {
	var (
		sb     strings.Builder
		result CompletionResult
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed stream chunk")
			continue
		}
		if chunk.Usage.PromptTokens > 0 {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onDelta(delta)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read completion stream: %v: %w", err, models.ErrBackendUnavailable)
	}

	result.Text = sb.String()
	return &result, nil
}
