// Package turn orchestrates one conversation turn end to end: routing,
// prompt composition, quota admission, the backend call, settlement,
// and durable session state.
package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/compose"
	"github.com/parslaw/dadgar/internal/config"
	"github.com/parslaw/dadgar/internal/llm"
	"github.com/parslaw/dadgar/internal/prompt"
	"github.com/parslaw/dadgar/internal/quota"
	"github.com/parslaw/dadgar/internal/router"
	"github.com/parslaw/dadgar/internal/session"
	"github.com/parslaw/dadgar/internal/tokens"
	"github.com/parslaw/dadgar/pkg/models"
)

const (
	classifierRecentTurns = 6
	completionTemperature = 0.4
)

const summaryMarker = "CONVERSATION_SUMMARY_JSON:"

// Request is one inbound user turn. LookupResults is the opaque
// article-lookup JSON supplied by the retrieval collaborator; empty
// means none. OnDelta, when set, streams reply text as it arrives.
type Request struct {
	ChatID        string
	UserID        string
	Message       string
	LookupResults string
	OnDelta       func(delta string)
}

// Result reports one completed turn.
type Result struct {
	TurnID          string                `json:"turn_id"`
	Module          models.Module         `json:"module"`
	Decision        models.RouterDecision `json:"decision"`
	Reply           string                `json:"reply"`
	EstimatedTokens int64                 `json:"estimated_tokens"`
	ActualTokens    int64                 `json:"actual_tokens"`
	Elapsed         time.Duration         `json:"-"`
}

// DecisionLog is the append-only audit trail of router decisions.
// Implemented by the sqlite session store.
type DecisionLog interface {
	AppendDecision(ctx context.Context, chatID string, d models.RouterDecision, keep int) error
	RecentDecisions(ctx context.Context, chatID string, limit int) ([]models.RouterDecision, error)
}

type Pipeline struct {
	sessions  session.Store
	locks     *session.ChatLocks
	policy    func() *config.Policy
	decisions DecisionLog
	registry  *prompt.Registry
	router    *router.Router
	composer  *compose.Composer
	estimator *tokens.Estimator
	enforcer  *quota.Enforcer
	completer llm.Completer
	metrics   *Metrics
}

type Deps struct {
	Sessions  session.Store
	Policy    func() *config.Policy // nil means the globally loaded policy
	Decisions DecisionLog
	Registry  *prompt.Registry
	Router    *router.Router
	Composer  *compose.Composer
	Estimator *tokens.Estimator
	Enforcer  *quota.Enforcer
	Completer llm.Completer
	Metrics   *Metrics
}

func NewPipeline(deps Deps) *Pipeline {
	policy := deps.Policy
	if policy == nil {
		policy = config.GetPolicy
	}
	return &Pipeline{
		sessions:  deps.Sessions,
		locks:     session.NewChatLocks(),
		policy:    policy,
		decisions: deps.Decisions,
		registry:  deps.Registry,
		router:    deps.Router,
		composer:  deps.Composer,
		estimator: deps.Estimator,
		enforcer:  deps.Enforcer,
		completer: deps.Completer,
		metrics:   deps.Metrics,
	}
}

// Run executes one turn. The chat is locked for the duration, so turns
// on the same chat serialize; turns on different chats run freely.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	message := strings.TrimSpace(req.Message)
	if req.ChatID == "" || req.UserID == "" || message == "" {
		return nil, models.ErrInvalidInput
	}
	turnID := uuid.NewString()

	unlock := p.locks.Lock(req.ChatID)
	defer unlock()

	state, err := p.loadState(ctx, req.ChatID, req.UserID)
	if err != nil {
		return nil, err
	}

	decision := p.router.Decide(ctx, p.registry.Router().Content,
		state.ActiveModule, state.RecentMessages(classifierRecentTurns*2), message)
	if decision.Fallback {
		p.metrics.recordFallback(ctx)
	}
	module := p.router.Resolve(state.ActiveModule, message, decision)

	if err := p.decisions.AppendDecision(ctx, req.ChatID, decision, config.Get().DecisionLogKeep); err != nil {
		log.Warn().Err(err).Str("chat_id", req.ChatID).Msg("failed to append decision log")
	}

	modulePrompt, err := p.registry.Module(module)
	if err != nil {
		return nil, err
	}
	composed := p.composer.Compose(compose.Input{
		CorePrompt:    p.registry.Core().Content,
		ModulePrompt:  modulePrompt.Content,
		Summary:       state.Summary,
		LookupResults: req.LookupResults,
		History:       state.History,
		Message:       message,
	})

	estimated := int64(p.estimator.EstimateMessages(composed))
	reservation, err := p.enforcer.Admit(ctx, req.UserID, estimated)
	if err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			p.metrics.recordQuotaReject(ctx)
		}
		return nil, err
	}

	settings := config.Get()
	result, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Model:       settings.Model,
		Messages:    composed,
		Temperature: completionTemperature,
		OnDelta:     req.OnDelta,
	})
	if err != nil {
		// Failed or cancelled call consumed nothing durable: give the
		// reservation back and leave session state untouched.
		if relErr := p.enforcer.Release(context.WithoutCancel(ctx), reservation); relErr != nil {
			log.Error().Err(relErr).Str("user_id", req.UserID).Msg("failed to release reservation")
		}
		return nil, err
	}

	reply, summary := extractSummary(result.Text)
	actual := result.TotalTokens()
	if actual <= 0 {
		actual = estimated
	}
	if err := p.enforcer.Settle(ctx, reservation, actual); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to settle reservation")
	}
	p.metrics.recordSettled(ctx, actual)

	state.AddMessage(models.RoleUser, message, int(result.InputTokens))
	state.AddMessage(models.RoleAssistant, reply, int(result.OutputTokens))
	state.ActiveModule = module
	state.LastDecision = &decision
	state.TokensUsed += actual
	if summary != "" {
		state.Summary = summary
	}
	// Stored history is bounded the same way composed history is, so the
	// session row cannot grow without limit across long chats.
	state.TrimHistory(p.policy().HistoryMaxTurns * 2)
	if err := p.sessions.Save(ctx, state); err != nil {
		return nil, err
	}

	p.metrics.recordTurn(ctx, string(module))
	log.Info().
		Str("turn_id", turnID).
		Str("chat_id", req.ChatID).
		Str("module", string(module)).
		Int64("estimated_tokens", estimated).
		Int64("actual_tokens", actual).
		Dur("elapsed", time.Since(started)).
		Msg("turn completed")

	return &Result{
		TurnID:          turnID,
		Module:          module,
		Decision:        decision,
		Reply:           reply,
		EstimatedTokens: estimated,
		ActualTokens:    actual,
		Elapsed:         time.Since(started),
	}, nil
}

// ActiveChats returns the number of chats with an in-flight turn.
func (p *Pipeline) ActiveChats() int {
	return p.locks.Active()
}

// Decisions returns the chat's recent router decisions, newest first.
func (p *Pipeline) Decisions(ctx context.Context, chatID string, limit int) ([]models.RouterDecision, error) {
	return p.decisions.RecentDecisions(ctx, chatID, limit)
}

func (p *Pipeline) loadState(ctx context.Context, chatID, userID string) (*models.SessionState, error) {
	state, err := p.sessions.Load(ctx, chatID)
	if err != nil {
		if !errors.Is(err, models.ErrMalformedSessionState) {
			return nil, err
		}
		log.Warn().Str("chat_id", chatID).Msg("malformed session state, starting fresh")
		state = nil
	}
	if state != nil && !state.Sane() {
		log.Warn().Str("chat_id", chatID).Msg("unusable session state, starting fresh")
		state = nil
	}
	if state == nil {
		return models.NewSessionState(chatID, userID), nil
	}
	if state.UserID != userID {
		return nil, models.ErrNotFound
	}
	return state, nil
}

// extractSummary splits a trailing rolling-summary block off the reply.
// The backend appends it as a marker line followed by a JSON object;
// anything that does not parse is left in the reply untouched.
func extractSummary(text string) (reply, summary string) {
	idx := strings.LastIndex(text, summaryMarker)
	if idx < 0 {
		return text, ""
	}
	candidate := strings.TrimSpace(text[idx+len(summaryMarker):])
	if !json.Valid([]byte(candidate)) || !strings.HasPrefix(candidate, "{") {
		return text, ""
	}
	return strings.TrimSpace(text[:idx]), candidate
}
