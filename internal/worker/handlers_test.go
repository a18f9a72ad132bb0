package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/parslaw/dadgar/internal/compose"
	"github.com/parslaw/dadgar/internal/config"
	dbgorm "github.com/parslaw/dadgar/internal/db/gorm"
	"github.com/parslaw/dadgar/internal/llm"
	"github.com/parslaw/dadgar/internal/prompt"
	"github.com/parslaw/dadgar/internal/quota"
	"github.com/parslaw/dadgar/internal/router"
	"github.com/parslaw/dadgar/internal/session"
	"github.com/parslaw/dadgar/internal/tokens"
	"github.com/parslaw/dadgar/internal/turn"
	"github.com/parslaw/dadgar/pkg/models"
)

type fakeClassifier struct {
	decision models.RouterDecision
	err      error
}

func (f *fakeClassifier) Classify(_ context.Context, _ llm.ClassifyRequest) (models.RouterDecision, error) {
	if f.err != nil {
		return models.RouterDecision{}, f.err
	}
	return f.decision, nil
}

type fakeCompleter struct {
	text   string
	inTok  int64
	outTok int64
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if req.OnDelta != nil {
		req.OnDelta(f.text)
	}
	return &llm.CompletionResult{Text: f.text, InputTokens: f.inTok, OutputTokens: f.outTok}, nil
}

type testEnv struct {
	svc        *Service
	classifier *fakeClassifier
	completer  *fakeCompleter
	quotaStore *dbgorm.QuotaStore
}

func testService(t *testing.T) (*testEnv, func()) {
	t.Helper()

	store, err := dbgorm.NewStore(dbgorm.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	sessionStore := dbgorm.NewSessionStore(store)
	promptStore := dbgorm.NewPromptStore(store)
	quotaStore := dbgorm.NewQuotaStore(store)

	policy := config.DefaultPolicy()
	getPolicy := func() *config.Policy { return policy }

	registry, err := prompt.NewRegistry(context.Background(), promptStore, getPolicy)
	require.NoError(t, err)

	classifier := &fakeClassifier{
		decision: models.RouterDecision{Module: models.ModuleGenericChat, Confidence: 0.8, DecidedAt: time.Now()},
	}
	completer := &fakeCompleter{text: "پاسخ آزمایشی", inTok: 50, outTok: 20}
	estimator := tokens.NewEstimator()

	pipeline := turn.NewPipeline(turn.Deps{
		Sessions:  session.NewGormStore(sessionStore),
		Decisions: sessionStore,
		Registry:  registry,
		Router:    router.New(classifier, getPolicy),
		Composer:  compose.New(estimator, getPolicy),
		Estimator: estimator,
		Enforcer:  quota.NewEnforcer(quotaStore, quota.NewStaticBilling()),
		Completer: completer,
	})

	svc := NewService(ServiceDeps{
		Version:  "test-version",
		Config:   config.Default(),
		Store:    store,
		Pipeline: pipeline,
		Registry: registry,
	})
	svc.ready.Store(true)

	cleanup := func() {
		svc.cancel()
		store.Close()
	}
	return &testEnv{svc: svc, classifier: classifier, completer: completer, quotaStore: quotaStore}, cleanup
}

func postJSON(t *testing.T, svc *Service, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleTurn(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{
		UserID:  "user-1",
		Message: "سلام، یک سوال حقوقی دارم",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result turn.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.TurnID)
	assert.Equal(t, models.ModuleGenericChat, result.Module)
	assert.Equal(t, "پاسخ آزمایشی", result.Reply)
	assert.Equal(t, int64(70), result.ActualTokens)
}

func TestHandleTurnInvalidBody(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-1/turns", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTurnEmptyMessage(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{UserID: "user-1", Message: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "پیام ارسالی معتبر نیست.", resp.Message)
	assert.False(t, resp.Retryable)
}

func TestHandleTurnStream(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{
		UserID:  "user-1",
		Message: "سلام",
		Stream:  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, "پاسخ آزمایشی")
	assert.Contains(t, body, "event: done")
}

func TestHandleTurnQuotaExceeded(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	now := time.Now()
	require.NoError(t, env.quotaStore.SaveWindow(context.Background(), &models.QuotaWindow{
		UserID:     "user-1",
		PlanID:     "free",
		TokenQuota: 1,
		StartedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
		Active:     true,
	}))

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{
		UserID:  "user-1",
		Message: "سلام، یک سوال حقوقی مفصل دارم",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "سهمیه")
	require.NotNil(t, resp.Remaining)
	assert.Equal(t, int64(1), *resp.Remaining)
}

func TestHandleTurnBackendDown(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()
	env.completer.err = models.ErrBackendUnavailable

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{UserID: "user-1", Message: "سلام"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Retryable)
}

func TestHandleDecisions(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, env.svc, "/api/chats/chat-1/turns", turnRequest{UserID: "user-1", Message: "سلام"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/chats/chat-1/decisions", nil)
	rec = httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ChatID    string                  `json:"chat_id"`
		Decisions []models.RouterDecision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat-1", resp.ChatID)
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, models.ModuleGenericChat, resp.Decisions[0].Module)
}

func TestHandleHealth(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test-version", resp["version"])
	assert.Equal(t, "ok", resp["database"])
}

func TestHandleListPrompts(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/prompts/", nil)
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Prompts []models.PromptEntry `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Prompts, 2+len(models.Modules()))
}

func TestHandleUpdateAndResetPrompt(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	content := "شما دستیار حقوقی دادگستر هستید و فقط به زبان فارسی پاسخ می‌دهید."
	payload, _ := json.Marshal(promptUpdateRequest{Content: content})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/prompts/core", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry models.PromptEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, content, entry.Content)
	assert.Equal(t, models.PromptSourceOverride, entry.Source)

	rec = postJSON(t, env.svc, "/api/admin/prompts/core/reset", struct{}{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, models.PromptSourceDefault, entry.Source)
	assert.Contains(t, entry.Content, "Dadgar")
}

func TestHandleUpdatePromptTooShort(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	payload, _ := json.Marshal(promptUpdateRequest{Content: "کوتاه"})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/prompts/core", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPromptUnknown(t *testing.T) {
	env, cleanup := testService(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/prompts/nope", nil)
	rec := httptest.NewRecorder()
	env.svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
