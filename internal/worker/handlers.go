package worker

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/quota"
	"github.com/parslaw/dadgar/internal/turn"
	"github.com/parslaw/dadgar/internal/worker/sse"
	"github.com/parslaw/dadgar/pkg/models"
)

const defaultDecisionLimit = 20

type turnRequest struct {
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	LookupResults string `json:"lookup_results,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Remaining *int64 `json:"remaining,omitempty"` // unconsumed tokens on a quota rejection
}

func (s *Service) errorBody(err error) errorResponse {
	resp := errorResponse{
		Error:     err.Error(),
		Message:   models.UserMessage(err, s.config.Language),
		Retryable: models.Retryable(err),
	}
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		resp.Remaining = &exceeded.Remaining
	}
	return resp
}

// handleTurn runs one conversation turn. With "stream": true the reply
// is sent as SSE deltas followed by a done event carrying the full
// turn result; otherwise the result is returned as a single JSON body.
func (s *Service) handleTurn(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var body turnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.ErrInvalidInput)
		return
	}

	req := turn.Request{
		ChatID:        chatID,
		UserID:        body.UserID,
		Message:       body.Message,
		LookupResults: body.LookupResults,
	}

	if body.Stream {
		s.streamTurn(w, r, req)
		return
	}

	result, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publishTurn(chatID, result)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Service) streamTurn(w http.ResponseWriter, r *http.Request, req turn.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	req.OnDelta = func(delta string) {
		payload, err := json.Marshal(map[string]string{"delta": delta})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: delta\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	result, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		payload, _ := json.Marshal(s.errorBody(err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	s.publishTurn(req.ChatID, result)

	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal turn result")
		return
	}
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
}

func (s *Service) publishTurn(chatID string, result *turn.Result) {
	s.events.Publish(sse.Event{
		Type:   sse.EventTurnCompleted,
		ChatID: chatID,
		Module: string(result.Module),
	})
}

// handleDecisions returns the chat's recent router decisions, newest
// first, for audit.
func (s *Service) handleDecisions(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	decisions, err := s.pipeline.Decisions(r.Context(), chatID, defaultDecisionLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":   chatID,
		"decisions": decisions,
	})
}

func (s *Service) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"prompts": s.registry.All()})
}

func (s *Service) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Get(chi.URLParam(r, "promptID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

type promptUpdateRequest struct {
	Content string `json:"content"`
}

func (s *Service) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptID")

	var body promptUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.ErrInvalidInput)
		return
	}
	if err := s.registry.Update(r.Context(), id, body.Content); err != nil {
		s.writeError(w, err)
		return
	}
	s.events.Publish(sse.Event{Type: sse.EventPromptUpdated, PromptID: id})

	entry, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Service) handleResetPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptID")

	if err := s.registry.Reset(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.events.Publish(sse.Event{Type: sse.EventPromptUpdated, PromptID: id})

	entry, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	dbStatus := "ok"
	if err := s.store.Ping(); err != nil {
		status = "degraded"
		dbStatus = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":         status,
		"ready":          s.ready.Load(),
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"database":       dbStatus,
		"active_chats":   s.pipeline.ActiveChats(),
		"event_clients":  s.events.ClientCount(),
		"prompts":        len(s.registry.All()),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, code, s.errorBody(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrBackendUnavailable),
		errors.Is(err, models.ErrBillingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
