package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parslaw/dadgar/pkg/models"
)

// SessionStore provides chat-session database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// Load retrieves a chat's session state, including its most recent router
// decision. Returns (nil, nil) when the chat has no stored state. A stored
// row with an unknown active module is reported as ErrMalformedSessionState
// so the caller can fall back to a fresh session.
func (s *SessionStore) Load(ctx context.Context, chatID string) (*models.SessionState, error) {
	var row ChatSession
	err := s.store.DB.WithContext(ctx).First(&row, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	module := models.Module(row.ActiveModule)
	if !module.Valid() {
		return nil, fmt.Errorf("chat %s: active module %q: %w",
			chatID, row.ActiveModule, models.ErrMalformedSessionState)
	}

	st := &models.SessionState{
		ChatID:       row.ChatID,
		UserID:       row.UserID,
		ActiveModule: module,
		Summary:      row.Summary.String,
		History:      row.History,
		TokensUsed:   row.TokensUsed,
		CreatedAt:    time.UnixMilli(row.CreatedAtEpoch),
		UpdatedAt:    time.UnixMilli(row.UpdatedAtEpoch),
	}

	var last RouterDecisionRow
	err = s.store.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("decided_at_epoch DESC").
		First(&last).Error
	if err == nil {
		d := decisionFromRow(&last)
		st.LastDecision = &d
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return st, nil
}

// Save upserts a chat's session state. Called exactly once per completed
// turn, after the usage commit.
func (s *SessionStore) Save(ctx context.Context, st *models.SessionState) error {
	if st == nil || st.ChatID == "" {
		return models.ErrInvalidInput
	}
	row := ChatSession{
		ChatID:         st.ChatID,
		UserID:         st.UserID,
		ActiveModule:   string(st.ActiveModule),
		Summary:        sql.NullString{String: st.Summary, Valid: st.Summary != ""},
		History:        st.History,
		TokensUsed:     st.TokensUsed,
		CreatedAtEpoch: st.CreatedAt.UnixMilli(),
		UpdatedAtEpoch: time.Now().UnixMilli(),
	}
	if st.CreatedAt.IsZero() {
		row.CreatedAtEpoch = time.Now().UnixMilli()
	}

	return s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "active_module", "summary", "history",
				"tokens_used", "updated_at_epoch",
			}),
		}).
		Create(&row).Error
}

// AppendDecision records a router decision for a chat and trims the log to
// the most recent keep entries.
func (s *SessionStore) AppendDecision(ctx context.Context, chatID string, d models.RouterDecision, keep int) error {
	row := RouterDecisionRow{
		ChatID:           chatID,
		Module:           string(d.Module),
		Confidence:       d.Confidence,
		RequiredMetadata: d.RequiredMetadata,
		Notes:            sql.NullString{String: d.Notes, Valid: d.Notes != ""},
		DecidedAtEpoch:   d.DecidedAt.UnixMilli(),
	}
	if d.DecidedAt.IsZero() {
		row.DecidedAtEpoch = time.Now().UnixMilli()
	}

	db := s.store.DB.WithContext(ctx)
	if err := db.Create(&row).Error; err != nil {
		return err
	}

	if keep <= 0 {
		return nil
	}
	// Trim entries beyond the per-chat keep limit, oldest first
	return db.Exec(
		`DELETE FROM router_decisions
		 WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM router_decisions
			WHERE chat_id = ?
			ORDER BY decided_at_epoch DESC
			LIMIT ?
		 )`,
		chatID, chatID, keep,
	).Error
}

// RecentDecisions returns the chat's router decisions, newest first.
func (s *SessionStore) RecentDecisions(ctx context.Context, chatID string, limit int) ([]models.RouterDecision, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []RouterDecisionRow
	err := s.store.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("decided_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	decisions := make([]models.RouterDecision, 0, len(rows))
	for i := range rows {
		decisions = append(decisions, decisionFromRow(&rows[i]))
	}
	return decisions, nil
}

func decisionFromRow(row *RouterDecisionRow) models.RouterDecision {
	return models.RouterDecision{
		Module:           models.Module(row.Module),
		Confidence:       row.Confidence,
		RequiredMetadata: row.RequiredMetadata,
		Notes:            row.Notes.String,
		DecidedAt:        time.UnixMilli(row.DecidedAtEpoch),
	}
}
