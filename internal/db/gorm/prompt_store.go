package gorm

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parslaw/dadgar/pkg/models"
)

// PromptStore persists admin overrides for built-in prompt texts.
type PromptStore struct {
	store *Store
}

// NewPromptStore creates a new prompt override store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// Get retrieves an override by prompt ID. Returns (nil, nil) when no
// override exists for the ID.
func (s *PromptStore) Get(ctx context.Context, id string) (*models.PromptOverrideData, error) {
	var row PromptOverride
	err := s.store.DB.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return overrideFromRow(&row), nil
}

// All returns every stored override keyed by prompt ID.
func (s *PromptStore) All(ctx context.Context) (map[string]*models.PromptOverrideData, error) {
	var rows []PromptOverride
	if err := s.store.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*models.PromptOverrideData, len(rows))
	for i := range rows {
		out[rows[i].ID] = overrideFromRow(&rows[i])
	}
	return out, nil
}

// Upsert stores or replaces an override.
func (s *PromptStore) Upsert(ctx context.Context, id, content, model string) error {
	row := PromptOverride{
		ID:             id,
		Content:        content,
		Model:          sql.NullString{String: model, Valid: model != ""},
		UpdatedAtEpoch: time.Now().UnixMilli(),
	}
	return s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "model", "updated_at_epoch"}),
		}).
		Create(&row).Error
}

// Delete removes an override, restoring the built-in default.
func (s *PromptStore) Delete(ctx context.Context, id string) error {
	return s.store.DB.WithContext(ctx).Delete(&PromptOverride{}, "id = ?", id).Error
}

func overrideFromRow(row *PromptOverride) *models.PromptOverrideData {
	return &models.PromptOverrideData{
		Content:   row.Content,
		Model:     row.Model.String,
		UpdatedAt: time.UnixMilli(row.UpdatedAtEpoch),
	}
}
