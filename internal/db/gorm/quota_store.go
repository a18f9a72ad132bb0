package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/parslaw/dadgar/pkg/models"
)

// QuotaStore persists per-user quota windows. Reservation is a single
// conditional UPDATE so that concurrent admits for the same user cannot
// overshoot the window's quota.
type QuotaStore struct {
	store *Store
}

// NewQuotaStore creates a new quota window store.
func NewQuotaStore(store *Store) *QuotaStore {
	return &QuotaStore{store: store}
}

// ActiveWindow returns the user's active, unexpired window, or (nil, nil)
// when none exists. Expired windows are deactivated on sight.
func (s *QuotaStore) ActiveWindow(ctx context.Context, userID string) (*models.QuotaWindow, error) {
	var row QuotaWindowRow
	err := s.store.DB.WithContext(ctx).
		Where("user_id = ? AND active = 1", userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	w := row.toModel()
	if w.Expired(time.Now()) {
		if err := s.store.DB.WithContext(ctx).
			Model(&QuotaWindowRow{}).
			Where("id = ?", row.ID).
			UpdateColumn("active", false).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}

	return w, nil
}

// SaveWindow stores a window from the billing collaborator, deactivating
// any previous active window for the user first (at most one active window
// per user).
func (s *QuotaStore) SaveWindow(ctx context.Context, w *models.QuotaWindow) error {
	if w == nil || w.UserID == "" {
		return models.ErrInvalidInput
	}
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&QuotaWindowRow{}).
			Where("user_id = ? AND active = 1", w.UserID).
			UpdateColumn("active", false).Error; err != nil {
			return err
		}
		row := QuotaWindowRow{
			UserID:         w.UserID,
			PlanID:         w.PlanID,
			TokenQuota:     w.TokenQuota,
			TokensUsed:     w.TokensUsed,
			StartedAtEpoch: w.StartedAt.UnixMilli(),
			ExpiresAtEpoch: w.ExpiresAt.UnixMilli(),
			Active:         true,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		w.ID = row.ID
		return nil
	})
}

// Reserve atomically adds tokens to the active window's usage if and only
// if the result stays within the quota. ok=false means either no active
// window exists (err is models.ErrNotFound) or the reservation does not
// fit (err is nil; remaining carries the unreserved balance).
func (s *QuotaStore) Reserve(ctx context.Context, userID string, tokens int64) (remaining int64, ok bool, err error) {
	now := time.Now().UnixMilli()

	res := s.store.DB.WithContext(ctx).
		Model(&QuotaWindowRow{}).
		Where("user_id = ? AND active = 1 AND expires_at_epoch > ? AND tokens_used + ? <= token_quota",
			userID, now, tokens).
		UpdateColumn("tokens_used", gorm.Expr("tokens_used + ?", tokens))
	if res.Error != nil {
		return 0, false, res.Error
	}

	if res.RowsAffected == 0 {
		// Distinguish "no window" from "window full"
		w, err := s.ActiveWindow(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		if w == nil {
			return 0, false, models.ErrNotFound
		}
		return w.Remaining(), false, nil
	}

	w, err := s.ActiveWindow(ctx, userID)
	if err != nil || w == nil {
		// Reservation landed; remaining is best-effort
		return 0, true, nil
	}
	return w.Remaining(), true, nil
}

// Settle adjusts a reservation to the turn's actual consumption. Usage
// never drops below zero and never exceeds the reserved headroom already
// admitted.
func (s *QuotaStore) Settle(ctx context.Context, userID string, reserved, actual int64) error {
	delta := actual - reserved
	if delta == 0 {
		return nil
	}
	return s.store.DB.WithContext(ctx).
		Model(&QuotaWindowRow{}).
		Where("user_id = ? AND active = 1", userID).
		UpdateColumn("tokens_used", gorm.Expr(
			"MAX(0, MIN(token_quota, tokens_used + ?))", delta)).Error
}

// Release returns a reservation without any consumption (failed or
// cancelled turn).
func (s *QuotaStore) Release(ctx context.Context, userID string, reserved int64) error {
	if reserved <= 0 {
		return nil
	}
	return s.store.DB.WithContext(ctx).
		Model(&QuotaWindowRow{}).
		Where("user_id = ? AND active = 1", userID).
		UpdateColumn("tokens_used", gorm.Expr("MAX(0, tokens_used - ?)", reserved)).Error
}
