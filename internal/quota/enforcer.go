// Package quota admits turns against per-user token windows. Reservation
// happens before the backend call with the estimated cost, settlement
// after it with the actual cost, so concurrent turns can never push a
// user past their quota.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/pkg/models"
)

// Subscription is what billing knows about a user's current plan.
type Subscription struct {
	PlanID     string
	TokenQuota int64
	StartedAt  time.Time
	ExpiresAt  time.Time
}

// Billing resolves a user's plan. ActiveSubscription returns (nil, nil)
// when the user has none; ProvisionDefaultPlan grants the fallback plan
// so a missing billing record never silently blocks a paying user's turn.
type Billing interface {
	ActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	ProvisionDefaultPlan(ctx context.Context, userID string) (*Subscription, error)
}

// Store is the durable window ledger.
type Store interface {
	ActiveWindow(ctx context.Context, userID string) (*models.QuotaWindow, error)
	SaveWindow(ctx context.Context, w *models.QuotaWindow) error
	Reserve(ctx context.Context, userID string, tokens int64) (remaining int64, ok bool, err error)
	Settle(ctx context.Context, userID string, reserved, actual int64) error
	Release(ctx context.Context, userID string, reserved int64) error
}

// ExceededError reports a rejected reservation together with how many
// tokens the window still holds.
type ExceededError struct {
	Remaining int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("token quota exceeded, %d tokens remaining", e.Remaining)
}

func (e *ExceededError) Unwrap() error { return models.ErrQuotaExceeded }

// Reservation is a successful admission. Exactly one of Settle or
// Release must follow it.
type Reservation struct {
	UserID string
	Tokens int64
}

type Enforcer struct {
	store   Store
	billing Billing
}

func NewEnforcer(store Store, billing Billing) *Enforcer {
	return &Enforcer{store: store, billing: billing}
}

// Admit reserves tokens against the user's active window, provisioning
// a window from billing when none exists yet.
func (e *Enforcer) Admit(ctx context.Context, userID string, tokens int64) (*Reservation, error) {
	remaining, ok, err := e.store.Reserve(ctx, userID, tokens)
	if errors.Is(err, models.ErrNotFound) {
		if err = e.provisionWindow(ctx, userID); err != nil {
			return nil, err
		}
		remaining, ok, err = e.store.Reserve(ctx, userID, tokens)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve tokens: %w", err)
	}
	if !ok {
		log.Info().
			Str("user_id", userID).
			Int64("requested", tokens).
			Int64("remaining", remaining).
			Msg("turn rejected by quota")
		return nil, &ExceededError{Remaining: remaining}
	}
	return &Reservation{UserID: userID, Tokens: tokens}, nil
}

// Settle replaces the reserved estimate with the actual cost.
func (e *Enforcer) Settle(ctx context.Context, res *Reservation, actual int64) error {
	return e.store.Settle(ctx, res.UserID, res.Tokens, actual)
}

// Release returns the full reservation after a failed turn.
func (e *Enforcer) Release(ctx context.Context, res *Reservation) error {
	return e.store.Release(ctx, res.UserID, res.Tokens)
}

func (e *Enforcer) provisionWindow(ctx context.Context, userID string) error {
	sub, err := e.billing.ActiveSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrBillingUnavailable, err)
	}
	if sub == nil {
		sub, err = e.billing.ProvisionDefaultPlan(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrBillingUnavailable, err)
		}
		log.Info().
			Str("user_id", userID).
			Str("plan_id", sub.PlanID).
			Msg("provisioned default plan")
	}
	w := &models.QuotaWindow{
		UserID:     userID,
		PlanID:     sub.PlanID,
		TokenQuota: sub.TokenQuota,
		StartedAt:  sub.StartedAt,
		ExpiresAt:  sub.ExpiresAt,
		Active:     true,
	}
	if err := e.store.SaveWindow(ctx, w); err != nil {
		return fmt.Errorf("save quota window: %w", err)
	}
	return nil
}
