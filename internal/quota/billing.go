package quota

import (
	"context"
	"time"

	"github.com/parslaw/dadgar/internal/config"
)

// StaticBilling grants every user the configured default plan. It
// stands in for an external billing service in single-tenant installs.
type StaticBilling struct{}

func NewStaticBilling() *StaticBilling { return &StaticBilling{} }

func (b *StaticBilling) ActiveSubscription(_ context.Context, _ string) (*Subscription, error) {
	// No subscription records of its own: always fall through to the
	// default plan.
	return nil, nil
}

func (b *StaticBilling) ProvisionDefaultPlan(_ context.Context, _ string) (*Subscription, error) {
	settings := config.Get()
	now := time.Now()
	return &Subscription{
		PlanID:     settings.DefaultPlanID,
		TokenQuota: settings.DefaultPlanTokens,
		StartedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, settings.DefaultPlanDays),
	}, nil
}
