package turn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts turn outcomes and settled token usage.
type Metrics struct {
	turns         metric.Int64Counter
	quotaRejects  metric.Int64Counter
	fallbacks     metric.Int64Counter
	settledTokens metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("dadgar/turn")

	m := &Metrics{}
	var err error
	if m.turns, err = meter.Int64Counter("dadgar.turns.total",
		metric.WithDescription("Completed turns by effective module")); err != nil {
		return nil, err
	}
	if m.quotaRejects, err = meter.Int64Counter("dadgar.turns.quota_rejected",
		metric.WithDescription("Turns rejected by quota enforcement")); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("dadgar.router.fallbacks",
		metric.WithDescription("Turns routed with a classifier fallback decision")); err != nil {
		return nil, err
	}
	if m.settledTokens, err = meter.Int64Counter("dadgar.tokens.settled",
		metric.WithDescription("Actual token usage settled against quota windows")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordTurn(ctx context.Context, module string) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

func (m *Metrics) recordQuotaReject(ctx context.Context) {
	if m == nil {
		return
	}
	m.quotaRejects.Add(ctx, 1)
}

func (m *Metrics) recordFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

func (m *Metrics) recordSettled(ctx context.Context, tokens int64) {
	if m == nil {
		return
	}
	m.settledTokens.Add(ctx, tokens)
}
