package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GateMetrics counts gate outcomes by verdict and reason code.
type GateMetrics struct {
	decisions  metric.Int64Counter
	blocks     metric.Int64Counter
	executions metric.Int64Counter
	shieldTime metric.Float64Histogram
}

// NewGateMetrics registers the gate instruments on p's meter.
func NewGateMetrics(p *Provider) (*GateMetrics, error) {
	m := p.Meter()
	g := &GateMetrics{}
	var err error

	if g.decisions, err = m.Int64Counter("gate.decisions.total",
		metric.WithDescription("Policy decisions by verdict"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if g.blocks, err = m.Int64Counter("gate.blocks.total",
		metric.WithDescription("Blocked executions by reason code"),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if g.executions, err = m.Int64Counter("gate.executions.total",
		metric.WithDescription("Executor invocations by outcome"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, err
	}
	if g.shieldTime, err = m.Float64Histogram("gate.shield.duration",
		metric.WithDescription("Risk gate latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0),
	); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GateMetrics) Decision(ctx context.Context, verdict, action string) {
	g.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
		attribute.String("action", action),
	))
}

func (g *GateMetrics) Blocked(ctx context.Context, reason string) {
	g.blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (g *GateMetrics) Executed(ctx context.Context, action string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "executor_error"
	}
	g.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (g *GateMetrics) ShieldLatency(ctx context.Context, d time.Duration, pass bool) {
	g.shieldTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("pass", pass)))
}
