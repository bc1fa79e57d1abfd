package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all kestrel metric instruments.
type Metrics struct {
	TurnDuration      metric.Float64Histogram
	ModelCallDuration metric.Float64Histogram
	TokensUsed        metric.Int64Counter
	ToolCallDuration  metric.Float64Histogram
	ToolCallErrors    metric.Int64Counter
	ApprovalDecisions metric.Int64Counter
	Rewinds           metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TurnDuration, err = meter.Float64Histogram("kestrel.turn.duration",
		metric.WithDescription("Full turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ModelCallDuration, err = meter.Float64Histogram("kestrel.model.duration",
		metric.WithDescription("Model API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("kestrel.model.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("kestrel.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("kestrel.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalDecisions, err = meter.Int64Counter("kestrel.approval.decisions",
		metric.WithDescription("Approval gate decisions"),
	)
	if err != nil {
		return nil, err
	}

	m.Rewinds, err = meter.Int64Counter("kestrel.rewinds",
		metric.WithDescription("Journal rewinds performed"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
