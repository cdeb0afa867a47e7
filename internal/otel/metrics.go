package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all gateway metrics instruments.
type Metrics struct {
	InvokeDuration     metric.Float64Histogram
	InvokeErrors       metric.Int64Counter
	NodesConnected     metric.Int64UpDownCounter
	NodesReaped        metric.Int64Counter
	InboundMessages    metric.Int64Counter
	BillingCheckErrors metric.Int64Counter
	BillingRejects     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.InvokeDuration, err = meter.Float64Histogram("beacon_gateway.invoke.duration",
		metric.WithDescription("Node invoke round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.InvokeErrors, err = meter.Int64Counter("beacon_gateway.invoke.errors",
		metric.WithDescription("Node invoke calls that failed or timed out"),
	)
	if err != nil {
		return nil, err
	}

	m.NodesConnected, err = meter.Int64UpDownCounter("beacon_gateway.nodes.connected",
		metric.WithDescription("Number of currently connected device nodes"),
	)
	if err != nil {
		return nil, err
	}

	m.NodesReaped, err = meter.Int64Counter("beacon_gateway.nodes.reaped",
		metric.WithDescription("Stale node sessions reaped by the background sweep"),
	)
	if err != nil {
		return nil, err
	}

	m.InboundMessages, err = meter.Int64Counter("beacon_gateway.channel.inbound_messages",
		metric.WithDescription("Inbound chat messages received from channel integrations"),
	)
	if err != nil {
		return nil, err
	}

	m.BillingCheckErrors, err = meter.Int64Counter("beacon_gateway.billing.check_errors",
		metric.WithDescription("Aether entitlement/usage check calls that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.BillingRejects, err = meter.Int64Counter("beacon_gateway.billing.rejects",
		metric.WithDescription("Requests rejected by entitlement or usage gating"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
