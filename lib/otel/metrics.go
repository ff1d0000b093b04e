// Package otel holds the metric instruments for the transfer service. The
// instruments are created against the global meter provider, so they are
// no-ops unless the process installs an SDK.
package otel

import (
	"go.opentelemetry.io/otel/metric"
)

// TransferMetrics holds metrics for the transfer pipeline.
type TransferMetrics struct {
	TransfersTotal   metric.Int64Counter
	TransferDuration metric.Float64Histogram
	PushStatusLines  metric.Int64Counter
	EngineErrors     metric.Int64Counter
}

// NewTransferMetrics creates metrics for the transfer pipeline.
func NewTransferMetrics(meter metric.Meter) (*TransferMetrics, error) {
	transfersTotal, err := meter.Int64Counter(
		"imagetrans_transfers_total",
		metric.WithDescription("Total number of transfer pipeline runs"),
	)
	if err != nil {
		return nil, err
	}

	transferDuration, err := meter.Float64Histogram(
		"imagetrans_transfer_duration_seconds",
		metric.WithDescription("Time to run one pull/tag/push transfer"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pushStatusLines, err := meter.Int64Counter(
		"imagetrans_push_status_lines_total",
		metric.WithDescription("Total number of status lines streamed during pushes"),
	)
	if err != nil {
		return nil, err
	}

	engineErrors, err := meter.Int64Counter(
		"imagetrans_engine_errors_total",
		metric.WithDescription("Total number of failed engine operations"),
	)
	if err != nil {
		return nil, err
	}

	return &TransferMetrics{
		TransfersTotal:   transfersTotal,
		TransferDuration: transferDuration,
		PushStatusLines:  pushStatusLines,
		EngineErrors:     engineErrors,
	}, nil
}
