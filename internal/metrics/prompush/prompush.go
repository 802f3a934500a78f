// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the common engine labels (op, status, kind) onto Prometheus
//     labels.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead
//     of exposing an HTTP scrape endpoint; the engine runs operations in
//     bursts, which suits push better than scrape.
//
// The package intentionally contains all Prometheus-specific dependencies so
// that the rest of the project remains decoupled from Prometheus and can swap
// to alternative backends (e.g. Datadog) without changes to the engine.
package prompush

import (
	"fmt"

	"datastudio/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	opCounter    *prometheus.CounterVec // "studio_op_total"
	opDuration   *prometheus.SummaryVec // "studio_op_duration_seconds"
	rowCounter   *prometheus.CounterVec // "studio_rows_total"
	chunkCounter *prometheus.CounterVec // "studio_chunks_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name. gatewayURL: base URL of the Pushgateway.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "datastudio"
	}

	reg := prometheus.NewRegistry()

	opCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_op_total",
			Help: "Total number of pipeline operation executions, partitioned by op and status.",
		},
		[]string{"op", "status"},
	)
	opDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "studio_op_duration_seconds",
			Help:       "Duration of pipeline operations in seconds, partitioned by op and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"op", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_rows_total",
			Help: "Row-level counts per op and kind (streamed, written, ingested, deleted).",
		},
		[]string{"op", "kind"},
	)
	chunkCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_chunks_total",
			Help: "Total number of chunk writes per op.",
		},
		[]string{"op"},
	)

	if err := reg.Register(opCounter); err != nil {
		return nil, fmt.Errorf("prompush: register op counter: %w", err)
	}
	if err := reg.Register(opDuration); err != nil {
		return nil, fmt.Errorf("prompush: register op summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(chunkCounter); err != nil {
		return nil, fmt.Errorf("prompush: register chunk counter: %w", err)
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		opCounter:    opCounter,
		opDuration:   opDuration,
		rowCounter:   rowCounter,
		chunkCounter: chunkCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "studio_op_total":
		if b.opCounter == nil {
			return
		}
		b.opCounter.WithLabelValues(labels["op"], labels["status"]).Add(delta)

	case "studio_rows_total":
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["op"], labels["kind"]).Add(delta)

	case "studio_chunks_total":
		if b.chunkCounter == nil {
			return
		}
		b.chunkCounter.WithLabelValues(labels["op"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "studio_op_duration_seconds" || b.opDuration == nil {
		return
	}
	b.opDuration.WithLabelValues(labels["op"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
