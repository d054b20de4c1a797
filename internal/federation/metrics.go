package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("fedgraph.federation")

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

var (
	// dispatchTotal counts member dispatches by outcome.
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgraph_member_dispatch_total",
		Help: "Total operations dispatched to member graphs",
	}, []string{"member", "outcome"})

	// dispatchDuration records how long a member took to accept an operation.
	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fedgraph_member_dispatch_duration_seconds",
		Help:    "Time for a member graph to return a result for one operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"member"})
)
