package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsOpened counts backing store sessions opened by iterators.
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fedgraph_scan_sessions_opened_total",
		Help: "Total scan sessions opened on backing stores",
	})

	// decodeSkipped counts records dropped because they could not be decoded.
	decodeSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fedgraph_scan_decode_skipped_total",
		Help: "Total raw records skipped because they failed to decode",
	})
)
