// Package metrics provides Prometheus instrumentation for the sync engine:
// poll and push throughput, merge outcomes, send results and open chat heads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts background refreshes, labeled by kind ("list" or
	// "messages") and result ("ok" or "error").
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablechat_polls_total",
		Help: "Total number of poll refreshes issued",
	}, []string{"kind", "result"})

	// MergesTotal counts message merges, labeled by outcome: "inserted",
	// "replaced" (optimistic confirmed in place) or "duplicate" (no-op).
	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablechat_merges_total",
		Help: "Total number of message merge operations",
	}, []string{"outcome"})

	// PushEventsTotal counts push events handled by the ingestor.
	PushEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tablechat_push_events_total",
		Help: "Total number of push events ingested",
	})

	// SendsTotal counts outbound sends, labeled by result ("ok", "failed",
	// "rejected").
	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablechat_sends_total",
		Help: "Total number of outbound message sends",
	}, []string{"result"})

	// OpenHeads tracks the current number of chat heads.
	OpenHeads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tablechat_open_heads",
		Help: "Current number of open chat heads",
	})
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		MergesTotal,
		PushEventsTotal,
		SendsTotal,
		OpenHeads,
	)
}

// Handler returns the Prometheus scrape handler mounted by the daemon.
func Handler() http.Handler {
	return promhttp.Handler()
}
