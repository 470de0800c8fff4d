// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobby_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// MessagesInserted counts stored rows by table ("messages" or "direct_messages").
	MessagesInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_messages_inserted_total",
			Help: "Total messages inserted",
		},
		[]string{"table"},
	)

	ProfilesUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_profiles_upserted_total",
			Help: "Total profile upserts",
		},
	)

	SessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_sessions_issued_total",
			Help: "Total access tokens issued",
		},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_realtime_subscribers",
			Help: "Live realtime subscriptions",
		},
	)

	RealtimeEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_realtime_events_dropped_total",
			Help: "Insert events dropped because a subscriber fell behind",
		},
		[]string{"table"},
	)
)
