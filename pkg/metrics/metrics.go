// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smartbi_analyst_build_info",
		Help: "Build information of the analyst engine.",
	}, []string{"version", "commit"})

	AnalysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbi_analyst_analysis_requests_total", Help: "Analysis requests by outcome.",
	}, []string{"outcome"})
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartbi_analyst_analysis_duration_seconds",
		Help:    "End-to-end analysis latency.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 11),
	})
	CorrectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartbi_analyst_sql_correction_attempts_total", Help: "SQL correction round trips.",
	})

	PoolLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smartbi_analyst_pool_live_connections",
		Help: "Live pooled connections per datasource.",
	}, []string{"datasource_id"})

	ExecutionTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbi_analyst_execution_tasks_total", Help: "Task runs by terminal status.",
	}, []string{"status"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbi_analyst_alerts_raised_total", Help: "Monitoring alerts raised by severity.",
	}, []string{"severity"})
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbi_analyst_notifications_total", Help: "Alert notification outcomes by channel.",
	}, []string{"channel", "result"})
)
