// Package metrics holds the bot's Prometheus instruments on a dedicated
// registry. A nil *Metrics is valid and records nothing, so components can
// be constructed without one in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome label values for tick and interaction counters.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Result label values for platform calls.
const (
	ResultOK          = "ok"
	ResultRateLimited = "rate_limited"
	ResultTransient   = "transient"
	ResultPermanent   = "permanent"
)

// Metrics carries every instrument the bot exports. One instance is built
// at startup and shared by the scheduler, engines and clients.
type Metrics struct {
	registry *prometheus.Registry

	ticks           *prometheus.CounterVec
	interactions    *prometheus.CounterVec
	platformCalls   *prometheus.CounterVec
	generationSecs  prometheus.Histogram
	cooldowns       prometheus.Counter
	cooldownSeconds prometheus.Gauge
	trackedThreads  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twittwebot_ticks_total",
			Help: "Scheduled task ticks by task and outcome.",
		}, []string{"task", "outcome"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twittwebot_interactions_total",
			Help: "Interaction attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		platformCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twittwebot_platform_calls_total",
			Help: "Platform API requests by operation and result.",
		}, []string{"op", "result"}),
		generationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twittwebot_generation_seconds",
			Help:    "LLM generation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		cooldowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twittwebot_cooldowns_total",
			Help: "Rate-limit cooldown windows opened.",
		}),
		cooldownSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twittwebot_cooldown_seconds",
			Help: "Length of the most recently opened cooldown window.",
		}),
		trackedThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twittwebot_tracked_threads",
			Help: "Conversation threads currently tracked.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.interactions,
		m.platformCalls,
		m.generationSecs,
		m.cooldowns,
		m.cooldownSeconds,
		m.trackedThreads,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TickObserved counts one finished (or skipped) tick of a task.
func (m *Metrics) TickObserved(task, outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(task, outcome).Inc()
}

// InteractionObserved counts one interaction attempt.
func (m *Metrics) InteractionObserved(kind, outcome string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind, outcome).Inc()
}

// PlatformCall counts one platform API request.
func (m *Metrics) PlatformCall(op, result string) {
	if m == nil {
		return
	}
	m.platformCalls.WithLabelValues(op, result).Inc()
}

// GenerationObserved records the latency of one LLM generation.
func (m *Metrics) GenerationObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.generationSecs.Observe(d.Seconds())
}

// CooldownOpened records a new rate-limit cooldown window.
func (m *Metrics) CooldownOpened(d time.Duration) {
	if m == nil {
		return
	}
	m.cooldowns.Inc()
	m.cooldownSeconds.Set(d.Seconds())
}

// SetTrackedThreads refreshes the tracked-thread gauge.
func (m *Metrics) SetTrackedThreads(n int) {
	if m == nil {
		return
	}
	m.trackedThreads.Set(float64(n))
}
