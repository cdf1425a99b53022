// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamquest"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	ActivitiesRecorded *prometheus.CounterVec
	DuplicateReports   prometheus.Counter
	WatchSeconds       prometheus.Counter
	XPAwarded          *prometheus.CounterVec
	LevelUps           prometheus.Counter
	RequirementUpdates prometheus.Counter
	UnlockDecisions    *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	IngestMessages     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActivitiesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "recorded_total",
			Help:      "Activities committed, by activity type.",
		}, []string{"type"}),
		DuplicateReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "duplicates_total",
			Help:      "Activity reports skipped because their event id was already recorded.",
		}),
		WatchSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "watch_seconds_total",
			Help:      "Watch seconds added to the ledger.",
		}),
		XPAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "xp_awarded_total",
			Help:      "XP awarded, by source.",
		}, []string{"source"}),
		LevelUps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "level_ups_total",
			Help:      "Awards that crossed a level boundary.",
		}),
		RequirementUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlocks",
			Name:      "requirement_updates_total",
			Help:      "Unlock progress records updated by watch activity.",
		}),
		UnlockDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlocks",
			Name:      "decisions_total",
			Help:      "Unlock decisions, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "status"}),
		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Playback messages consumed from NATS, by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ActivityRecorded implements activity.Observer.
func (m *Metrics) ActivityRecorded(result activity.Result) {
	if result.Duplicate {
		m.DuplicateReports.Inc()
		return
	}
	m.ActivitiesRecorded.WithLabelValues(string(result.Event.Type)).Inc()
	if result.Event.Type == activity.TypeWatch {
		m.WatchSeconds.Add(float64(result.Event.DurationSeconds))
	}
	if result.Award != nil {
		m.ObserveAward("watch", *result.Award)
	}
	m.RequirementUpdates.Add(float64(len(result.Progress)))
}

// ObserveAward counts an XP award and its level-up.
func (m *Metrics) ObserveAward(source string, award progression.Award) {
	m.XPAwarded.WithLabelValues(source).Add(float64(award.Awarded))
	if award.LeveledUp() {
		m.LevelUps.Inc()
	}
}

// ObserveDecision counts an unlock decision.
func (m *Metrics) ObserveDecision(decision unlocks.Decision) {
	outcome := "locked"
	switch {
	case decision.NewlyUnlocked:
		outcome = "unlocked"
	case decision.AlreadyUnlocked:
		outcome = "already_unlocked"
	}
	m.UnlockDecisions.WithLabelValues(string(decision.Strategy), outcome).Inc()
}

// ObserveRequest counts a served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveIngest counts a consumed playback message.
func (m *Metrics) ObserveIngest(outcome string) {
	m.IngestMessages.WithLabelValues(outcome).Inc()
}
