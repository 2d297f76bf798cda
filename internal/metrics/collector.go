package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "snapbuy"

// activeWindow is how long a user counts as active after their last update.
const activeWindow = 5 * time.Minute

// Collector holds the bot's Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	updatesTotal           *prometheus.CounterVec
	identificationsTotal   *prometheus.CounterVec
	identificationDuration *prometheus.HistogramVec
	linksTotal             *prometheus.CounterVec
	languageSelections     *prometheus.CounterVec
	handlerErrorsTotal     *prometheus.CounterVec
	llmTokensTotal         *prometheus.CounterVec
	activeUsersGauge       prometheus.Gauge

	mu          sync.RWMutex
	activeUsers map[int64]time.Time
}

// NewCollector registers every metric on registry. With a nil registry a
// fresh one is created that also exports Go runtime and process metrics.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Total number of Telegram updates received by kind",
			},
			[]string{"kind"},
		),

		identificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifications_total",
				Help:      "Total number of product identification attempts by outcome",
			},
			[]string{"provider", "result"},
		),

		identificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "identification_duration_seconds",
				Help:      "Time spent waiting for the vision model",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),

		linksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_total",
				Help:      "Total number of affiliate links sent",
			},
			[]string{"domain", "source"},
		),

		languageSelections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "language_selections_total",
				Help:      "Total number of language selections saved",
			},
			[]string{"language"},
		),

		handlerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of update handling failures by stage",
			},
			[]string{"stage"},
		),

		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens reported by the vision model provider",
			},
			[]string{"provider", "direction"},
		),

		activeUsersGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_users",
				Help:      "Users who sent an update in the last five minutes",
			},
		),

		activeUsers: make(map[int64]time.Time),
	}
}

// Registry is what the /metrics endpoint gathers from.
func (m *Collector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Collector) RecordUpdate(userID int64, kind string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind).Inc()

	if userID == 0 {
		return
	}
	m.mu.Lock()
	m.activeUsers[userID] = time.Now()
	m.mu.Unlock()
}

// RecordIdentification counts one attempt. result is "identified" or the
// not-identified reason.
func (m *Collector) RecordIdentification(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.identificationsTotal.WithLabelValues(provider, result).Inc()
	if duration > 0 {
		m.identificationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

func (m *Collector) RecordLink(domain, source string) {
	if m == nil {
		return
	}
	m.linksTotal.WithLabelValues(domain, source).Inc()
}

func (m *Collector) RecordLanguageSelection(lang string) {
	if m == nil {
		return
	}
	m.languageSelections.WithLabelValues(lang).Inc()
}

func (m *Collector) RecordHandlerError(stage string) {
	if m == nil {
		return
	}
	m.handlerErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *Collector) RecordTokens(provider string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// updateActiveUsersGauge drops users idle for longer than activeWindow and
// publishes the remaining count.
func (m *Collector) updateActiveUsersGauge(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-activeWindow)
	for userID, lastSeen := range m.activeUsers {
		if lastSeen.Before(cutoff) {
			delete(m.activeUsers, userID)
		}
	}

	m.activeUsersGauge.Set(float64(len(m.activeUsers)))
}

// GetActiveUsersCount returns the current number of active users
func (m *Collector) GetActiveUsersCount() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeUsers)
}

// Cleanup performs periodic cleanup of metrics
func (m *Collector) Cleanup() {
	if m == nil {
		return
	}
	m.updateActiveUsersGauge(time.Now())
}

// RunCleanup calls Cleanup every interval until done is closed.
func (m *Collector) RunCleanup(done <-chan struct{}, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
