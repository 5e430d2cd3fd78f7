package monitoring

import (
	"context"
	"time"

	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	activeSessions  prometheus.Gauge
	activeWatchers  prometheus.Gauge
	pushConnections prometheus.Gauge

	// Counters
	recomputesTotal         prometheus.Counter
	watchErrorsTotal        prometheus.Counter
	sessionsStartedTotal    prometheus.Counter
	sessionsEndedTotal      prometheus.Counter
	exclusivityRepairsTotal prometheus.Counter
	forcedLogoutsTotal      prometheus.Counter
	mediaJoinsTotal         prometheus.Counter
	mediaJoinFailuresTotal  prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_sessions_active",
			Help: "Number of currently active stream sessions",
		}),

		activeWatchers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_availability_watchers",
			Help: "Number of open availability watch feeds",
		}),

		pushConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_push_connections",
			Help: "Number of open push WebSocket connections",
		}),

		recomputesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_availability_recomputes_total",
			Help: "Total availability snapshot recomputations",
		}),

		watchErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_availability_watch_errors_total",
			Help: "Total source feed errors surfaced to availability watchers",
		}),

		sessionsStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_sessions_started_total",
			Help: "Total stream sessions started",
		}),

		sessionsEndedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_sessions_ended_total",
			Help: "Total stream sessions ended",
		}),

		exclusivityRepairsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_exclusivity_repairs_total",
			Help: "Total duplicate active sessions deactivated by reconciliation",
		}),

		forcedLogoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_forced_logouts_total",
			Help: "Total subscriber sessions invalidated by a newer device login",
		}),

		mediaJoinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_media_joins_total",
			Help: "Total successful media channel joins",
		}),

		mediaJoinFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_media_join_failures_total",
			Help: "Total failed media channel join attempts",
		}),
	}
}

// counterSource reports connection counts; implemented by the push server.
type counterSource interface {
	ConnectionCount() int
}

// Run polls the service counters on the configured interval and mirrors
// them into the Prometheus registry. Counters are monotonic on the service
// side, so the delta since the previous poll is what gets added.
func (p *PrometheusCollector) Run(
	ctx context.Context,
	metrics *services.MetricsService,
	sessions ports.SessionService,
	push counterSource,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev services.ServiceMetrics
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()

			p.activeWatchers.Set(float64(snap.ActiveWatchers))
			p.recomputesTotal.Add(float64(snap.Recomputes - prev.Recomputes))
			p.watchErrorsTotal.Add(float64(snap.WatchErrors - prev.WatchErrors))
			p.sessionsStartedTotal.Add(float64(snap.SessionsStarted - prev.SessionsStarted))
			p.sessionsEndedTotal.Add(float64(snap.SessionsEnded - prev.SessionsEnded))
			p.exclusivityRepairsTotal.Add(float64(snap.ExclusivityRepairs - prev.ExclusivityRepairs))
			p.forcedLogoutsTotal.Add(float64(snap.ForcedLogouts - prev.ForcedLogouts))
			p.mediaJoinsTotal.Add(float64(snap.MediaJoins - prev.MediaJoins))
			p.mediaJoinFailuresTotal.Add(float64(snap.MediaJoinFailures - prev.MediaJoinFailures))
			prev = snap

			if push != nil {
				p.pushConnections.Set(float64(push.ConnectionCount()))
			}
			if sessions != nil {
				if active, err := sessions.ListActive(ctx); err == nil {
					p.activeSessions.Set(float64(len(active)))
				}
			}
		}
	}
}
