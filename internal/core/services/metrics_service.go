package services

import (
	"sync"
	"time"

	"streamgate/internal/core/domain"
)

// ServiceMetrics is a point-in-time copy of the internal counters, consumed
// by the Prometheus collector and the admin stats endpoint.
type ServiceMetrics struct {
	ActiveWatchers     int       `json:"active_watchers"`
	Recomputes         int64     `json:"recomputes"`
	WatchErrors        int64     `json:"watch_errors"`
	SessionsStarted    int64     `json:"sessions_started"`
	SessionsEnded      int64     `json:"sessions_ended"`
	ExclusivityRepairs int64     `json:"exclusivity_repairs"`
	ForcedLogouts      int64     `json:"forced_logouts"`
	MediaJoins         int64     `json:"media_joins"`
	MediaJoinFailures  int64     `json:"media_join_failures"`
	Timestamp          time.Time `json:"timestamp"`
}

type MetricsService struct {
	mu sync.RWMutex

	// Per-subscriber recompute counts, for debugging hot watchers
	recomputesBySubscriber map[domain.UserID]int64

	activeWatchers     int
	recomputes         int64
	watchErrors        int64
	sessionsStarted    int64
	sessionsEnded      int64
	exclusivityRepairs int64
	forcedLogouts      int64
	mediaJoins         int64
	mediaJoinFailures  int64
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		recomputesBySubscriber: make(map[domain.UserID]int64),
	}
}

func (m *MetricsService) WatcherOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWatchers++
}

func (m *MetricsService) WatcherClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeWatchers > 0 {
		m.activeWatchers--
	}
}

func (m *MetricsService) RecordRecompute(subscriberID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputes++
	m.recomputesBySubscriber[subscriberID]++
}

func (m *MetricsService) RecordWatchError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchErrors++
}

func (m *MetricsService) RecordSessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsStarted++
}

func (m *MetricsService) RecordSessionEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsEnded++
}

func (m *MetricsService) RecordExclusivityRepairs(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exclusivityRepairs += int64(n)
}

func (m *MetricsService) RecordForcedLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedLogouts++
}

func (m *MetricsService) RecordMediaJoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaJoins++
}

func (m *MetricsService) RecordMediaJoinFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaJoinFailures++
}

func (m *MetricsService) RecomputesFor(subscriberID domain.UserID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recomputesBySubscriber[subscriberID]
}

func (m *MetricsService) Snapshot() ServiceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ServiceMetrics{
		ActiveWatchers:     m.activeWatchers,
		Recomputes:         m.recomputes,
		WatchErrors:        m.watchErrors,
		SessionsStarted:    m.sessionsStarted,
		SessionsEnded:      m.sessionsEnded,
		ExclusivityRepairs: m.exclusivityRepairs,
		ForcedLogouts:      m.forcedLogouts,
		MediaJoins:         m.mediaJoins,
		MediaJoinFailures:  m.mediaJoinFailures,
		Timestamp:          time.Now(),
	}
}
