package recovery

import (
	"sync"
	"time"
)

// ConnectionMetrics are per-session counters used for recovery policy and
// observability. They live in process only and are rebuilt on restart; the
// durable session tables stay authoritative.
type ConnectionMetrics struct {
	Disconnections       int           `json:"disconnections"`
	RecoveryAttempts     int           `json:"recoveryAttempts"`
	SuccessfulRecoveries int           `json:"successfulRecoveries"`
	CumulativeDowntime   time.Duration `json:"cumulativeDowntime"`
}

type metricsRegistry struct {
	mu       sync.Mutex
	bySess   map[string]*ConnectionMetrics
	pausedAt map[string]time.Time
}

func newMetricsRegistry() *metricsRegistry {
	return &metricsRegistry{
		bySess:   make(map[string]*ConnectionMetrics),
		pausedAt: make(map[string]time.Time),
	}
}

func (r *metricsRegistry) get(sessionID string) *ConnectionMetrics {
	if m, ok := r.bySess[sessionID]; ok {
		return m
	}
	m := &ConnectionMetrics{}
	r.bySess[sessionID] = m
	return m
}

func (r *metricsRegistry) recordDisconnect(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(sessionID).Disconnections++
	r.pausedAt[sessionID] = at
}

func (r *metricsRegistry) recordAttempt(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(sessionID).RecoveryAttempts++
}

func (r *metricsRegistry) recordRecovery(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.get(sessionID)
	m.SuccessfulRecoveries++
	if pausedAt, ok := r.pausedAt[sessionID]; ok {
		m.CumulativeDowntime += at.Sub(pausedAt)
		delete(r.pausedAt, sessionID)
	}
}

func (r *metricsRegistry) snapshot(sessionID string) ConnectionMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.get(sessionID)
}

func (r *metricsRegistry) drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySess, sessionID)
	delete(r.pausedAt, sessionID)
}
