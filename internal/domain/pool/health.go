package pool

import (
	"context"
	"time"

	"github.com/webitel/im-connect/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Connections scoring below this are evicted after a check when failover is
// enabled.
const lowHealthThreshold = 30

// Derivation thresholds.
const (
	unhealthyErrorCount = 5
	degradedErrorCount  = 2
	degradedLatency     = time.Second
)

type probeResult struct {
	id        string
	latency   time.Duration
	connected bool
	pingErr   error
}

// PerformHealthCheck probes every tracked connection in parallel, re-derives
// status and score, and evicts low scorers when failover is enabled. The
// entry set is snapshotted first so removal during the check never skips or
// duplicates entries.
func (m *manager) PerformHealthCheck(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	results := make([]probeResult, len(snapshot))
	g, probeCtx := errgroup.WithContext(ctx)
	for i, e := range snapshot {
		g.Go(func() error {
			results[i] = m.probe(probeCtx, e)
			return nil
		})
	}
	g.Wait()

	now := time.Now()
	var evict []string

	m.mu.Lock()
	for _, r := range results {
		e, ok := m.entries[r.id]
		if !ok {
			continue // removed mid-check
		}
		if r.pingErr != nil {
			e.checkErrors++
		}

		metrics := e.conn.Metrics()
		errorCount := e.checkErrors + int(metrics.Errors)

		health := model.ConnectionHealth{
			Latency:           r.latency,
			ErrorCount:        errorCount,
			LastHealthCheckAt: now,
		}
		if r.latency == 0 {
			health.Latency = metrics.Latency
		}
		if !metrics.ConnectedAt.IsZero() && r.connected {
			health.Uptime = now.Sub(metrics.ConnectedAt)
		}
		if r.pingErr != nil {
			health.LastError = r.pingErr.Error()
		}
		health.Status = deriveStatus(r.connected, health.Latency, errorCount)

		e.health = health
		e.record.HealthScore = healthScore(health.Status, health.Latency, errorCount)

		if m.cfg.enableFailover && e.record.HealthScore < m.cfg.lowHealthThreshold {
			evict = append(evict, r.id)
		}
	}
	m.lastCheckAt = now
	m.mu.Unlock()

	for _, id := range evict {
		m.logger.Warn("evicting low-health connection", "conn_id", id)
		m.RemoveConnection(id)
	}
}

// probe measures one connection without holding the pool lock.
func (m *manager) probe(ctx context.Context, e *entry) probeResult {
	r := probeResult{id: e.record.ID, connected: e.conn.IsConnected()}
	if !r.connected {
		return r
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.pingTimeout)
	defer cancel()

	latency, err := e.conn.Ping(pingCtx)
	if err != nil {
		r.pingErr = err
		return r
	}
	r.latency = latency
	return r
}

// deriveStatus applies the fixed derivation rules: unhealthy when
// disconnected or past the error ceiling, degraded on high latency or
// elevated errors, healthy otherwise.
func deriveStatus(connected bool, latency time.Duration, errorCount int) model.HealthStatus {
	switch {
	case !connected || errorCount > unhealthyErrorCount:
		return model.StatusUnhealthy
	case latency > degradedLatency || errorCount > degradedErrorCount:
		return model.StatusDegraded
	default:
		return model.StatusHealthy
	}
}

// healthScore maps status, latency band and error count onto [0, 100] by
// deducting fixed penalties from a perfect score.
func healthScore(status model.HealthStatus, latency time.Duration, errorCount int) int {
	score := 100

	switch status {
	case model.StatusUnhealthy:
		score -= 60
	case model.StatusDegraded:
		score -= 25
	}

	switch {
	case latency > 2*time.Second:
		score -= 25
	case latency > time.Second:
		score -= 15
	case latency > 500*time.Millisecond:
		score -= 5
	}

	score -= 5 * errorCount

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
