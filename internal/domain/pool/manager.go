// Package pool decides which connection serves a given feature, enforces
// capacity, scores health and evicts unhealthy or idle connections.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/domain/model"
	"github.com/webitel/im-connect/internal/transport/wsconn"
)

// Idle connections older than this are reclaimed under capacity pressure.
const defaultIdleThreshold = 5 * time.Minute

// Factory builds the underlying connection for a pool slot. The connection
// is not required to be open when the slot is created.
type Factory func(feature model.Feature, priority int) wsconn.Connection

// Manager is the connection pool contract.
type Manager interface {
	// CreateConnection reserves a pool slot and returns its id. Fails with
	// model.ErrCapacityExceeded when the process-wide maximum is reached
	// and idle cleanup cannot free a slot.
	CreateConnection(feature model.Feature, priority int) (string, error)

	// GetConnection selects among active connections for the feature using
	// the configured strategy. Returns nil when none exist; the manager
	// never auto-creates on read.
	GetConnection(feature model.Feature) wsconn.Connection

	// ReleaseConnection marks a connection inactive for reuse bookkeeping
	// without closing the socket.
	ReleaseConnection(id string)

	// RemoveConnection ends the connection's session, reconnect cycles
	// included, and discards pool and health records. Idempotent.
	RemoveConnection(id string)

	// PerformHealthCheck re-derives status and score for every tracked
	// connection, and evicts low scorers when failover is enabled.
	PerformHealthCheck(ctx context.Context)

	// Lookup returns the live connection for an id.
	Lookup(id string) (wsconn.Connection, bool)

	Records() []model.ConnectionRecord
	Health(id string) (model.ConnectionHealth, bool)
	Stats() Stats

	// Run drives periodic health checks until the context is cancelled.
	Run(ctx context.Context)

	// Shutdown disconnects everything and drops all records.
	Shutdown()
}

// Stats is the pool snapshot served by the diagnostics surface.
type Stats struct {
	TotalConnections  int                   `json:"total_connections"`
	ActiveConnections int                   `json:"active_connections"`
	ByFeature         map[model.Feature]int `json:"by_feature"`
	LastHealthCheckAt time.Time             `json:"last_health_check_at"`
}

type entry struct {
	conn      wsconn.Connection
	record    model.ConnectionRecord
	health    model.ConnectionHealth
	createdAt time.Time
	// checkErrors counts failed health probes; it feeds the
	// least-connections strategy and the unhealthy derivation.
	checkErrors int
}

type manager struct {
	cfg     poolConfig
	factory Factory
	logger  *slog.Logger

	mu          sync.RWMutex
	entries     map[string]*entry
	order       []string // registration order, drives round-robin
	rrIndex     int
	lastCheckAt time.Time
}

type poolConfig struct {
	maxConnections      int
	healthCheckInterval time.Duration
	strategy            config.LoadBalancingStrategy
	enableFailover      bool
	lowHealthThreshold  int
	pingTimeout         time.Duration
	idleThreshold       time.Duration
}

var _ Manager = (*manager)(nil)

// NewManager builds a pool manager from the engine configuration.
func NewManager(cfg *config.Config, factory Factory, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &manager{
		cfg: poolConfig{
			maxConnections:      cfg.MaxConnections,
			healthCheckInterval: cfg.HealthCheckInterval,
			strategy:            cfg.LoadBalancingStrategy,
			enableFailover:      cfg.EnableFailover,
			lowHealthThreshold:  lowHealthThreshold,
			pingTimeout:         5 * time.Second,
			idleThreshold:       defaultIdleThreshold,
		},
		factory: factory,
		logger:  logger.With("component", "pool"),
		entries: make(map[string]*entry),
	}
}

func (m *manager) CreateConnection(feature model.Feature, priority int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.cfg.maxConnections {
		m.cleanupIdleLocked()
	}
	if len(m.entries) >= m.cfg.maxConnections {
		return "", fmt.Errorf("%w: %d connections", model.ErrCapacityExceeded, len(m.entries))
	}

	conn := m.factory(feature, priority)
	now := time.Now()
	e := &entry{
		conn: conn,
		record: model.ConnectionRecord{
			ID:          conn.ID(),
			Feature:     feature,
			Priority:    priority,
			IsActive:    true,
			LastUsedAt:  now,
			HealthScore: 100,
		},
		health:    model.ConnectionHealth{Status: model.StatusHealthy},
		createdAt: now,
	}
	m.entries[conn.ID()] = e
	m.order = append(m.order, conn.ID())

	m.logger.Debug("connection created",
		"conn_id", conn.ID(), "feature", feature, "priority", priority)
	return conn.ID(), nil
}

func (m *manager) GetConnection(feature model.Feature) wsconn.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.activeCandidatesLocked(feature)
	if len(candidates) == 0 {
		return nil
	}

	chosen := m.selectLocked(candidates)
	chosen.record.LastUsedAt = time.Now()
	return chosen.conn
}

func (m *manager) ReleaseConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		e.record.IsActive = false
		e.record.LastUsedAt = time.Now()
	}
}

func (m *manager) RemoveConnection(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
		m.dropOrderLocked(id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	// Disconnect unconditionally: an evicted connection may be mid-reconnect
	// rather than connected, and its cycle has to stop too.
	e.conn.Disconnect()
	m.logger.Debug("connection removed", "conn_id", id)
}

func (m *manager) Lookup(id string) (wsconn.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (m *manager) Records() []model.ConnectionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.ConnectionRecord, 0, len(m.entries))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			out = append(out, e.record)
		}
	}
	return out
}

func (m *manager) Health(id string) (model.ConnectionHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return model.ConnectionHealth{}, false
	}
	return e.health, true
}

func (m *manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		TotalConnections:  len(m.entries),
		ByFeature:         make(map[model.Feature]int),
		LastHealthCheckAt: m.lastCheckAt,
	}
	for _, e := range m.entries {
		s.ByFeature[e.record.Feature]++
		if e.record.IsActive {
			s.ActiveConnections++
		}
	}
	return s
}

func (m *manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PerformHealthCheck(ctx)
		}
	}
}

func (m *manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*entry)
	m.order = nil
	m.mu.Unlock()

	for _, e := range entries {
		e.conn.Disconnect()
	}
	m.logger.Info("pool shut down", "connections", len(entries))
}

// activeCandidatesLocked returns active entries for a feature in
// registration order.
func (m *manager) activeCandidatesLocked(feature model.Feature) []*entry {
	var out []*entry
	for _, id := range m.order {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		if e.record.Feature == feature && e.record.IsActive {
			out = append(out, e)
		}
	}
	return out
}

// cleanupIdleLocked removes connections inactive beyond the idle threshold,
// oldest-idle-first, to relieve capacity pressure.
func (m *manager) cleanupIdleLocked() {
	now := time.Now()

	var idle []*entry
	for _, e := range m.entries {
		if !e.record.IsActive && now.Sub(e.record.LastUsedAt) > m.cfg.idleThreshold {
			idle = append(idle, e)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].record.LastUsedAt.Before(idle[j].record.LastUsedAt)
	})

	for _, e := range idle {
		if len(m.entries) < m.cfg.maxConnections {
			break
		}
		delete(m.entries, e.record.ID)
		m.dropOrderLocked(e.record.ID)
		// Disconnect is non-blocking and idempotent, so holding the lock
		// here is fine.
		e.conn.Disconnect()
		m.logger.Debug("idle connection reclaimed", "conn_id", e.record.ID)
	}
}

func (m *manager) dropOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
