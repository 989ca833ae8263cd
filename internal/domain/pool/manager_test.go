package pool

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/domain/model"
	"github.com/webitel/im-connect/internal/transport/wsconn"
)

// fakeConn is a scripted Connection used to drive the pool without a socket.
type fakeConn struct {
	id          string
	feature     model.Feature
	connected   bool
	pingLatency time.Duration
	pingErr     error
	metrics     model.ConnectionMetrics

	disconnects int
}

func (f *fakeConn) Connect(context.Context, string) error { f.connected = true; return nil }
func (f *fakeConn) Disconnect() error                     { f.connected = false; f.disconnects++; return nil }
func (f *fakeConn) SendMessage(context.Context, *model.Message) error {
	if !f.connected {
		return model.ErrNotConnected
	}
	f.metrics.MessagesSent++
	return nil
}
func (f *fakeConn) Subscribe(model.Feature, wsconn.Listener) func() { return func() {} }
func (f *fakeConn) Ping(context.Context) (time.Duration, error)    { return f.pingLatency, f.pingErr }
func (f *fakeConn) ID() string                                     { return f.id }
func (f *fakeConn) Feature() model.Feature                         { return f.feature }
func (f *fakeConn) IsConnected() bool                              { return f.connected }
func (f *fakeConn) State() model.ConnectionState {
	if f.connected {
		return model.StateConnected
	}
	return model.StateDisconnected
}
func (f *fakeConn) Metrics() model.ConnectionMetrics { return f.metrics }

var _ wsconn.Connection = (*fakeConn)(nil)

func newTestManager(t *testing.T, cfg *config.Config) (*manager, map[string]*fakeConn) {
	t.Helper()

	fakes := make(map[string]*fakeConn)
	seq := 0
	factory := func(feature model.Feature, priority int) wsconn.Connection {
		seq++
		f := &fakeConn{
			id:        fmt.Sprintf("conn-%d", seq),
			feature:   feature,
			connected: true,
		}
		fakes[f.id] = f
		return f
	}

	m := NewManager(cfg, factory, slog.Default()).(*manager)
	return m, fakes
}

func poolConfigFor(strategy config.LoadBalancingStrategy, maxConns int) *config.Config {
	return &config.Config{
		MaxConnections:        maxConns,
		HealthCheckInterval:   time.Minute,
		LoadBalancingStrategy: strategy,
		EnableFailover:        true,
	}
}

func TestCreateConnection_CapacityExceeded(t *testing.T) {
	m, _ := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 2))

	_, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)
	_, err = m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)

	_, err = m.CreateConnection(model.FeatureFeed, 1)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)
}

func TestCreateConnection_ReclaimsIdleSlot(t *testing.T) {
	m, fakes := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 2))
	m.cfg.idleThreshold = time.Millisecond

	id1, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)
	_, err = m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)

	m.ReleaseConnection(id1)
	m.mu.Lock()
	m.entries[id1].record.LastUsedAt = time.Now().Add(-time.Second)
	m.mu.Unlock()

	id3, err := m.CreateConnection(model.FeatureFeed, 1)
	require.NoError(t, err)

	_, ok := m.Lookup(id1)
	assert.False(t, ok, "idle connection should have been reclaimed")
	assert.Equal(t, 1, fakes[id1].disconnects)
	_, ok = m.Lookup(id3)
	assert.True(t, ok)
}

func TestGetConnection_NoCandidates(t *testing.T) {
	m, _ := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 4))

	assert.Nil(t, m.GetConnection(model.FeatureChat))

	id, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)
	m.ReleaseConnection(id)

	assert.Nil(t, m.GetConnection(model.FeatureChat), "released connections are not candidates")
	assert.Nil(t, m.GetConnection(model.FeatureFeed), "other features never match")
}

func TestGetConnection_RoundRobinCycles(t *testing.T) {
	m, _ := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 4))

	for i := 0; i < 3; i++ {
		_, err := m.CreateConnection(model.FeatureChat, 1)
		require.NoError(t, err)
	}

	var picked []string
	for i := 0; i < 6; i++ {
		c := m.GetConnection(model.FeatureChat)
		require.NotNil(t, c)
		picked = append(picked, c.ID())
	}
	assert.Equal(t, []string{"conn-1", "conn-2", "conn-3", "conn-1", "conn-2", "conn-3"}, picked)
}

func TestGetConnection_LeastConnections(t *testing.T) {
	m, _ := newTestManager(t, poolConfigFor(config.StrategyLeastConnections, 4))

	id1, _ := m.CreateConnection(model.FeatureChat, 1)
	id2, _ := m.CreateConnection(model.FeatureChat, 1)
	id3, _ := m.CreateConnection(model.FeatureChat, 1)

	m.mu.Lock()
	m.entries[id1].checkErrors = 3
	m.entries[id2].checkErrors = 1
	m.entries[id3].checkErrors = 2
	m.mu.Unlock()

	c := m.GetConnection(model.FeatureChat)
	require.NotNil(t, c)
	assert.Equal(t, id2, c.ID())
}

func TestGetConnection_PriorityWithHealthTieBreak(t *testing.T) {
	m, _ := newTestManager(t, poolConfigFor(config.StrategyPriority, 4))

	id1, _ := m.CreateConnection(model.FeatureChat, 5)
	id2, _ := m.CreateConnection(model.FeatureChat, 9)
	id3, _ := m.CreateConnection(model.FeatureChat, 9)

	m.mu.Lock()
	m.entries[id1].record.HealthScore = 100
	m.entries[id2].record.HealthScore = 40
	m.entries[id3].record.HealthScore = 80
	m.mu.Unlock()

	c := m.GetConnection(model.FeatureChat)
	require.NotNil(t, c)
	assert.Equal(t, id3, c.ID(), "highest priority wins, health breaks the tie")
}

func TestRemoveConnection_Idempotent(t *testing.T) {
	m, fakes := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 4))

	id, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)

	m.RemoveConnection(id)
	m.RemoveConnection(id)

	_, ok := m.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 1, fakes[id].disconnects)
	assert.Zero(t, m.Stats().TotalConnections)
}

func TestRemoveConnection_EndsSessionOfDisconnectedConn(t *testing.T) {
	m, fakes := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 4))

	id, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)

	// A mid-reconnect connection reports not connected; removal still has
	// to end its session so the cycle stops.
	fakes[id].connected = false
	m.RemoveConnection(id)

	assert.Equal(t, 1, fakes[id].disconnects)
}

func TestPerformHealthCheck_Derivation(t *testing.T) {
	cfg := poolConfigFor(config.StrategyRoundRobin, 8)
	cfg.EnableFailover = false
	m, fakes := newTestManager(t, cfg)

	healthyID, _ := m.CreateConnection(model.FeatureChat, 1)
	degradedID, _ := m.CreateConnection(model.FeatureNotification, 1)
	deadID, _ := m.CreateConnection(model.FeatureFeed, 1)

	fakes[healthyID].pingLatency = 20 * time.Millisecond
	fakes[degradedID].pingLatency = 1500 * time.Millisecond
	fakes[deadID].connected = false

	m.PerformHealthCheck(context.Background())

	h, ok := m.Health(healthyID)
	require.True(t, ok)
	assert.Equal(t, model.StatusHealthy, h.Status)

	h, ok = m.Health(degradedID)
	require.True(t, ok)
	assert.Equal(t, model.StatusDegraded, h.Status)

	h, ok = m.Health(deadID)
	require.True(t, ok)
	assert.Equal(t, model.StatusUnhealthy, h.Status)

	assert.False(t, m.Stats().LastHealthCheckAt.IsZero())
}

func TestPerformHealthCheck_EvictsOnFailover(t *testing.T) {
	m, fakes := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 8))

	goodID, _ := m.CreateConnection(model.FeatureChat, 1)
	badID, _ := m.CreateConnection(model.FeatureChat, 1)

	// Disconnected plus accumulated transport errors pushes the score
	// below the eviction threshold.
	fakes[badID].connected = false
	fakes[badID].metrics.Errors = 4

	m.PerformHealthCheck(context.Background())

	_, ok := m.Lookup(badID)
	assert.False(t, ok, "low-health connection must be evicted")
	_, ok = m.Lookup(goodID)
	assert.True(t, ok)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		latency    time.Duration
		errorCount int
		want       model.HealthStatus
	}{
		{"connected and quiet", true, 10 * time.Millisecond, 0, model.StatusHealthy},
		{"disconnected", false, 0, 0, model.StatusUnhealthy},
		{"error ceiling", true, 10 * time.Millisecond, 6, model.StatusUnhealthy},
		{"slow", true, 1100 * time.Millisecond, 0, model.StatusDegraded},
		{"elevated errors", true, 10 * time.Millisecond, 3, model.StatusDegraded},
		{"at degraded boundary", true, time.Second, 2, model.StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.connected, tt.latency, tt.errorCount))
		})
	}
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name       string
		status     model.HealthStatus
		latency    time.Duration
		errorCount int
		want       int
	}{
		{"perfect", model.StatusHealthy, 10 * time.Millisecond, 0, 100},
		{"light latency", model.StatusHealthy, 600 * time.Millisecond, 0, 95},
		{"degraded slow", model.StatusDegraded, 1500 * time.Millisecond, 1, 55},
		{"unhealthy", model.StatusUnhealthy, 0, 6, 10},
		{"clamped at zero", model.StatusUnhealthy, 3 * time.Second, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := healthScore(tt.status, tt.latency, tt.errorCount)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestStatsAndShutdown(t *testing.T) {
	m, fakes := newTestManager(t, poolConfigFor(config.StrategyRoundRobin, 8))

	id1, _ := m.CreateConnection(model.FeatureChat, 1)
	_, err := m.CreateConnection(model.FeatureChat, 1)
	require.NoError(t, err)
	_, err = m.CreateConnection(model.FeatureFeed, 1)
	require.NoError(t, err)
	m.ReleaseConnection(id1)

	s := m.Stats()
	assert.Equal(t, 3, s.TotalConnections)
	assert.Equal(t, 2, s.ActiveConnections)
	assert.Equal(t, 2, s.ByFeature[model.FeatureChat])
	assert.Equal(t, 1, s.ByFeature[model.FeatureFeed])

	m.Shutdown()
	assert.Zero(t, m.Stats().TotalConnections)
	for id, f := range fakes {
		assert.Equal(t, 1, f.disconnects, "connection %s not closed on shutdown", id)
	}
}
