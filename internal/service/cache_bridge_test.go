package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/adapter/cache"
	"github.com/webitel/im-connect/internal/domain/model"
)

func bridgeConfig() *config.Config {
	return &config.Config{
		EnableAutoInvalidation:   true,
		EnableMessagePersistence: true,
		DefaultTTL:               time.Minute,
		MaxCacheSize:             3,
	}
}

func newTestBridge(t *testing.T) (*CacheBridge, *cache.Memory) {
	t.Helper()
	mem := cache.NewMemory()
	return NewCacheBridge(bridgeConfig(), mem, slog.Default()), mem
}

func seed(t *testing.T, mem *cache.Memory, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, mem.Set(context.Background(), k, "v", time.Minute))
	}
}

func TestInvalidateCache_FeedCreate(t *testing.T) {
	b, mem := newTestBridge(t)
	ctx := context.Background()
	seed(t, mem, "feed:home", "post:42", "comment:42:7", "user:9:feed", "chat:room-1")

	n := b.InvalidateCache(ctx, model.NewMessage(model.FeatureFeed, model.TypeCreate, nil))
	assert.Equal(t, 4, n, "all four feed patterns fire")

	for _, k := range []string{"feed:home", "post:42", "comment:42:7", "user:9:feed"} {
		ok, err := mem.Has(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, "%s should be invalidated", k)
	}
	ok, err := mem.Has(ctx, "chat:room-1")
	require.NoError(t, err)
	assert.True(t, ok, "other features' keys are untouched")
}

func TestInvalidateCache_FeedReadSkipsCondition(t *testing.T) {
	b, mem := newTestBridge(t)
	ctx := context.Background()
	seed(t, mem, "feed:home")

	n := b.InvalidateCache(ctx, model.NewMessage(model.FeatureFeed, "view", nil))
	assert.Zero(t, n, "read events do not satisfy the mutating-types condition")

	ok, err := mem.Has(ctx, "feed:home")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidateCache_AppliesEveryMatchingStrategy(t *testing.T) {
	b, mem := newTestBridge(t)
	ctx := context.Background()
	seed(t, mem, "chat:room-1", "presence:room-1")

	b.RegisterStrategy(InvalidationStrategy{
		Feature:  model.FeatureChat,
		Patterns: []string{"presence:*"},
		Priority: 99,
		Enabled:  true,
	})

	n := b.InvalidateCache(ctx, model.NewMessage(model.FeatureChat, model.TypeMessage, nil))
	assert.Equal(t, 4, n, "both strategies fire, not just the highest priority")

	for _, k := range []string{"chat:room-1", "presence:room-1"} {
		ok, err := mem.Has(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestInvalidateCache_RemovedAndNilMessage(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	b.RemoveStrategies(model.FeatureChat)
	assert.Zero(t, b.InvalidateCache(ctx, model.NewMessage(model.FeatureChat, model.TypeMessage, nil)))
	assert.Zero(t, b.InvalidateCache(ctx, nil))
}

func TestPersistAndGetMessage(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	out := model.NewMessage(model.FeatureChat, model.TypeMessage, map[string]any{"text": "hi"})
	b.PersistMessage(ctx, out)

	got := b.GetMessage(ctx, model.FeatureChat, out.ID)
	require.NotNil(t, got)
	assert.Equal(t, out.ID, got.ID)
	assert.Equal(t, out.Feature, got.Feature)

	assert.Nil(t, b.GetMessage(ctx, model.FeatureChat, "missing"))
	assert.Nil(t, b.GetMessage(ctx, model.FeatureFeed, out.ID), "keys are scoped per feature")
}

func TestPersistMessage_Disabled(t *testing.T) {
	cfg := bridgeConfig()
	cfg.EnableMessagePersistence = false
	mem := cache.NewMemory()
	b := NewCacheBridge(cfg, mem, slog.Default())

	m := model.NewMessage(model.FeatureChat, model.TypeMessage, nil)
	b.PersistMessage(context.Background(), m)

	assert.Nil(t, b.GetMessage(context.Background(), model.FeatureChat, m.ID))
	assert.Zero(t, b.Stats().Persisted)
}

func TestGetFeatureMessages_RecentFirstAndCapped(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		m := model.NewMessage(model.FeatureFeed, model.TypeCreate, nil)
		m.ID = fmt.Sprintf("m-%d", i)
		b.PersistMessage(ctx, m)
		ids = append(ids, m.ID)
	}

	// Index capacity is 3, so only the newest three ids survive.
	got := b.GetFeatureMessages(ctx, model.FeatureFeed, 10)
	require.Len(t, got, 3)
	assert.Equal(t, ids[4], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)
	assert.Equal(t, ids[2], got[2].ID)

	got = b.GetFeatureMessages(ctx, model.FeatureFeed, 1)
	require.Len(t, got, 1)
	assert.Equal(t, ids[4], got[0].ID)

	assert.Empty(t, b.GetFeatureMessages(ctx, model.FeatureSearch, 10))
}

func TestProcessAndStats(t *testing.T) {
	b, mem := newTestBridge(t)
	ctx := context.Background()
	seed(t, mem, "chat:room-1")

	m := model.NewMessage(model.FeatureChat, model.TypeMessage, nil)
	b.Process(ctx, m)

	ok, err := mem.Has(ctx, "chat:room-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotNil(t, b.GetMessage(ctx, model.FeatureChat, m.ID))

	s := b.Stats()
	assert.Equal(t, int64(3), s.Invalidations, "all chat patterns counted")
	assert.Equal(t, int64(1), s.Persisted)
	assert.Greater(t, s.AvgProcessing, time.Duration(0))
}

// brokenCache fails every operation, driving the circuit breaker open.
type brokenCache struct{}

var errBackendDown = errors.New("backend down")

func (brokenCache) Get(context.Context, string) (any, bool, error) { return nil, false, errBackendDown }
func (brokenCache) Set(context.Context, string, any, time.Duration) error {
	return errBackendDown
}
func (brokenCache) Invalidate(context.Context, string) error            { return errBackendDown }
func (brokenCache) InvalidatePattern(context.Context, string) (int, error) {
	return 0, errBackendDown
}
func (brokenCache) Clear(context.Context) error             { return errBackendDown }
func (brokenCache) Has(context.Context, string) (bool, error) { return false, errBackendDown }

func TestBridgeDegradesWhenBackendDown(t *testing.T) {
	b := NewCacheBridge(bridgeConfig(), brokenCache{}, slog.Default())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.Zero(t, b.InvalidateCache(ctx, model.NewMessage(model.FeatureChat, model.TypeMessage, nil)))
	}
	assert.Nil(t, b.GetMessage(ctx, model.FeatureChat, "any"))
	b.PersistMessage(ctx, model.NewMessage(model.FeatureChat, model.TypeMessage, nil))
	assert.Zero(t, b.Stats().Persisted)
	assert.Zero(t, b.Stats().Invalidations)
}
