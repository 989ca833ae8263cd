package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/adapter/cache"
	"github.com/webitel/im-connect/internal/domain/model"
)

// CacheBridge keeps the external read cache consistent with server-pushed
// events and persists a bounded per-feature message history for replay.
// Every failure degrades (zero values, empty collections) instead of
// propagating: cache consistency is best-effort, not correctness-critical.
type CacheBridge struct {
	cache   cache.Service
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	autoInvalidation bool
	persistence      bool
	defaultTTL       time.Duration
	maxCacheSize     int

	mu         sync.RWMutex
	strategies map[model.Feature][]*InvalidationStrategy

	indexMu sync.Mutex
	// index keeps the capped most-recent id set per feature; LRU eviction
	// drops the oldest ids once a feature passes maxCacheSize.
	index map[model.Feature]*lru.Cache[string, time.Time]

	stats bridgeStats
}

type bridgeStats struct {
	mu            sync.Mutex
	invalidations int64
	persisted     int64
	avgProcessing float64 // ns, weighted by invalidation count
}

// BridgeStats is the diagnostics snapshot.
type BridgeStats struct {
	Invalidations int64         `json:"invalidations"`
	Persisted     int64         `json:"persisted"`
	AvgProcessing time.Duration `json:"avg_processing"`
}

// NewCacheBridge builds the bridge with the default strategies installed.
func NewCacheBridge(cfg *config.Config, svc cache.Service, logger *slog.Logger) *CacheBridge {
	b := &CacheBridge{
		cache: svc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cache-bridge",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures > 5
			},
		}),
		logger:           logger.With("component", "cache-bridge"),
		autoInvalidation: cfg.EnableAutoInvalidation,
		persistence:      cfg.EnableMessagePersistence,
		defaultTTL:       cfg.DefaultTTL,
		maxCacheSize:     cfg.MaxCacheSize,
		strategies:       make(map[model.Feature][]*InvalidationStrategy),
		index:            make(map[model.Feature]*lru.Cache[string, time.Time]),
	}
	for _, s := range defaultStrategies() {
		b.RegisterStrategy(s)
	}
	return b
}

// RegisterStrategy installs a strategy, keeping the feature's list sorted by
// descending priority.
func (b *CacheBridge) RegisterStrategy(s InvalidationStrategy) {
	cp := s
	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.strategies[s.Feature], &cp)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	b.strategies[s.Feature] = list
}

// RemoveStrategies drops every strategy for a feature.
func (b *CacheBridge) RemoveStrategies(feature model.Feature) {
	b.mu.Lock()
	delete(b.strategies, feature)
	b.mu.Unlock()
}

// InvalidateCache applies every enabled, condition-matching strategy for the
// message's feature and returns the number of patterns invalidated.
// Duplicate patterns across strategies are harmless.
func (b *CacheBridge) InvalidateCache(ctx context.Context, m *model.Message) int {
	if m == nil {
		return 0
	}
	start := time.Now()

	b.mu.RLock()
	matching := make([]*InvalidationStrategy, 0, len(b.strategies[m.Feature]))
	for _, s := range b.strategies[m.Feature] {
		if !s.Enabled {
			continue
		}
		if s.Condition != nil && !s.Condition(m) {
			continue
		}
		matching = append(matching, s)
	}
	b.mu.RUnlock()

	invalidated := 0
	for _, s := range matching {
		for _, pattern := range s.Patterns {
			if err := b.guarded(func() error {
				_, err := b.cache.InvalidatePattern(ctx, pattern)
				return err
			}); err != nil {
				b.logger.Warn("pattern invalidation failed",
					"pattern", pattern, "error", err)
				continue
			}
			invalidated++
		}
	}

	if invalidated > 0 {
		b.stats.observe(invalidated, time.Since(start))
	}
	return invalidated
}

// PersistMessage writes the message under its (feature, id) key with the
// default TTL and records the id in the capped per-feature index.
func (b *CacheBridge) PersistMessage(ctx context.Context, m *model.Message) {
	if m == nil || !b.persistence {
		return
	}
	data, err := m.Encode()
	if err != nil {
		b.logger.Warn("cannot persist message", "error", err)
		return
	}

	key := messageKey(m.Feature, m.ID)
	if err := b.guarded(func() error {
		return b.cache.Set(ctx, key, string(data), b.defaultTTL)
	}); err != nil {
		b.logger.Warn("message persistence failed", "key", key, "error", err)
		return
	}

	b.featureIndex(m.Feature).Add(m.ID, time.Now())
	b.stats.mu.Lock()
	b.stats.persisted++
	b.stats.mu.Unlock()
}

// GetMessage loads one persisted message, addressing the per-message key
// directly by (feature, id). Returns nil on miss or error.
func (b *CacheBridge) GetMessage(ctx context.Context, feature model.Feature, id string) *model.Message {
	var value any
	var found bool
	err := b.guarded(func() error {
		var err error
		value, found, err = b.cache.Get(ctx, messageKey(feature, id))
		return err
	})
	if err != nil || !found {
		return nil
	}

	raw, ok := value.(string)
	if !ok {
		return nil
	}
	m, err := model.DecodeMessage([]byte(raw))
	if err != nil {
		b.logger.Warn("persisted message undecodable", "feature", feature, "id", id)
		return nil
	}
	return m
}

// GetFeatureMessages answers the most-recent-first history for a feature,
// bounded by limit. Ids whose entries expired resolve to nothing and are
// skipped.
func (b *CacheBridge) GetFeatureMessages(ctx context.Context, feature model.Feature, limit int) []*model.Message {
	idx := b.featureIndex(feature)
	keys := idx.Keys() // oldest to newest

	out := make([]*model.Message, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		if m := b.GetMessage(ctx, feature, keys[i]); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Process applies the bridge's configured reactions to one routed message.
func (b *CacheBridge) Process(ctx context.Context, m *model.Message) {
	if b.autoInvalidation {
		b.InvalidateCache(ctx, m)
	}
	b.PersistMessage(ctx, m)
}

// Stats returns the diagnostics snapshot.
func (b *CacheBridge) Stats() BridgeStats {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	return BridgeStats{
		Invalidations: b.stats.invalidations,
		Persisted:     b.stats.persisted,
		AvgProcessing: time.Duration(b.stats.avgProcessing),
	}
}

// guarded runs one cache operation behind the circuit breaker so a dead
// backend stops being hammered.
func (b *CacheBridge) guarded(op func() error) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	return err
}

func (b *CacheBridge) featureIndex(feature model.Feature) *lru.Cache[string, time.Time] {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	idx, ok := b.index[feature]
	if !ok {
		// Size is validated positive at config load; the constructor only
		// errors on non-positive sizes.
		idx, _ = lru.New[string, time.Time](b.maxCacheSize)
		b.index[feature] = idx
	}
	return idx
}

// observe folds one invalidation batch into the running average weighted by
// invalidation count.
func (s *bridgeStats) observe(count int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := float64(s.invalidations)
	s.invalidations += int64(count)
	total := float64(s.invalidations)
	s.avgProcessing = (s.avgProcessing*prev + float64(elapsed)*float64(count)) / total
}

func messageKey(feature model.Feature, id string) string {
	return fmt.Sprintf("msg:%s:%s", feature, id)
}
