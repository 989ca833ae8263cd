package service

import (
	"github.com/webitel/im-connect/internal/domain/model"
)

// InvalidationStrategy maps a feature's messages to cache key patterns that
// must be evicted. Multiple strategies per feature are evaluated in
// descending priority order and every matching strategy fires; priority
// orders iteration, it does not short-circuit.
type InvalidationStrategy struct {
	Feature   model.Feature
	Patterns  []string
	Condition func(*model.Message) bool
	Priority  int
	Enabled   bool
}

// mutatingTypes is the write-event condition shipped with the feed strategy.
func mutatingTypes(m *model.Message) bool {
	switch m.Type {
	case model.TypeCreate, model.TypeUpdate, model.TypeDelete:
		return true
	}
	return false
}

// defaultStrategies ship for the four browser-facing features, priorities
// following rough impact ordering: chat > notification > feed > search.
func defaultStrategies() []InvalidationStrategy {
	return []InvalidationStrategy{
		{
			Feature:  model.FeatureChat,
			Patterns: []string{"chat:*", "messages:*", "user:*:chat"},
			Priority: 10,
			Enabled:  true,
		},
		{
			Feature:  model.FeatureNotification,
			Patterns: []string{"notifications:*", "user:*:notifications", "unread:*"},
			Priority: 8,
			Enabled:  true,
		},
		{
			Feature:   model.FeatureFeed,
			Patterns:  []string{"feed:*", "post:*", "comment:*", "user:*:feed"},
			Condition: mutatingTypes,
			Priority:  6,
			Enabled:   true,
		},
		{
			Feature:  model.FeatureSearch,
			Patterns: []string{"search:*", "query:*"},
			Priority: 4,
			Enabled:  true,
		},
	}
}
