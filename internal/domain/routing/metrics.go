package routing

import (
	"sync"
	"time"

	"github.com/webitel/im-connect/internal/domain/model"
)

// Metrics is the router health snapshot.
type Metrics struct {
	Total                int64                            `json:"total"`
	Routed               int64                            `json:"routed"`
	Dropped              int64                            `json:"dropped"`
	Invalid              int64                            `json:"invalid"`
	ValidationErrors     int64                            `json:"validation_errors"`
	TransformationErrors int64                            `json:"transformation_errors"`
	QueueDropped         int64                            `json:"queue_dropped"`
	AvgProcessing        time.Duration                    `json:"avg_processing"`
	PerFeature           map[model.Feature]FeatureMetrics `json:"per_feature"`
}

// FeatureMetrics aggregates per-feature routing outcomes.
type FeatureMetrics struct {
	Routed        int64         `json:"routed"`
	Errors        int64         `json:"errors"`
	AvgProcessing time.Duration `json:"avg_processing"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

type featureStats struct {
	routed        int64
	errors        int64
	avgProcessing float64 // ns
	avgLatency    float64 // ns
}

type routerStats struct {
	mu                   sync.Mutex
	total                int64
	routed               int64
	dropped              int64
	invalid              int64
	validationErrors     int64
	transformationErrors int64
	queueDropped         int64
	avgProcessing        float64 // ns
	perFeature           map[model.Feature]*featureStats
}

func (s *routerStats) incTotal() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

func (s *routerStats) incDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *routerStats) incInvalid() {
	s.mu.Lock()
	s.invalid++
	s.mu.Unlock()
}

func (s *routerStats) incValidationError() {
	s.mu.Lock()
	s.validationErrors++
	s.mu.Unlock()
}

func (s *routerStats) incTransformationError() {
	s.mu.Lock()
	s.transformationErrors++
	s.mu.Unlock()
}

func (s *routerStats) incQueueDropped() {
	s.mu.Lock()
	s.queueDropped++
	s.mu.Unlock()
}

func (s *routerStats) incHandlerError(feature model.Feature) {
	s.mu.Lock()
	s.featureLocked(feature).errors++
	s.mu.Unlock()
}

// observeRouted folds one success into the running averages, globally and
// per feature: avg = (avg*(n-1) + elapsed) / n.
func (s *routerStats) observeRouted(feature model.Feature, elapsed, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routed++
	n := float64(s.routed)
	s.avgProcessing = (s.avgProcessing*(n-1) + float64(elapsed)) / n

	fs := s.featureLocked(feature)
	fs.routed++
	fn := float64(fs.routed)
	fs.avgProcessing = (fs.avgProcessing*(fn-1) + float64(elapsed)) / fn
	if latency > 0 {
		fs.avgLatency = (fs.avgLatency*(fn-1) + float64(latency)) / fn
	}
}

func (s *routerStats) featureLocked(feature model.Feature) *featureStats {
	fs, ok := s.perFeature[feature]
	if !ok {
		fs = &featureStats{}
		s.perFeature[feature] = fs
	}
	return fs
}

func (s *routerStats) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Total:                s.total,
		Routed:               s.routed,
		Dropped:              s.dropped,
		Invalid:              s.invalid,
		ValidationErrors:     s.validationErrors,
		TransformationErrors: s.transformationErrors,
		QueueDropped:         s.queueDropped,
		AvgProcessing:        time.Duration(s.avgProcessing),
		PerFeature:           make(map[model.Feature]FeatureMetrics, len(s.perFeature)),
	}
	for feature, fs := range s.perFeature {
		m.PerFeature[feature] = FeatureMetrics{
			Routed:        fs.routed,
			Errors:        fs.errors,
			AvgProcessing: time.Duration(fs.avgProcessing),
			AvgLatency:    time.Duration(fs.avgLatency),
		}
	}
	return m
}
