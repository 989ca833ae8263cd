// Package routing decouples transport from business handling: it maps
// messages to registered handlers by (feature, type), applies optional
// validation and transformation pipelines, and tracks routing health.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/webitel/im-connect/internal/domain/model"
)

// Handler consumes a routed message. Errors and panics are contained by the
// router and reported as structured results, never propagated.
type Handler func(ctx context.Context, m *model.Message) error

// Validator rejects a message before it reaches the handler.
type Validator func(m *model.Message) error

// Transformer rewrites a message before dispatch.
type Transformer func(m *model.Message) (*model.Message, error)

// Route binds a (feature, type) key to a handler with optional pipeline
// stages. Routes never auto-expire; they are removed explicitly.
type Route struct {
	Feature     model.Feature
	Type        string
	Handler     Handler
	Validator   Validator
	Transformer Transformer
	Priority    int
	Enabled     bool
}

// Router is the message routing contract.
type Router interface {
	// RegisterRoute appends a route and re-sorts by descending priority.
	// Equal-key routes with distinct priorities coexist; dispatch picks the
	// highest-priority enabled match, ties resolving to registration order.
	RegisterRoute(r Route)

	// RemoveRoute drops every route registered under the key.
	RemoveRoute(feature model.Feature, msgType string)

	// SetRouteEnabled toggles every route under the key; reports whether
	// any route matched.
	SetRouteEnabled(feature model.Feature, msgType string, enabled bool) bool

	// RouteMessage dispatches one message and returns a structured result.
	// A bad message can never halt the router.
	RouteMessage(ctx context.Context, m *model.Message) Result

	// QueueMessage appends to the bounded FIFO, evicting the oldest entry
	// when full.
	QueueMessage(m *model.Message)

	// ProcessQueued drains the current queue snapshot sequentially and
	// returns one result per message.
	ProcessQueued(ctx context.Context) []Result

	Metrics() Metrics
}

type router struct {
	logger    *slog.Logger
	validate  bool
	transform bool
	maxQueue  int
	publish   func(*model.Message)

	mu     sync.RWMutex
	routes []*Route // sorted by priority desc, stable

	queueMu sync.Mutex
	queue   []*model.Message

	stats routerStats
}

var _ Router = (*router)(nil)

// NewRouter builds a router with validation and transformation enabled and
// the default queue bound of 1000.
func NewRouter(opts ...Option) Router {
	r := &router{
		logger:    slog.New(slog.NewTextHandler(os.Stdout, nil)),
		validate:  true,
		transform: true,
		maxQueue:  1000,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "router")
	r.stats.perFeature = make(map[model.Feature]*featureStats)
	return r
}

func (r *router) RegisterRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := route
	r.routes = append(r.routes, &cp)
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].Priority > r.routes[j].Priority
	})
	r.logger.Debug("route registered",
		"feature", route.Feature, "type", route.Type, "priority", route.Priority)
}

func (r *router) RemoveRoute(feature model.Feature, msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.routes[:0]
	for _, rt := range r.routes {
		if rt.Feature != feature || rt.Type != msgType {
			kept = append(kept, rt)
		}
	}
	r.routes = kept
}

func (r *router) SetRouteEnabled(feature model.Feature, msgType string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, rt := range r.routes {
		if rt.Feature == feature && rt.Type == msgType {
			rt.Enabled = enabled
			found = true
		}
	}
	return found
}

// match returns the highest-priority enabled route for the key. The routes
// slice is kept priority-sorted, so the first hit wins.
func (r *router) match(feature model.Feature, msgType string) *Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if rt.Enabled && rt.Feature == feature && rt.Type == msgType {
			return rt
		}
	}
	return nil
}

func (r *router) RouteMessage(ctx context.Context, m *model.Message) Result {
	start := time.Now()
	r.stats.incTotal()

	if err := m.Validate(); err != nil {
		r.stats.incInvalid()
		return Result{Status: StatusInvalid, Message: m, Err: err}
	}

	route := r.match(m.Feature, m.Type)
	if route == nil {
		r.stats.incDropped()
		return Result{Status: StatusNoRouteFound, Message: m}
	}

	if r.validate && route.Validator != nil {
		if err := route.Validator(m); err != nil {
			r.stats.incValidationError()
			return Result{Status: StatusValidationFailed, Message: m, Err: err}
		}
	}

	out := m
	if r.transform && route.Transformer != nil {
		transformed, err := route.Transformer(m)
		if err != nil {
			r.stats.incTransformationError()
			return Result{Status: StatusTransformationFailed, Message: m, Err: err}
		}
		out = transformed
	}

	if err := r.invoke(ctx, route, out); err != nil {
		r.stats.incHandlerError(m.Feature)
		return Result{Status: StatusHandlerError, Message: out, Err: err}
	}

	elapsed := time.Since(start)
	r.stats.observeRouted(m.Feature, elapsed, time.Since(m.Timestamp))
	if r.publish != nil {
		r.publish(out)
	}
	return Result{Status: StatusRouted, Message: out, Elapsed: elapsed}
}

// invoke runs the handler with panic containment.
func (r *router) invoke(ctx context.Context, route *Route, m *model.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return route.Handler(ctx, m)
}

func (r *router) QueueMessage(m *model.Message) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	if len(r.queue) >= r.maxQueue {
		// Drop-oldest: the queue favors fresh messages over strict
		// completeness under saturation.
		r.queue = r.queue[1:]
		r.stats.incQueueDropped()
	}
	r.queue = append(r.queue, m)
}

func (r *router) ProcessQueued(ctx context.Context) []Result {
	r.queueMu.Lock()
	batch := r.queue
	r.queue = nil
	r.queueMu.Unlock()

	results := make([]Result, 0, len(batch))
	for _, m := range batch {
		results = append(results, r.RouteMessage(ctx, m))
	}
	return results
}

func (r *router) Metrics() Metrics {
	return r.stats.snapshot()
}
