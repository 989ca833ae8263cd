package routing

import (
	"log/slog"

	"github.com/webitel/im-connect/internal/domain/model"
)

// Option configures a Router.
type Option func(*router)

// WithLogger overrides the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithValidation toggles per-route validators.
func WithValidation(enabled bool) Option {
	return func(r *router) { r.validate = enabled }
}

// WithTransformation toggles per-route transformers.
func WithTransformation(enabled bool) Option {
	return func(r *router) { r.transform = enabled }
}

// WithMaxQueue bounds the saturation queue.
func WithMaxQueue(n int) Option {
	return func(r *router) {
		if n > 0 {
			r.maxQueue = n
		}
	}
}

// WithPublisher wires the sink notified of every successfully routed
// message, typically the cache-bridge event bus.
func WithPublisher(publish func(*model.Message)) Option {
	return func(r *router) { r.publish = publish }
}
