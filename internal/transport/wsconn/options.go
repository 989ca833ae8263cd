package wsconn

import (
	"log/slog"
	"time"

	"github.com/webitel/im-connect/internal/domain/model"
)

// Options carries the per-connection transport settings.
type Options struct {
	URL                  string
	Feature              model.Feature
	ConnectionTimeout    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
	EnableMetrics        bool
}

// Option configures optional collaborators of a Connection.
type Option func(*conn)

// WithLogger overrides the connection logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink wires the downstream consumer of every received Message,
// typically the message router. The sink is invoked on the read goroutine,
// preserving socket delivery order.
func WithSink(sink func(*model.Message)) Option {
	return func(c *conn) {
		c.sink = sink
	}
}

// WithSentRecorder wires the opportunistic persistence hook invoked after a
// successful send, used for crash recovery. Failures in the recorder are the
// recorder's problem; sends never block on it.
func WithSentRecorder(rec func(*model.Message)) Option {
	return func(c *conn) {
		c.sentRecorder = rec
	}
}
