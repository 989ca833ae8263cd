package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/adapter/pubsub"
	"github.com/webitel/im-connect/internal/domain/model"
	"github.com/webitel/im-connect/internal/domain/pool"
	"github.com/webitel/im-connect/internal/domain/routing"
	"github.com/webitel/im-connect/internal/transport/wsconn"
)

// Engine is the facade transport callers use: outbound sends go through the
// pool-selected connection, inbound frames flow connection → router →
// handlers and the cache bridge.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       pool.Manager
	router     routing.Router
	bridge     *CacheBridge
	dispatcher pubsub.Dispatcher

	cancel context.CancelFunc
}

func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	mgr pool.Manager,
	router routing.Router,
	bridge *CacheBridge,
	dispatcher pubsub.Dispatcher,
) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		pool:       mgr,
		router:     router,
		bridge:     bridge,
		dispatcher: dispatcher,
	}
}

// Start begins consuming routed messages on behalf of the cache bridge.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	routed, err := e.dispatcher.Subscribe(runCtx)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		for m := range routed {
			e.bridge.Process(runCtx, m)
		}
	}()

	e.logger.Info("engine started", "url", e.cfg.URL)
	return nil
}

// Stop halts the bridge consumer. Pool shutdown is owned by the pool module.
func (e *Engine) Stop(context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.logger.Info("engine stopped")
	return nil
}

// Send routes an outbound message through the pool-selected connection for
// its feature, dialing a fresh connection when the feature has none.
func (e *Engine) Send(ctx context.Context, m *model.Message) error {
	if err := m.Normalize().Validate(); err != nil {
		return err
	}

	conn := e.pool.GetConnection(m.Feature)
	if conn == nil {
		id, err := e.pool.CreateConnection(m.Feature, m.Priority)
		if err != nil {
			return err
		}
		created, ok := e.pool.Lookup(id)
		if !ok {
			// Pool bookkeeping failure, not a transport state: the slot was
			// reclaimed or removed between create and lookup.
			return fmt.Errorf("engine: pooled connection %s lost before use", id)
		}
		conn = created
	}
	if !conn.IsConnected() {
		if err := conn.Connect(ctx, e.cfg.AuthToken); err != nil {
			return err
		}
	}
	return conn.SendMessage(ctx, m)
}

// Router exposes route registration to feature clients.
func (e *Engine) Router() routing.Router { return e.router }

// Bridge exposes history reads and strategy management.
func (e *Engine) Bridge() *CacheBridge { return e.bridge }

// NewConnectionFactory wires each pooled connection to the router (inbound
// sink, socket order preserved) and the bridge (sent-message persistence).
func NewConnectionFactory(
	cfg *config.Config,
	logger *slog.Logger,
	router routing.Router,
	bridge *CacheBridge,
) pool.Factory {
	return func(feature model.Feature, priority int) wsconn.Connection {
		return wsconn.New(
			wsconn.Options{
				URL:                  cfg.URL,
				Feature:              feature,
				ConnectionTimeout:    cfg.ConnectionTimeout,
				HeartbeatInterval:    cfg.HeartbeatInterval,
				HeartbeatTimeout:     cfg.HeartbeatTimeout,
				ReconnectDelay:       cfg.ReconnectDelay,
				MaxReconnectAttempts: cfg.MaxReconnectAttempts,
				WriteTimeout:         5 * time.Second,
				EnableMetrics:        cfg.EnableMetrics,
			},
			wsconn.WithLogger(logger),
			wsconn.WithSink(func(m *model.Message) {
				r := router.RouteMessage(context.Background(), m)
				if !r.OK() && r.Status != routing.StatusNoRouteFound {
					logger.Debug("inbound message not routed",
						"status", string(r.Status), "error", r.Err)
				}
			}),
			wsconn.WithSentRecorder(func(m *model.Message) {
				bridge.PersistMessage(context.Background(), m)
			}),
		)
	}
}
