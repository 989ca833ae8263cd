// Package pubsub carries routed messages from the router to in-process
// consumers (the cache bridge) over a watermill gochannel bus, keeping the
// two decoupled the same way a broker would without requiring one.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-connect/internal/domain/model"
)

// RoutedTopic is where successfully routed messages are republished.
const RoutedTopic = "im-connect.routed.v1"

// Dispatcher is the high-level contract for the routed-message bus. It keeps
// consumers agnostic of the transport implementation.
type Dispatcher interface {
	Publish(ctx context.Context, m *model.Message) error
	// Subscribe returns a stream of routed messages. Undecodable entries
	// are logged and skipped.
	Subscribe(ctx context.Context) (<-chan *model.Message, error)
	Close() error
}

type dispatcher struct {
	bus    *gochannel.GoChannel
	logger *slog.Logger
}

// NewDispatcher builds the in-process bus.
func NewDispatcher(logger *slog.Logger) Dispatcher {
	return &dispatcher{
		bus: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermill.NewSlogLogger(logger),
		),
		logger: logger.With("component", "pubsub"),
	}
}

func (d *dispatcher) Publish(ctx context.Context, m *model.Message) error {
	if m == nil {
		return fmt.Errorf("dispatcher: cannot publish nil message")
	}
	payload, err := m.Encode()
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := d.bus.Publish(RoutedTopic, msg); err != nil {
		return fmt.Errorf("dispatcher: publish to %s: %w", RoutedTopic, err)
	}
	return nil
}

func (d *dispatcher) Subscribe(ctx context.Context) (<-chan *model.Message, error) {
	in, err := d.bus.Subscribe(ctx, RoutedTopic)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: subscribe %s: %w", RoutedTopic, err)
	}

	out := make(chan *model.Message, 64)
	go func() {
		defer close(out)
		for msg := range in {
			decoded, err := model.DecodeMessage(msg.Payload)
			if err != nil {
				d.logger.Warn("skipping undecodable bus entry", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (d *dispatcher) Close() error {
	return d.bus.Close()
}
