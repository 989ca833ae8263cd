package pubsub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-connect/internal/domain/model"
)

func TestPublishSubscribeOrder(t *testing.T) {
	d := NewDispatcher(slog.Default())
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := d.Subscribe(ctx)
	require.NoError(t, err)

	sent := []*model.Message{
		model.NewMessage(model.FeatureChat, model.TypeMessage, map[string]any{"n": 1}),
		model.NewMessage(model.FeatureFeed, model.TypeCreate, map[string]any{"n": 2}),
		model.NewMessage(model.FeatureSearch, model.TypeUpdate, nil),
	}
	for _, m := range sent {
		require.NoError(t, d.Publish(ctx, m))
	}

	for _, want := range sent {
		select {
		case got := <-out:
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Feature, got.Feature)
			assert.Equal(t, want.Type, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %s never delivered", want.ID)
		}
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	d := NewDispatcher(slog.Default())
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out, err := d.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-out:
		assert.False(t, open, "channel must close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed")
	}
}
