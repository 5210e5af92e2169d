package broker

import (
	"context"
	"fmt"

	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/metrics"
)

// Bus carries room events from the message pipeline to subscribers, and
// subscription revocations from the membership index to every node.
type Bus interface {
	Publish(ctx context.Context, evt events.Event) error
	// Revoke drops every live subscription userID holds on room.
	Revoke(ctx context.Context, room, userID uint) error
	// CloseRoom drops every live subscription on room.
	CloseRoom(ctx context.Context, room uint) error
	Close() error
}

// LocalBus delivers straight into the in-process registry (single node).
type LocalBus struct {
	registry *Registry
}

func NewLocalBus(registry *Registry) *LocalBus {
	return &LocalBus{registry: registry}
}

func (b *LocalBus) Publish(_ context.Context, evt events.Event) error {
	data, err := events.Encode(evt)
	if err != nil {
		return fmt.Errorf("broker.LocalBus encode: %w", err)
	}
	metrics.EventPublished(string(evt.EventType()))
	b.registry.Publish(evt.RoomID(), data)
	return nil
}

func (b *LocalBus) Revoke(_ context.Context, room, userID uint) error {
	b.registry.UnsubscribeUser(room, userID)
	return nil
}

func (b *LocalBus) CloseRoom(_ context.Context, room uint) error {
	b.registry.CloseTopic(room)
	return nil
}

func (b *LocalBus) Close() error {
	return nil
}
