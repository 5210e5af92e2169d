package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomChannelPrefix = "chat:room:"
	// controlChannel falls under the room pattern: revocations and room
	// events reach a node as one ordered stream.
	controlChannel = roomChannelPrefix + "control"
)

type controlOp string

const (
	opRevoke    controlOp = "revoke"
	opCloseRoom controlOp = "close_room"
)

type controlMessage struct {
	Op     controlOp `json:"op"`
	Room   uint      `json:"room"`
	UserID uint      `json:"user_id,omitempty"`
}

// RedisBus relays room events through Redis pub/sub so every node's registry
// sees events produced on any node. Publishing is synchronous, so events of a
// room published by one caller keep their order. Revocations travel on the
// same subscription and are applied to the local registry before they are
// published.
type RedisBus struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	registry *Registry
	done     chan struct{}
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisBus subscribes to all room channels and starts relaying into registry.
func NewRedisBus(ctx context.Context, client *redis.Client, registry *Registry) (*RedisBus, error) {
	pubsub := client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker.NewRedisBus subscribe: %w", err)
	}

	b := &RedisBus{
		client:   client,
		pubsub:   pubsub,
		registry: registry,
		done:     make(chan struct{}),
	}
	go b.relay()
	return b, nil
}

func roomChannel(room uint) string {
	return roomChannelPrefix + strconv.FormatUint(uint64(room), 10)
}

func (b *RedisBus) Publish(ctx context.Context, evt events.Event) error {
	data, err := events.Encode(evt)
	if err != nil {
		return fmt.Errorf("broker.RedisBus encode: %w", err)
	}
	if err := b.client.Publish(ctx, roomChannel(evt.RoomID()), data).Err(); err != nil {
		return fmt.Errorf("broker.RedisBus publish: %w", err)
	}
	metrics.EventPublished(string(evt.EventType()))
	return nil
}

func (b *RedisBus) Revoke(ctx context.Context, room, userID uint) error {
	b.registry.UnsubscribeUser(room, userID)
	return b.control(ctx, controlMessage{Op: opRevoke, Room: room, UserID: userID})
}

func (b *RedisBus) CloseRoom(ctx context.Context, room uint) error {
	b.registry.CloseTopic(room)
	return b.control(ctx, controlMessage{Op: opCloseRoom, Room: room})
}

func (b *RedisBus) control(ctx context.Context, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker.RedisBus encode control: %w", err)
	}
	if err := b.client.Publish(ctx, controlChannel, data).Err(); err != nil {
		return fmt.Errorf("broker.RedisBus publish control: %w", err)
	}
	return nil
}

func (b *RedisBus) applyControl(payload string) {
	var msg controlMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Log.Warn("Ignoring malformed control message", zap.Error(err))
		return
	}
	switch msg.Op {
	case opRevoke:
		b.registry.UnsubscribeUser(msg.Room, msg.UserID)
	case opCloseRoom:
		b.registry.CloseTopic(msg.Room)
	default:
		logger.Log.Warn("Ignoring unknown control message", zap.String("op", string(msg.Op)))
	}
}

func (b *RedisBus) relay() {
	defer close(b.done)

	for msg := range b.pubsub.Channel() {
		if msg.Channel == controlChannel {
			b.applyControl(msg.Payload)
			continue
		}
		room, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, roomChannelPrefix), 10, 64)
		if err != nil {
			logger.Log.Warn("Ignoring message on unexpected channel",
				zap.String("channel", msg.Channel),
			)
			continue
		}
		b.registry.Publish(uint(room), []byte(msg.Payload))
	}
}

// Close stops the relay. The redis client itself is owned by the caller.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
