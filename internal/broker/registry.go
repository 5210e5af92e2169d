package broker

import (
	"sync"

	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/pkg/logger"
	"go.uber.org/zap"
)

// Delivery is the outcome of offering a payload to a subscriber.
type Delivery int

const (
	Delivered Delivery = iota
	// BufferFull means the subscriber fell behind and gets evicted.
	BufferFull
	// Closed means the subscriber is already shutting down. It is removed
	// without being evicted again.
	Closed
)

// Subscriber is a live connection that receives room events.
type Subscriber interface {
	SubscriberID() string
	UserID() uint
	// Enqueue must not block.
	Enqueue(payload []byte) Delivery
	// Evict is called once the registry has dropped a subscriber for backpressure.
	Evict()
}

type topic struct {
	mu   sync.Mutex
	subs map[string]Subscriber
}

// Registry maps rooms to their live subscribers. It holds no persistent state
// and is rebuilt from memberships as sessions connect.
type Registry struct {
	mu     sync.RWMutex
	topics map[uint]*topic
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[uint]*topic)}
}

// Subscribe adds s to the room topic. Subscribing twice is a no-op; the
// return value reports whether s was newly added.
func (r *Registry) Subscribe(room uint, s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[room]
	if !ok {
		t = &topic{subs: make(map[string]Subscriber)}
		r.topics[room] = t
		metrics.SetTopics(len(r.topics))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.subs[s.SubscriberID()]; exists {
		return false
	}
	t.subs[s.SubscriberID()] = s
	return true
}

// Unsubscribe removes s from the room topic. Once it returns, no publish
// delivers to s for that room.
func (r *Registry) Unsubscribe(room uint, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(room, func(sub Subscriber) bool { return sub.SubscriberID() == s.SubscriberID() })
}

// UnsubscribeUser removes every subscriber of userID from the room topic and
// returns how many were removed.
func (r *Registry) UnsubscribeUser(room, userID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(room, func(sub Subscriber) bool { return sub.UserID() == userID })
}

// CloseTopic drops all subscribers of a room, used when the room is deleted.
func (r *Registry) CloseTopic(room uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(room, func(Subscriber) bool { return true })
}

func (r *Registry) removeLocked(room uint, match func(Subscriber) bool) int {
	t, ok := r.topics[room]
	if !ok {
		return 0
	}

	t.mu.Lock()
	removed := 0
	for id, sub := range t.subs {
		if match(sub) {
			delete(t.subs, id)
			removed++
		}
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		delete(r.topics, room)
		metrics.SetTopics(len(r.topics))
	}
	return removed
}

// Publish enqueues payload to every subscriber of room and returns the number
// of deliveries. Subscribers with a full buffer are removed and evicted; closed
// ones are only removed. The publisher never waits on either.
func (r *Registry) Publish(room uint, payload []byte) int {
	r.mu.RLock()
	t, ok := r.topics[room]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	var slow []Subscriber
	delivered, removed := 0, 0

	t.mu.Lock()
	for id, sub := range t.subs {
		switch sub.Enqueue(payload) {
		case Delivered:
			delivered++
			continue
		case BufferFull:
			slow = append(slow, sub)
		}
		delete(t.subs, id)
		removed++
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty && removed > 0 {
		r.mu.Lock()
		t.mu.Lock()
		if len(t.subs) == 0 && r.topics[room] == t {
			delete(r.topics, room)
			metrics.SetTopics(len(r.topics))
		}
		t.mu.Unlock()
		r.mu.Unlock()
	}

	for _, sub := range slow {
		logger.Log.Warn("Dropping slow subscriber",
			zap.Uint("room_id", room),
			zap.String("subscriber_id", sub.SubscriberID()),
			zap.Uint("user_id", sub.UserID()),
		)
		metrics.SubscriberEvicted()
		sub.Evict()
	}

	metrics.Delivered(delivered)
	return delivered
}

func (r *Registry) SubscriberCount(room uint) int {
	r.mu.RLock()
	t, ok := r.topics[room]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
