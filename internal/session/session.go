// Package session runs one live websocket connection: it subscribes the
// connection to its rooms, decodes inbound frames, hands mutations to the
// message pipeline and writes room events back out.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a frame to the peer
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	DefaultSendBuffer = 256

	// CloseUnauthorized rejects a connection without a valid identity.
	CloseUnauthorized = 4401
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Membership resolves which rooms a session may subscribe to. Subscribe
// attaches the session to a room topic only while the user is a member.
type Membership interface {
	RoomsFor(ctx context.Context, userID uint) ([]uint, error)
	EnsureReadAccess(ctx context.Context, id models.Identity, roomID uint) (*service.Access, error)
	Subscribe(ctx context.Context, userID, roomID uint, sub broker.Subscriber) (bool, error)
}

// Pipeline performs message mutations. Results reach the caller through the
// room topic, not through the return values.
type Pipeline interface {
	Create(ctx context.Context, id models.Identity, in service.CreateMessageInput) (*events.MessageView, error)
	Edit(ctx context.Context, id models.Identity, messageID uint, content string) (*events.MessageView, error)
	Delete(ctx context.Context, id models.Identity, messageID uint) (*events.MessageDeleted, error)
	React(ctx context.Context, id models.Identity, messageID uint, value string) (*events.ReactionUpdated, error)
}

type Session struct {
	id       string
	identity models.Identity
	conn     Conn
	registry *broker.Registry
	members  Membership
	pipeline Pipeline

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string

	state atomic.Int32

	mu    sync.Mutex
	rooms map[uint]struct{}
}

// New binds a connection to an identity. A zero identity is rejected when
// the session runs.
func New(conn Conn, identity models.Identity, registry *broker.Registry, members Membership, pipeline Pipeline, sendBuffer int) *Session {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		registry: registry,
		members:  members,
		pipeline: pipeline,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[uint]struct{}),
	}
}

func (s *Session) SubscriberID() string { return s.id }
func (s *Session) UserID() uint         { return s.identity.UserID }
func (s *Session) State() State         { return State(s.state.Load()) }

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Enqueue queues an outbound frame without blocking.
func (s *Session) Enqueue(payload []byte) broker.Delivery {
	select {
	case <-s.done:
		return broker.Closed
	default:
	}
	select {
	case s.send <- payload:
		return broker.Delivered
	default:
		return broker.BufferFull
	}
}

// Evict closes a session the registry dropped for falling behind.
func (s *Session) Evict() {
	s.shutdown(websocket.CloseTryAgainLater, "slow consumer")
}

func (s *Session) shutdown(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

// Reject closes a connection that never authenticated.
func Reject(conn Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized"))
	_ = conn.Close()
}

// Run drives the session until the connection ends. Every room the session
// subscribed to is released before Run returns.
func (s *Session) Run(ctx context.Context) {
	if s.identity.UserID == 0 {
		logger.Log.Warn("Rejected unauthenticated websocket")
		Reject(s.conn)
		s.setState(StateClosed)
		return
	}
	s.setState(StateAuthenticated)

	metrics.SessionOpened()
	connectedAt := time.Now()
	defer func() {
		s.unsubscribeAll()
		s.setState(StateClosed)
		metrics.SessionClosed()
		logger.Log.Info("Client disconnected",
			zap.String("session_id", s.id),
			zap.Uint("user_id", s.identity.UserID),
			zap.Int("close_code", s.closeCode),
			zap.Duration("session_duration", time.Since(connectedAt).Round(time.Second)),
		)
	}()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writePump()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.shutdown(websocket.CloseGoingAway, "server shutting down")
		case <-s.done:
		}
	}()

	if err := s.subscribeAll(ctx); err != nil {
		logger.Log.Error("Failed to subscribe session",
			zap.Uint("user_id", s.identity.UserID),
			zap.Error(err),
		)
		s.shutdown(websocket.CloseInternalServerErr, "subscription failed")
		writer.Wait()
		return
	}
	s.setState(StateSubscribed)

	logger.Log.Info("Client connected",
		zap.String("session_id", s.id),
		zap.Uint("user_id", s.identity.UserID),
		zap.Int("rooms", s.roomCount()),
	)

	s.readPump(context.WithoutCancel(ctx))
	writer.Wait()
}

// subscribeAll subscribes to every room the user belongs to right now. A
// room left between listing and subscribing is skipped.
func (s *Session) subscribeAll(ctx context.Context) error {
	rooms, err := s.members.RoomsFor(ctx, s.identity.UserID)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if _, err := s.subscribe(ctx, room); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) subscribe(ctx context.Context, room uint) (bool, error) {
	ok, err := s.members.Subscribe(ctx, s.identity.UserID, room, s)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
	return true, nil
}

func (s *Session) unsubscribeAll() {
	s.mu.Lock()
	rooms := make([]uint, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = make(map[uint]struct{})
	s.mu.Unlock()

	for _, room := range rooms {
		s.registry.Unsubscribe(room, s)
	}
}

func (s *Session) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Log.Debug("WebSocket read error", zap.String("session_id", s.id), zap.Error(err))
			}
			s.shutdown(websocket.CloseNormalClosure, "")
			return
		}

		if fatal := s.handleFrame(ctx, data); fatal != nil {
			logger.Log.Warn("Closing session on protocol error",
				zap.String("session_id", s.id),
				zap.Uint("user_id", s.identity.UserID),
				zap.Error(fatal),
			)
			s.shutdown(websocket.CloseProtocolError, fatal.Error())
			return
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeText))
			return
		}
	}
}
