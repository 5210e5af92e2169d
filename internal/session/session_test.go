package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeMembership struct {
	registry *broker.Registry
	rooms    []uint
	readable map[uint]bool
}

func (f *fakeMembership) RoomsFor(_ context.Context, _ uint) ([]uint, error) {
	return f.rooms, nil
}

func (f *fakeMembership) EnsureReadAccess(_ context.Context, _ models.Identity, roomID uint) (*service.Access, error) {
	if !f.readable[roomID] {
		return nil, apperr.NotFound("room not found")
	}
	return &service.Access{Room: &models.Room{ID: roomID}}, nil
}

func (f *fakeMembership) Subscribe(_ context.Context, _ uint, roomID uint, sub broker.Subscriber) (bool, error) {
	f.registry.Subscribe(roomID, sub)
	return true, nil
}

// fakePipeline publishes created messages straight to the bus.
type fakePipeline struct {
	bus broker.Bus

	mu      sync.Mutex
	nextID  uint
	err     error
	deleted []uint
}

func (f *fakePipeline) Create(ctx context.Context, id models.Identity, in service.CreateMessageInput) (*events.MessageView, error) {
	f.mu.Lock()
	if f.err != nil {
		defer f.mu.Unlock()
		return nil, f.err
	}
	f.nextID++
	view := events.MessageView{
		ID:      f.nextID,
		Room:    in.RoomID,
		User:    events.UserSummary{ID: id.UserID, Username: id.Username},
		Content: in.Content,
	}
	f.mu.Unlock()

	if err := f.bus.Publish(ctx, events.NewMessageCreated(view)); err != nil {
		return nil, err
	}
	return &view, nil
}

func (f *fakePipeline) Edit(context.Context, models.Identity, uint, string) (*events.MessageView, error) {
	return nil, apperr.Forbidden()
}

func (f *fakePipeline) Delete(_ context.Context, _ models.Identity, messageID uint) (*events.MessageDeleted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return &events.MessageDeleted{MessageID: messageID}, nil
}

func (f *fakePipeline) React(context.Context, models.Identity, uint, string) (*events.ReactionUpdated, error) {
	return nil, apperr.NotFound("message not found")
}

type SessionTestSuite struct {
	suite.Suite
	registry *broker.Registry
	members  *fakeMembership
	pipeline *fakePipeline
	server   *httptest.Server

	mu       sync.Mutex
	identity models.Identity
	sessions chan *Session
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.registry = broker.NewRegistry()
	s.members = &fakeMembership{registry: s.registry, rooms: []uint{1, 2}, readable: map[uint]bool{1: true, 2: true, 5: true}}
	s.pipeline = &fakePipeline{bus: broker.NewLocalBus(s.registry)}
	s.setIdentity(models.Identity{UserID: 7, Username: "alice"})
	s.sessions = make(chan *Session, 1)

	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := New(conn, s.currentIdentity(), s.registry, s.members, s.pipeline, 16)
		s.sessions <- sess
		sess.Run(r.Context())
	}))
}

func (s *SessionTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SessionTestSuite) setIdentity(id models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

func (s *SessionTestSuite) currentIdentity() models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *SessionTestSuite) dial() (*websocket.Conn, *Session) {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })

	select {
	case sess := <-s.sessions:
		return conn, sess
	case <-time.After(2 * time.Second):
		s.FailNow("session was not created")
		return nil, nil
	}
}

func (s *SessionTestSuite) waitSubscribed(sess *Session) {
	s.Require().Eventually(func() bool { return sess.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)
}

func (s *SessionTestSuite) readJSON(conn *websocket.Conn) map[string]interface{} {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var frame map[string]interface{}
	s.Require().NoError(conn.ReadJSON(&frame))
	return frame
}

func (s *SessionTestSuite) TestUnauthenticatedConnectionIsRejected() {
	s.setIdentity(models.Identity{})
	conn, sess := s.dial()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, CloseUnauthorized), "unexpected error: %v", err)
	s.Eventually(func() bool { return sess.State() == StateClosed }, time.Second, 5*time.Millisecond)
	s.Zero(s.registry.TopicCount())
}

func (s *SessionTestSuite) TestSubscribesToMemberRoomsOnConnect() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Equal(1, s.registry.SubscriberCount(1))
	s.Equal(1, s.registry.SubscriberCount(2))
	s.Zero(s.registry.SubscriberCount(5))

	s.Equal(1, s.registry.Publish(2, []byte(`{"type":"message_deleted","room":2}`)))
	frame := s.readJSON(conn)
	s.Equal("message_deleted", frame["type"])
	s.Equal(float64(2), frame["room"])
}

func (s *SessionTestSuite) TestSentMessageComesBackThroughTopic() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "send_message", "room": 1, "content": "hi"}))

	frame := s.readJSON(conn)
	s.Equal("message_created", frame["type"])
	message, ok := frame["message"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("hi", message["content"])
}

func (s *SessionTestSuite) TestRejectedFrameGetsErrorReply() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "edit_message", "message_id": 3, "content": "x"}))
	frame := s.readJSON(conn)
	s.Equal("error", frame["type"])
	s.Equal("forbidden", frame["code"])

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "send_message", "content": "no room"}))
	frame = s.readJSON(conn)
	s.Equal("validation", frame["code"])

	// the connection survives non-fatal errors
	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "delete_message", "message_id": 9}))
	s.Eventually(func() bool {
		s.pipeline.mu.Lock()
		defer s.pipeline.mu.Unlock()
		return len(s.pipeline.deleted) == 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Equal(StateSubscribed, sess.State())
}

func (s *SessionTestSuite) TestUnknownFrameClosesConnection() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "shout"}))

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseProtocolError), "unexpected error: %v", err)

	s.Eventually(func() bool { return sess.State() == StateClosed }, 2*time.Second, 5*time.Millisecond)
	s.Zero(s.registry.SubscriberCount(1))
	s.Zero(s.registry.SubscriberCount(2))
}

func (s *SessionTestSuite) TestMalformedFrameClosesConnection() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseProtocolError), "unexpected error: %v", err)
}

func (s *SessionTestSuite) TestDisconnectReleasesSubscriptions() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.Close())

	s.Eventually(func() bool { return sess.State() == StateClosed }, 2*time.Second, 5*time.Millisecond)
	s.Zero(s.registry.TopicCount())
}

func (s *SessionTestSuite) TestSubscribeFrame() {
	conn, sess := s.dial()
	s.waitSubscribed(sess)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "subscribe", "room": 5}))
	s.Eventually(func() bool { return s.registry.SubscriberCount(5) == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{"type": "subscribe", "room": 6}))
	frame := s.readJSON(conn)
	s.Equal("error", frame["type"])
	s.Equal("not_found", frame["code"])
	s.Zero(s.registry.SubscriberCount(6))
}

func (s *SessionTestSuite) TestServerShutdownClosesSessions() {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &fakeConn{reads: make(chan []byte)}
	sess := New(conn, s.currentIdentity(), s.registry, s.members, s.pipeline, 4)

	finished := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(finished)
	}()
	s.waitSubscribed(sess)

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		s.FailNow("session did not stop")
	}
	s.Equal(websocket.CloseGoingAway, conn.closeCode())
	s.Zero(s.registry.TopicCount())
}

// fakeConn feeds reads from a channel and records close frames.
type fakeConn struct {
	reads chan []byte

	mu     sync.Mutex
	closed bool
	frames [][]byte
	closes []int
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	switch messageType {
	case websocket.CloseMessage:
		code := websocket.CloseNoStatusReceived
		if len(data) >= 2 {
			code = int(data[0])<<8 | int(data[1])
		}
		c.closes = append(c.closes, code)
	case websocket.TextMessage:
		c.frames = append(c.frames, data)
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) == 0 {
		return 0
	}
	return c.closes[0]
}

func TestEnqueueDoesNotBlockAndEvictionCloses(t *testing.T) {
	registry := broker.NewRegistry()
	conn := &fakeConn{reads: make(chan []byte)}
	sess := New(conn, models.Identity{UserID: 1}, registry, &fakeMembership{}, &fakePipeline{}, 1)
	registry.Subscribe(3, sess)

	assert.Equal(t, 1, registry.Publish(3, []byte("first")))
	assert.Equal(t, 0, registry.Publish(3, []byte("second")))
	assert.Zero(t, registry.SubscriberCount(3))

	select {
	case <-sess.done:
	default:
		t.Fatal("evicted session should be shutting down")
	}
	assert.Equal(t, websocket.CloseTryAgainLater, sess.closeCode)
	assert.Equal(t, broker.Closed, sess.Enqueue([]byte("late")))
}

// leavingMembership makes the user leave a room right after the room list is
// read and before the session subscribes to it.
type leavingMembership struct {
	*service.MembershipService
	leaver models.Identity
	room   uint
}

func (m *leavingMembership) RoomsFor(ctx context.Context, userID uint) ([]uint, error) {
	rooms, err := m.MembershipService.RoomsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := m.MembershipService.Leave(ctx, m.leaver, m.room); err != nil {
		return nil, err
	}
	return rooms, nil
}

func TestLeaveWhileConnectingDoesNotSubscribe(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	defer testDB.Teardown(t)

	repos := repository.New(testDB.DB)
	registry := broker.NewRegistry()
	members := service.NewMembershipService(repos, registry, broker.NewLocalBus(registry), nil, time.Hour)

	alice := testutil.CreateUser(t, testDB.DB, "alice")
	bob := testutil.CreateUser(t, testDB.DB, "bob")
	secret := testutil.CreateRoom(t, testDB.DB, "secret", alice, true)
	testutil.AddMember(t, testDB.DB, secret, bob, false)

	conn := &fakeConn{reads: make(chan []byte)}
	membership := &leavingMembership{MembershipService: members, leaver: bob.Identity(), room: secret.ID}
	sess := New(conn, bob.Identity(), registry, membership, &fakePipeline{}, 4)

	finished := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(finished)
	}()
	require.Eventually(t, func() bool { return sess.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)

	canRead, err := members.CanRead(context.Background(), bob.Identity(), secret.ID)
	require.NoError(t, err)
	assert.False(t, canRead)
	assert.Zero(t, registry.SubscriberCount(secret.ID))
	assert.Zero(t, registry.Publish(secret.ID, []byte(`{"type":"message_created"}`)))

	require.NoError(t, conn.Close())
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestRejectSendsUnauthorizedClose(t *testing.T) {
	conn := &fakeConn{reads: make(chan []byte)}
	Reject(conn)

	require.Equal(t, CloseUnauthorized, conn.closeCode())
	assert.True(t, conn.closed)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "closed", StateClosed.String())
}
