package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/stretchr/testify/suite"
)

// recordingBus keeps every published event in order.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, evt events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *recordingBus) Revoke(context.Context, uint, uint) error { return nil }
func (b *recordingBus) CloseRoom(context.Context, uint) error     { return nil }
func (b *recordingBus) Close() error                              { return nil }

func (b *recordingBus) all() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func (b *recordingBus) last() events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

type fakeSubscriber struct {
	id     string
	userID uint
}

func (f *fakeSubscriber) SubscriberID() string             { return f.id }
func (f *fakeSubscriber) UserID() uint                     { return f.userID }
func (f *fakeSubscriber) Enqueue(_ []byte) broker.Delivery { return broker.Delivered }
func (f *fakeSubscriber) Evict()                           {}

// inboxSubscriber keeps delivered payloads.
type inboxSubscriber struct {
	fakeSubscriber
	ch chan []byte
}

func newInbox(id string, userID uint) *inboxSubscriber {
	return &inboxSubscriber{fakeSubscriber: fakeSubscriber{id: id, userID: userID}, ch: make(chan []byte, 16)}
}

func (f *inboxSubscriber) Enqueue(payload []byte) broker.Delivery {
	select {
	case f.ch <- payload:
		return broker.Delivered
	default:
		return broker.BufferFull
	}
}

// serviceSuite wires every service over a fresh in-memory database per test.
type serviceSuite struct {
	suite.Suite
	ctx      context.Context
	testDB   *testutil.TestDatabase
	repos    *repository.Repositories
	registry *broker.Registry
	bus      *recordingBus
	journal  *audit.Journal
	members  *service.MembershipService
	ledger   *service.ReadLedger
	rooms    *service.RoomService
	messages *service.MessageService
	auth     *service.AuthService
}

func (s *serviceSuite) SetupTest() {
	s.ctx = context.Background()
	s.testDB = testutil.SetupTestDatabase(s.T())
	s.repos = repository.New(s.testDB.DB)
	s.registry = broker.NewRegistry()
	s.bus = &recordingBus{}

	journal, err := audit.OpenJournal(filepath.Join(s.T().TempDir(), "audit.log"))
	s.Require().NoError(err)
	s.journal = journal

	s.members = service.NewMembershipService(s.repos, s.registry, broker.NewLocalBus(s.registry), audit.NewAuditor(journal, nil), 24*time.Hour)
	s.ledger = service.NewReadLedger(s.repos, s.members)
	s.rooms = service.NewRoomService(s.repos, s.members, s.ledger)
	s.messages = service.NewMessageService(s.repos, s.members, s.ledger, s.bus)
	s.auth = service.NewAuthService(s.repos, "test-secret", time.Hour, "test")
}

func (s *serviceSuite) TearDownTest() {
	_ = s.journal.Close()
	s.testDB.Teardown(s.T())
}

func (s *serviceSuite) user(name string) *models.User {
	return testutil.CreateUser(s.T(), s.testDB.DB, name)
}

func (s *serviceSuite) send(author *models.User, room *models.Room, content string) *events.MessageView {
	view, err := s.messages.Create(s.ctx, author.Identity(), service.CreateMessageInput{RoomID: room.ID, Content: content})
	s.Require().NoError(err)
	return view
}

func (s *serviceSuite) auditActions() []audit.Action {
	entries, err := s.journal.ReadAll()
	s.Require().NoError(err)
	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *serviceSuite) roomExists(id uint) bool {
	var count int64
	s.Require().NoError(s.testDB.DB.Model(&models.Room{}).Where("id = ?", id).Count(&count).Error)
	return count == 1
}
