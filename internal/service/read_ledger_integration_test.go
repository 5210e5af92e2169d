package service_test

import (
	"testing"
	"time"

	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/stretchr/testify/suite"
)

type ReadLedgerTestSuite struct {
	serviceSuite
}

func TestReadLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(ReadLedgerTestSuite))
}

func (s *ReadLedgerTestSuite) unread(userID, roomID uint) int64 {
	count, err := s.ledger.UnreadCount(s.ctx, userID, roomID)
	s.Require().NoError(err)
	return count
}

func (s *ReadLedgerTestSuite) TestFreshMembershipCountsOthersMessages() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "general", alice, false)
	testutil.AddMember(s.T(), s.testDB.DB, room, bob, false)

	past := time.Now().Add(-time.Hour)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "one", past)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "two", past.Add(time.Second))
	testutil.CreateMessage(s.T(), s.testDB.DB, room, bob, "mine", past.Add(2*time.Second))

	s.Equal(int64(2), s.unread(bob.ID, room.ID))
	s.Equal(int64(1), s.unread(alice.ID, room.ID))

	_, err := s.ledger.MarkRead(s.ctx, bob.Identity(), room.ID)
	s.Require().NoError(err)
	s.Zero(s.unread(bob.ID, room.ID))
}

func (s *ReadLedgerTestSuite) TestFirstReadOfPublicRoom() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "general", alice, false)

	past := time.Now().Add(-time.Hour)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "old one", past)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "old two", past.Add(time.Second))

	s.Zero(s.unread(bob.ID, room.ID))

	page, err := s.messages.List(s.ctx, bob.Identity(), room.ID, nil, 0)
	s.Require().NoError(err)
	s.Len(page, 2)

	membership, err := s.repos.Memberships.GetMembership(s.ctx, bob.ID, room.ID)
	s.Require().NoError(err)
	s.Require().NotNil(membership)
	s.Require().NotNil(membership.LastReadAt)
	s.Zero(s.unread(bob.ID, room.ID))

	future := time.Now().Add(time.Minute)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "new one", future)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "new two", future.Add(time.Second))
	s.Equal(int64(2), s.unread(bob.ID, room.ID))
}

func (s *ReadLedgerTestSuite) TestUnreadIsZeroWithoutMembership() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "general", alice, false)
	testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "hello", time.Now())

	s.Zero(s.unread(0, room.ID))
	s.Zero(s.unread(bob.ID, room.ID))
}

func (s *ReadLedgerTestSuite) TestRoomUnreadHidesPrivateRooms() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "secret", alice, true)

	_, err := s.ledger.RoomUnread(s.ctx, bob.Identity(), room.ID)
	s.Require().Error(err)
}
