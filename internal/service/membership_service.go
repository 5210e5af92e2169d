package service

import (
	"context"
	"time"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/permission"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errRoomNotFound = apperr.NotFound("room not found")

// Access is what a user can see of a room: the room itself and the user's
// membership in it, if any.
type Access struct {
	Room       *models.Room
	Membership *models.Membership
}

func (a *Access) subject(ownerID uint) permission.Subject {
	return permission.Subject{Room: a.Room, Membership: a.Membership, OwnerID: ownerID}
}

// Check returns Forbidden unless id may perform action. ownerID is the author
// of the message or reaction being acted on, 0 for room-level actions.
func (a *Access) Check(id models.Identity, action permission.Action, ownerID uint) error {
	if !permission.Allowed(action, permission.ActorOf(id), a.subject(ownerID)) {
		return apperr.Forbidden()
	}
	return nil
}

func (a *Access) IsMember() bool {
	return a.Membership != nil
}

// LeaveResult describes the side effects of leaving a room.
type LeaveResult struct {
	NewOwnerID  *uint `json:"new_owner_id"`
	RoomDeleted bool  `json:"room_deleted"`
}

// MembershipService is the only writer of membership rows. It answers who may
// read, write and moderate a room and keeps live subscriptions in step with
// memberships: sessions subscribe through it, and leaving or deleting a room
// revokes subscriptions on every node through the bus.
type MembershipService struct {
	repos         *repository.Repositories
	registry      *broker.Registry
	bus           broker.Bus
	auditor       audit.Recorder
	locks         *roomLocks
	invitationTTL time.Duration
	now           func() time.Time
}

func NewMembershipService(repos *repository.Repositories, registry *broker.Registry, bus broker.Bus, auditor audit.Recorder, invitationTTL time.Duration) *MembershipService {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	return &MembershipService{
		repos:         repos,
		registry:      registry,
		bus:           bus,
		auditor:       auditor,
		locks:         newRoomLocks(),
		invitationTTL: invitationTTL,
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// lockRoom serializes mutations of one room across all services sharing this
// index.
func (s *MembershipService) lockRoom(roomID uint) func() {
	return s.locks.Lock(roomID)
}

// RoomsFor returns the rooms a user is subscribed to live: the ones with a
// membership row. Public rooms are browsable but not included.
func (s *MembershipService) RoomsFor(ctx context.Context, userID uint) ([]uint, error) {
	return s.repos.Memberships.ListRoomIDsForUser(ctx, userID)
}

// Subscribe attaches sub to the room's topic on this node if the user still
// holds a membership, and reports whether it did. The check and the subscribe
// run under the room lock, so a concurrent Leave either finds the subscriber
// and revokes it or makes the check fail.
func (s *MembershipService) Subscribe(ctx context.Context, userID, roomID uint, sub broker.Subscriber) (bool, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	membership, err := s.repos.Memberships.GetMembership(ctx, userID, roomID)
	if err != nil {
		return false, err
	}
	if membership == nil {
		return false, nil
	}
	s.registry.Subscribe(roomID, sub)
	return true, nil
}

// revoke drops userID's live subscriptions on room, or all of them when
// userID is 0. It runs under the room lock.
func (s *MembershipService) revoke(ctx context.Context, roomID, userID uint) {
	var err error
	if userID == 0 {
		err = s.bus.CloseRoom(ctx, roomID)
	} else {
		err = s.bus.Revoke(ctx, roomID, userID)
	}
	if err != nil {
		logger.Log.Error("Failed to revoke live subscriptions",
			zap.Uint("room_id", roomID),
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *MembershipService) load(ctx context.Context, repos *repository.Repositories, userID, roomID uint) (*Access, error) {
	room, err := repos.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, errRoomNotFound
	}
	var membership *models.Membership
	if userID != 0 {
		membership, err = repos.Memberships.GetMembership(ctx, userID, roomID)
		if err != nil {
			return nil, err
		}
	}
	return &Access{Room: room, Membership: membership}, nil
}

// Authorize loads the room and checks action. Rooms the user cannot see are
// reported as not found so their existence does not leak.
func (s *MembershipService) Authorize(ctx context.Context, id models.Identity, roomID uint, action permission.Action) (*Access, error) {
	return s.authorize(ctx, s.repos, id, roomID, action)
}

func (s *MembershipService) authorize(ctx context.Context, repos *repository.Repositories, id models.Identity, roomID uint, action permission.Action) (*Access, error) {
	access, err := s.load(ctx, repos, id.UserID, roomID)
	if err != nil {
		return nil, err
	}
	actor := permission.ActorOf(id)
	subject := access.subject(0)
	if !permission.CanRead(actor, subject) && !permission.IsSuperuser(actor, subject) {
		return nil, errRoomNotFound
	}
	if err := access.Check(id, action, 0); err != nil {
		return nil, err
	}
	return access, nil
}

func (s *MembershipService) CanRead(ctx context.Context, id models.Identity, roomID uint) (bool, error) {
	return s.can(ctx, id, roomID, permission.ActionRead)
}

func (s *MembershipService) CanWrite(ctx context.Context, id models.Identity, roomID uint) (bool, error) {
	return s.can(ctx, id, roomID, permission.ActionWrite)
}

func (s *MembershipService) CanModerate(ctx context.Context, id models.Identity, roomID uint) (bool, error) {
	return s.can(ctx, id, roomID, permission.ActionModerate)
}

func (s *MembershipService) can(ctx context.Context, id models.Identity, roomID uint, action permission.Action) (bool, error) {
	_, err := s.Authorize(ctx, id, roomID, action)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindAuthorization):
		return false, nil
	default:
		return false, err
	}
}

// EnsureReadAccess authorizes a read and, for public rooms, joins the user on
// first access with the read marker set to now. Private rooms without a
// membership stay invisible.
func (s *MembershipService) EnsureReadAccess(ctx context.Context, id models.Identity, roomID uint) (*Access, error) {
	access, err := s.Authorize(ctx, id, roomID, permission.ActionRead)
	if err != nil {
		return nil, err
	}
	if access.Membership != nil || id.UserID == 0 {
		return access, nil
	}

	now := s.now()
	membership, created, err := s.repos.Memberships.UpsertMembership(ctx, &models.Membership{
		UserID:     id.UserID,
		RoomID:     roomID,
		LastReadAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if created {
		logger.Log.Info("User joined room on first read",
			zap.Uint("user_id", id.UserID),
			zap.Uint("room_id", roomID),
		)
	}
	access.Membership = membership
	return access, nil
}

// MarkRead moves the user's read marker for the room to at.
func (s *MembershipService) MarkRead(ctx context.Context, id models.Identity, roomID uint, at time.Time) (*Access, error) {
	access, err := s.EnsureReadAccess(ctx, id, roomID)
	if err != nil {
		return nil, err
	}
	if access.Membership == nil {
		return access, nil
	}
	at = at.UTC().Truncate(time.Microsecond)
	if err := s.repos.Memberships.SetLastRead(ctx, access.Membership.ID, at); err != nil {
		return nil, err
	}
	access.Membership.LastReadAt = &at
	return access, nil
}

// Join adds the caller to a public room. Joining twice returns the existing
// membership.
func (s *MembershipService) Join(ctx context.Context, id models.Identity, roomID uint) (*models.Membership, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	access, err := s.Authorize(ctx, id, roomID, permission.ActionRead)
	if err != nil {
		return nil, err
	}
	if access.Membership != nil {
		return access.Membership, nil
	}
	if access.Room.IsPrivate {
		return nil, errRoomNotFound
	}
	return s.addMembership(ctx, id.UserID, roomID)
}

// AddMember invites an existing user into the room directly. Only moderators
// may do this and never in a DM.
func (s *MembershipService) AddMember(ctx context.Context, id models.Identity, roomID uint, username string) (*models.Membership, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	access, err := s.Authorize(ctx, id, roomID, permission.ActionModerate)
	if err != nil {
		return nil, err
	}
	if access.Room.IsDM {
		return nil, apperr.Conflict("cannot add members to a direct message")
	}

	user, err := s.repos.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return s.addMembership(ctx, user.ID, roomID)
}

func (s *MembershipService) addMembership(ctx context.Context, userID, roomID uint) (*models.Membership, error) {
	membership, created, err := s.repos.Memberships.UpsertMembership(ctx, &models.Membership{
		UserID: userID,
		RoomID: roomID,
	})
	if err != nil {
		return nil, err
	}
	if created {
		logger.Log.Info("Membership created",
			zap.Uint("user_id", userID),
			zap.Uint("room_id", roomID),
		)
	}
	return membership, nil
}

// CreateInvitation issues a reusable token valid for the configured TTL.
func (s *MembershipService) CreateInvitation(ctx context.Context, id models.Identity, roomID uint) (*models.Invitation, error) {
	access, err := s.Authorize(ctx, id, roomID, permission.ActionModerate)
	if err != nil {
		return nil, err
	}
	if access.Room.IsDM {
		return nil, apperr.Conflict("cannot invite to a direct message")
	}

	now := s.now()
	inv := &models.Invitation{
		RoomID:    roomID,
		CreatorID: id.UserID,
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.invitationTTL),
	}
	if err := s.repos.Invitations.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	logger.Log.Info("Invitation created",
		zap.Uint("room_id", roomID),
		zap.Uint("creator_id", id.UserID),
		zap.Time("expires_at", inv.ExpiresAt),
	)
	return inv, nil
}

// RedeemInvitation joins the caller to the invitation's room. Tokens stay
// valid until they expire; expired tokens yield Gone.
func (s *MembershipService) RedeemInvitation(ctx context.Context, id models.Identity, token string) (*models.Membership, error) {
	inv, err := s.repos.Invitations.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperr.NotFound("invitation not found")
	}
	if inv.Expired(s.now()) {
		return nil, apperr.Gone("invitation expired")
	}

	unlock := s.lockRoom(inv.RoomID)
	defer unlock()

	room, err := s.repos.Rooms.GetRoom(ctx, inv.RoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, apperr.Gone("invitation expired")
	}
	return s.addMembership(ctx, id.UserID, inv.RoomID)
}

// Leave removes the caller from a room. An owner hands the room to the
// earliest-joined admin, otherwise the earliest-joined member; the last member
// out deletes the room.
func (s *MembershipService) Leave(ctx context.Context, id models.Identity, roomID uint) (*LeaveResult, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	result := &LeaveResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		room, err := tx.Rooms.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return errRoomNotFound
		}
		membership, err := tx.Memberships.GetMembership(ctx, id.UserID, roomID)
		if err != nil {
			return err
		}
		if membership == nil {
			if room.IsPrivate {
				return errRoomNotFound
			}
			return apperr.NotFound("not a member of this room")
		}

		if room.IsOwnedBy(id.UserID) {
			successor, err := tx.Memberships.FindSuccessor(ctx, roomID, id.UserID)
			if err != nil {
				return err
			}
			if successor != nil {
				if err := tx.Rooms.UpdateOwner(ctx, roomID, &successor.UserID); err != nil {
					return err
				}
				result.NewOwnerID = &successor.UserID
			}
		}

		if err := tx.Memberships.DeleteMembership(ctx, membership.ID); err != nil {
			return err
		}

		remaining, err := tx.Memberships.CountMembers(ctx, roomID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Rooms.DeleteRoom(ctx, roomID); err != nil {
				return err
			}
			result.RoomDeleted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.revoke(ctx, roomID, id.UserID)
	if result.RoomDeleted {
		s.revoke(ctx, roomID, 0)
		s.auditor.Record(ctx, audit.Entry{
			Action:  audit.ActionRoomDeleted,
			ActorID: id.UserID,
			RoomID:  roomID,
			Detail:  "last member left",
		})
	}
	if result.NewOwnerID != nil {
		s.auditor.Record(ctx, audit.Entry{
			Action:       audit.ActionOwnershipChanged,
			ActorID:      id.UserID,
			RoomID:       roomID,
			TargetUserID: *result.NewOwnerID,
		})
	}

	logger.Log.Info("User left room",
		zap.Uint("user_id", id.UserID),
		zap.Uint("room_id", roomID),
		zap.Bool("room_deleted", result.RoomDeleted),
	)
	return result, nil
}

// SetAdmin promotes or demotes a member. Owner or superuser only, never in DMs.
func (s *MembershipService) SetAdmin(ctx context.Context, id models.Identity, roomID uint, username string, isAdmin bool) (*models.Membership, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	if _, err := s.Authorize(ctx, id, roomID, permission.ActionManageAdmins); err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	membership, err := s.repos.Memberships.GetMembership(ctx, user.ID, roomID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apperr.NotFound("user is not a member of this room")
	}
	if membership.IsAdmin == isAdmin {
		return membership, nil
	}

	if err := s.repos.Memberships.SetAdmin(ctx, membership.ID, isAdmin); err != nil {
		return nil, err
	}
	membership.IsAdmin = isAdmin

	detail := "demoted"
	if isAdmin {
		detail = "promoted"
	}
	s.auditor.Record(ctx, audit.Entry{
		Action:       audit.ActionAdminChanged,
		ActorID:      id.UserID,
		RoomID:       roomID,
		TargetUserID: user.ID,
		Detail:       detail,
	})
	return membership, nil
}

func (s *MembershipService) ListMembers(ctx context.Context, id models.Identity, roomID uint) ([]models.Membership, error) {
	if _, err := s.Authorize(ctx, id, roomID, permission.ActionRead); err != nil {
		return nil, err
	}
	return s.repos.Memberships.ListMembers(ctx, roomID)
}
