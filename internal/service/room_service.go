package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/permission"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/pkg/logger"
	"go.uber.org/zap"
)

const (
	dmNamePrefix      = "dm:"
	maxRoomNameLength = 100
)

// RoomSummary is a room as listed to a user.
type RoomSummary struct {
	*models.Room
	LastMessage *events.LastMessage `json:"last_message"`
	UnreadCount int64               `json:"unread_count"`
	IsMember    bool                `json:"is_member"`
}

type CreateRoomInput struct {
	Name        string
	Description string
	AvatarURL   string
	IsPrivate   bool
}

type RoomService struct {
	repos   *repository.Repositories
	members *MembershipService
	ledger  *ReadLedger
}

func NewRoomService(repos *repository.Repositories, members *MembershipService, ledger *ReadLedger) *RoomService {
	return &RoomService{repos: repos, members: members, ledger: ledger}
}

// CreateRoom creates a group room owned by the caller, who becomes its first
// member.
func (s *RoomService) CreateRoom(ctx context.Context, id models.Identity, in CreateRoomInput) (*models.Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, apperr.Validation("room name must be between 1 and 100 characters")
	}
	if strings.HasPrefix(name, dmNamePrefix) {
		return nil, apperr.Validation("room name is reserved")
	}

	existing, err := s.repos.Rooms.GetRoomByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("room name already taken")
	}

	ownerID := id.UserID
	room := &models.Room{
		Name:        name,
		Description: in.Description,
		AvatarURL:   in.AvatarURL,
		IsPrivate:   in.IsPrivate,
		OwnerID:     &ownerID,
	}
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Rooms.CreateRoom(ctx, room); err != nil {
			return err
		}
		now := s.members.now()
		_, _, err := tx.Memberships.UpsertMembership(ctx, &models.Membership{
			UserID:     id.UserID,
			RoomID:     room.ID,
			LastReadAt: &now,
		})
		return err
	})
	if err != nil {
		if taken, _ := s.repos.Rooms.GetRoomByName(ctx, name); taken != nil {
			return nil, apperr.Conflict("room name already taken")
		}
		return nil, err
	}

	logger.Log.Info("Room created",
		zap.Uint("room_id", room.ID),
		zap.String("name", room.Name),
		zap.Uint("owner_id", id.UserID),
		zap.Bool("private", room.IsPrivate),
	)
	return room, nil
}

// GetOrCreateDM returns the DM room between the caller and username, creating
// it on first use. Messaging yourself yields a one-member room.
func (s *RoomService) GetOrCreateDM(ctx context.Context, id models.Identity, username string) (*models.Room, bool, error) {
	other, err := s.repos.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if other == nil {
		return nil, false, apperr.NotFound("user not found")
	}

	key := models.DMKeyFor(id.UserID, other.ID)
	if room, err := s.repos.Rooms.GetDMRoom(ctx, key); err != nil || room != nil {
		return room, false, err
	}

	room := &models.Room{
		Name:      dmNamePrefix + key,
		IsPrivate: true,
		IsDM:      true,
		DMKey:     &key,
	}
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Rooms.CreateRoom(ctx, room); err != nil {
			return err
		}
		participants := []uint{id.UserID}
		if other.ID != id.UserID {
			participants = append(participants, other.ID)
		}
		for _, userID := range participants {
			if _, _, err := tx.Memberships.UpsertMembership(ctx, &models.Membership{UserID: userID, RoomID: room.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// another request created it first
		if existing, _ := s.repos.Rooms.GetDMRoom(ctx, key); existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	logger.Log.Info("DM room created",
		zap.Uint("room_id", room.ID),
		zap.Uint("user_id", id.UserID),
		zap.Uint("other_user_id", other.ID),
	)
	return room, true, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id models.Identity, roomID uint) (*RoomSummary, error) {
	access, err := s.members.Authorize(ctx, id, roomID, permission.ActionRead)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, id.UserID, access.Room, access.IsMember())
}

// ListRooms returns every room the user can browse: public rooms and rooms
// they belong to, each with its last message preview and unread count.
func (s *RoomService) ListRooms(ctx context.Context, id models.Identity) ([]RoomSummary, error) {
	defer logger.LogDuration("rooms.list", zap.Uint("user_id", id.UserID))()

	rooms, err := s.repos.Rooms.ListBrowsableRooms(ctx, id.UserID)
	if err != nil {
		return nil, err
	}

	member := make(map[uint]bool)
	if id.UserID != 0 {
		ids, err := s.members.RoomsFor(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		for _, roomID := range ids {
			member[roomID] = true
		}
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for i := range rooms {
		summary, err := s.summarize(ctx, id.UserID, &rooms[i], member[rooms[i].ID])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

func (s *RoomService) summarize(ctx context.Context, userID uint, room *models.Room, isMember bool) (*RoomSummary, error) {
	latest, err := s.repos.Messages.LatestMessage(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	summary := &RoomSummary{Room: room, LastMessage: events.Preview(latest), IsMember: isMember}
	if isMember {
		summary.UnreadCount, err = s.ledger.UnreadCount(ctx, userID, room.ID)
		if err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// DeleteRoom removes a room with everything in it and drops its live topic.
func (s *RoomService) DeleteRoom(ctx context.Context, id models.Identity, roomID uint) error {
	unlock := s.members.lockRoom(roomID)
	defer unlock()

	if _, err := s.members.Authorize(ctx, id, roomID, permission.ActionDeleteRoom); err != nil {
		return err
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return tx.Rooms.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		return err
	}

	s.members.revoke(ctx, roomID, 0)
	s.members.auditor.Record(ctx, audit.Entry{
		Action:  audit.ActionRoomDeleted,
		ActorID: id.UserID,
		RoomID:  roomID,
	})

	logger.Log.Info("Room deleted",
		zap.Uint("room_id", roomID),
		zap.Uint("actor_id", id.UserID),
	)
	return nil
}
