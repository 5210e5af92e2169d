package service

import (
	"context"

	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/permission"
	"github.com/Baaaki/roomcast/internal/repository"
)

// ReadLedger tracks per-room read markers and derives unread counts.
type ReadLedger struct {
	repos   *repository.Repositories
	members *MembershipService
}

func NewReadLedger(repos *repository.Repositories, members *MembershipService) *ReadLedger {
	return &ReadLedger{repos: repos, members: members}
}

// MarkRead sets the caller's read marker to now, joining public rooms on the
// way.
func (l *ReadLedger) MarkRead(ctx context.Context, id models.Identity, roomID uint) (*Access, error) {
	return l.members.MarkRead(ctx, id, roomID, l.members.now())
}

// UnreadCount counts messages by other users newer than the read marker.
// Anonymous callers and non-members always get 0.
func (l *ReadLedger) UnreadCount(ctx context.Context, userID, roomID uint) (int64, error) {
	if userID == 0 {
		return 0, nil
	}
	membership, err := l.repos.Memberships.GetMembership(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}
	if membership == nil {
		return 0, nil
	}
	return l.unread(ctx, membership)
}

func (l *ReadLedger) unread(ctx context.Context, membership *models.Membership) (int64, error) {
	return l.repos.Messages.CountUnread(ctx, membership.RoomID, membership.UserID, membership.LastReadAt)
}

// RoomUnread is the authorized variant used by the REST surface.
func (l *ReadLedger) RoomUnread(ctx context.Context, id models.Identity, roomID uint) (int64, error) {
	access, err := l.members.Authorize(ctx, id, roomID, permission.ActionRead)
	if err != nil {
		return 0, err
	}
	if access.Membership == nil {
		return 0, nil
	}
	return l.unread(ctx, access.Membership)
}
