// Package permission evaluates room and message capabilities as pure rules
// over an actor and a subject. Rules compose with And/Or.
package permission

import "github.com/Baaaki/roomcast/internal/models"

type Action string

const (
	ActionRead           Action = "read"
	ActionWrite          Action = "write"
	ActionModerate       Action = "moderate"
	ActionManageAdmins   Action = "manage_admins"
	ActionDeleteRoom     Action = "delete_room"
	ActionEditMessage    Action = "edit_message"
	ActionDeleteMessage  Action = "delete_message"
	ActionChangeReaction Action = "change_reaction"
)

type Actor struct {
	UserID    uint
	Superuser bool
}

func ActorOf(id models.Identity) Actor {
	return Actor{UserID: id.UserID, Superuser: id.IsSuperuser}
}

// Subject is what the actor wants to act on. Membership is the actor's own
// membership in Room, nil when there is none.
type Subject struct {
	Room       *models.Room
	Membership *models.Membership
	OwnerID    uint // author of a message or owner of a reaction
}

type Rule func(a Actor, s Subject) bool

func And(rules ...Rule) Rule {
	return func(a Actor, s Subject) bool {
		for _, rule := range rules {
			if !rule(a, s) {
				return false
			}
		}
		return true
	}
}

func Or(rules ...Rule) Rule {
	return func(a Actor, s Subject) bool {
		for _, rule := range rules {
			if rule(a, s) {
				return true
			}
		}
		return false
	}
}

func Not(rule Rule) Rule {
	return func(a Actor, s Subject) bool { return !rule(a, s) }
}

var (
	IsSuperuser Rule = func(a Actor, _ Subject) bool { return a.Superuser }

	IsPublicRoom Rule = func(_ Actor, s Subject) bool { return s.Room != nil && !s.Room.IsPrivate }

	IsDMRoom Rule = func(_ Actor, s Subject) bool { return s.Room != nil && s.Room.IsDM }

	IsMember Rule = func(a Actor, s Subject) bool {
		return s.Membership != nil && s.Membership.UserID == a.UserID && s.Room != nil && s.Membership.RoomID == s.Room.ID
	}

	IsRoomOwner Rule = func(a Actor, s Subject) bool { return s.Room != nil && s.Room.IsOwnedBy(a.UserID) }

	IsRoomAdmin Rule = And(IsMember, func(_ Actor, s Subject) bool { return s.Membership.IsAdmin })

	IsOwnerOfSubject Rule = func(a Actor, s Subject) bool { return s.OwnerID != 0 && s.OwnerID == a.UserID }
)

var (
	CanRead     = Or(IsPublicRoom, IsMember)
	CanWrite    = CanRead
	CanModerate = Or(IsRoomOwner, IsRoomAdmin, IsSuperuser)
)

var policy = map[Action]Rule{
	ActionRead:           CanRead,
	ActionWrite:          CanWrite,
	ActionModerate:       CanModerate,
	ActionManageAdmins:   And(Not(IsDMRoom), Or(IsRoomOwner, IsSuperuser)),
	ActionDeleteRoom:     Or(IsRoomOwner, IsSuperuser),
	ActionEditMessage:    Or(IsOwnerOfSubject, IsSuperuser),
	ActionDeleteMessage:  Or(IsOwnerOfSubject, CanModerate),
	ActionChangeReaction: IsOwnerOfSubject,
}

// Allowed evaluates the policy for action. Unknown actions are denied.
func Allowed(action Action, a Actor, s Subject) bool {
	rule, ok := policy[action]
	if !ok {
		return false
	}
	return rule(a, s)
}
