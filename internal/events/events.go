// Package events defines the room events fanned out to live sessions and
// the views they carry.
package events

import "encoding/json"

type Type string

const (
	TypeMessageCreated  Type = "message_created"
	TypeMessageEdited   Type = "message_edited"
	TypeMessageDeleted  Type = "message_deleted"
	TypeReactionUpdated Type = "reaction_updated"
)

// Event is anything published to a room topic.
type Event interface {
	RoomID() uint
	EventType() Type
}

type MessageCreated struct {
	Type    Type        `json:"type"`
	Room    uint        `json:"room"`
	Message MessageView `json:"message"`
}

func NewMessageCreated(view MessageView) *MessageCreated {
	return &MessageCreated{Type: TypeMessageCreated, Room: view.Room, Message: view}
}

func (e *MessageCreated) RoomID() uint    { return e.Room }
func (e *MessageCreated) EventType() Type { return e.Type }

type MessageEdited struct {
	Type    Type        `json:"type"`
	Room    uint        `json:"room"`
	Message MessageView `json:"message"`
}

func NewMessageEdited(view MessageView) *MessageEdited {
	return &MessageEdited{Type: TypeMessageEdited, Room: view.Room, Message: view}
}

func (e *MessageEdited) RoomID() uint    { return e.Room }
func (e *MessageEdited) EventType() Type { return e.Type }

// MessageDeleted carries the room's latest surviving message; LastMessage is
// serialized as null when the room is empty.
type MessageDeleted struct {
	Type        Type         `json:"type"`
	Room        uint         `json:"room"`
	MessageID   uint         `json:"message_id"`
	LastMessage *LastMessage `json:"last_message"`
}

func NewMessageDeleted(room, messageID uint, last *LastMessage) *MessageDeleted {
	return &MessageDeleted{Type: TypeMessageDeleted, Room: room, MessageID: messageID, LastMessage: last}
}

func (e *MessageDeleted) RoomID() uint    { return e.Room }
func (e *MessageDeleted) EventType() Type { return e.Type }

type ReactionUpdated struct {
	Type      Type   `json:"type"`
	Room      uint   `json:"room"`
	MessageID uint   `json:"message_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Value     string `json:"value"`
	Removed   bool   `json:"removed"`
}

func NewReactionUpdated(room, messageID, userID uint, username, value string, removed bool) *ReactionUpdated {
	return &ReactionUpdated{
		Type:      TypeReactionUpdated,
		Room:      room,
		MessageID: messageID,
		UserID:    userID,
		Username:  username,
		Value:     value,
		Removed:   removed,
	}
}

func (e *ReactionUpdated) RoomID() uint    { return e.Room }
func (e *ReactionUpdated) EventType() Type { return e.Type }

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
