package events

import (
	"strings"
	"time"

	"github.com/Baaaki/roomcast/internal/models"
)

const mediaMarker = "📷"

type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type ReplyPreview struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type MediaView struct {
	ID   uint   `json:"id"`
	File string `json:"file"`
}

type ReactionView struct {
	ID       uint   `json:"id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Value    string `json:"value"`
}

// MessageView is the denormalized message sent to clients.
type MessageView struct {
	ID        uint           `json:"id"`
	Room      uint           `json:"room"`
	User      UserSummary    `json:"user"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	ReplyTo   *ReplyPreview  `json:"reply_to"`
	Media     []MediaView    `json:"media"`
	Reactions []ReactionView `json:"reactions"`
}

// LastMessage is the room preview shown in room lists.
type LastMessage struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageView(m *models.Message) MessageView {
	view := MessageView{
		ID:        m.ID,
		Room:      m.RoomID,
		User:      summarize(&m.User),
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		EditedAt:  m.EditedAt,
		Media:     make([]MediaView, 0, len(m.Media)),
		Reactions: make([]ReactionView, 0, len(m.Reactions)),
	}
	if m.ReplyTo != nil {
		view.ReplyTo = &ReplyPreview{
			ID:       m.ReplyTo.ID,
			Username: m.ReplyTo.User.Username,
			Content:  m.ReplyTo.Content,
		}
	}
	for _, media := range m.Media {
		view.Media = append(view.Media, MediaView{ID: media.ID, File: media.File})
	}
	for _, r := range m.Reactions {
		view.Reactions = append(view.Reactions, ReactionView{
			ID:       r.ID,
			UserID:   r.UserID,
			Username: r.User.Username,
			Value:    r.Value,
		})
	}
	return view
}

func NewMessageViews(msgs []models.Message) []MessageView {
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, NewMessageView(&msgs[i]))
	}
	return views
}

// Preview summarizes a message for the room list. Media-bearing messages get
// a camera marker; media-only messages read "📷 Media". nil in, nil out.
func Preview(m *models.Message) *LastMessage {
	if m == nil {
		return nil
	}
	content := m.Content
	if m.HasMedia() {
		if strings.TrimSpace(content) == "" {
			content = mediaMarker + " Media"
		} else {
			content = mediaMarker + " " + content
		}
	}
	return &LastMessage{
		Username:  m.User.Username,
		Content:   content,
		Timestamp: m.CreatedAt,
	}
}

func summarize(u *models.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar()}
}
