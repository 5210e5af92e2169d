package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/events"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/permission"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

var (
	ErrEmptyMessage    = apperr.Validation("message must have content or media")
	ErrMessageTooLong  = apperr.Validation("message exceeds 5000 characters")
	ErrMessageNotFound = apperr.NotFound("message not found")
	ErrReplyNotFound   = apperr.NotFound("reply target not found in this room")
	ErrInvalidReaction = apperr.Validation("reaction must be between 1 and 32 characters")
	ErrNoReaction      = apperr.NotFound("reaction not found")
)

var tracer = otel.Tracer("github.com/Baaaki/roomcast/internal/service")

type CreateMessageInput struct {
	RoomID    uint
	Content   string
	ReplyToID *uint
	MediaIDs  []uint
}

// MessageService is the message event pipeline: it validates and persists
// mutations, then publishes one event per mutation to the room topic. Writes
// to a room are serialized so events leave in commit order.
type MessageService struct {
	repos   *repository.Repositories
	members *MembershipService
	ledger  *ReadLedger
	bus     broker.Bus
}

func NewMessageService(repos *repository.Repositories, members *MembershipService, ledger *ReadLedger, bus broker.Bus) *MessageService {
	return &MessageService{repos: repos, members: members, ledger: ledger, bus: bus}
}

func validateContent(content string, allowEmpty bool) error {
	if utf8.RuneCountInString(content) > models.MaxMessageLength {
		return ErrMessageTooLong
	}
	if !allowEmpty && strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func startSpan(ctx context.Context, name string, id models.Identity, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("user.id", int64(id.UserID)))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.PublicMessage(err))
	}
	span.End()
}

// nextTimestamp returns a creation time strictly after the newest message in
// the room. Callers hold the room lock.
func (s *MessageService) nextTimestamp(ctx context.Context, tx *repository.Repositories, roomID uint) (time.Time, error) {
	ts := s.members.now().Truncate(time.Microsecond)
	latest, ok, err := tx.Messages.LatestTimestamp(ctx, roomID)
	if err != nil {
		return time.Time{}, err
	}
	if ok && !ts.After(latest) {
		ts = latest.UTC().Add(time.Microsecond)
	}
	return ts, nil
}

// Create persists a message and fans it out as message_created. Orphaned
// media owned by the caller is attached; anything else in MediaIDs is ignored.
func (s *MessageService) Create(ctx context.Context, id models.Identity, in CreateMessageInput) (view *events.MessageView, err error) {
	ctx, span := startSpan(ctx, "message.create", id, attribute.Int64("room.id", int64(in.RoomID)))
	defer func() { endSpan(span, err) }()

	mediaIDs := uniqueIDs(in.MediaIDs)
	if err := validateContent(in.Content, len(mediaIDs) > 0); err != nil {
		return nil, err
	}
	textless := strings.TrimSpace(in.Content) == ""

	if _, err := s.members.EnsureReadAccess(ctx, id, in.RoomID); err != nil {
		return nil, err
	}

	unlock := s.members.lockRoom(in.RoomID)
	defer unlock()

	var msg *models.Message
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if in.ReplyToID != nil {
			target, err := tx.Messages.GetMessage(ctx, *in.ReplyToID)
			if err != nil {
				return err
			}
			if target == nil || target.RoomID != in.RoomID {
				return ErrReplyNotFound
			}
		}

		ts, err := s.nextTimestamp(ctx, tx, in.RoomID)
		if err != nil {
			return err
		}
		msg = &models.Message{
			RoomID:    in.RoomID,
			UserID:    id.UserID,
			Content:   in.Content,
			CreatedAt: ts,
			ReplyToID: in.ReplyToID,
		}
		if err := tx.Messages.CreateMessage(ctx, msg); err != nil {
			return err
		}

		attached, err := tx.Messages.AttachMedia(ctx, msg.ID, id.UserID, mediaIDs)
		if err != nil {
			return err
		}
		if textless && attached == 0 {
			return ErrEmptyMessage
		}
		if attached < int64(len(mediaIDs)) {
			logger.Log.Debug("Ignored unavailable media ids",
				zap.Uint("message_id", msg.ID),
				zap.Int("requested", len(mediaIDs)),
				zap.Int64("attached", attached),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err = s.loadView(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewMessageCreated(*view))

	logger.Log.Debug("Message created",
		zap.Uint("message_id", view.ID),
		zap.Uint("room_id", view.Room),
		zap.Uint("user_id", id.UserID),
	)
	return view, nil
}

// Edit replaces the content of a message. Only the author or a superuser may
// edit; the creation timestamp is kept.
func (s *MessageService) Edit(ctx context.Context, id models.Identity, messageID uint, content string) (view *events.MessageView, err error) {
	ctx, span := startSpan(ctx, "message.edit", id, attribute.Int64("message.id", int64(messageID)))
	defer func() { endSpan(span, err) }()

	msg, access, err := s.authorizeMessage(ctx, id, messageID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(id, permission.ActionEditMessage, msg.UserID); err != nil {
		return nil, err
	}
	if err := validateContent(content, msg.HasMedia()); err != nil {
		return nil, err
	}

	unlock := s.members.lockRoom(msg.RoomID)
	defer unlock()

	if err := s.repos.Messages.UpdateContent(ctx, messageID, content, s.members.now()); err != nil {
		return nil, err
	}
	view, err = s.loadView(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewMessageEdited(*view))
	return view, nil
}

// Delete removes a message and announces the room's new last message, if any.
// Authors, room owners, room admins and superusers may delete.
func (s *MessageService) Delete(ctx context.Context, id models.Identity, messageID uint) (evt *events.MessageDeleted, err error) {
	ctx, span := startSpan(ctx, "message.delete", id, attribute.Int64("message.id", int64(messageID)))
	defer func() { endSpan(span, err) }()

	msg, access, err := s.authorizeMessage(ctx, id, messageID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(id, permission.ActionDeleteMessage, msg.UserID); err != nil {
		return nil, err
	}

	unlock := s.members.lockRoom(msg.RoomID)
	defer unlock()

	var last *models.Message
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		current, err := tx.Messages.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrMessageNotFound
		}
		if err := tx.Messages.DeleteMessage(ctx, messageID); err != nil {
			return err
		}
		last, err = tx.Messages.LatestMessage(ctx, msg.RoomID)
		return err
	})
	if err != nil {
		return nil, err
	}

	evt = events.NewMessageDeleted(msg.RoomID, messageID, events.Preview(last))
	s.publish(ctx, evt)

	if msg.UserID != id.UserID {
		s.members.auditor.Record(ctx, audit.Entry{
			Action:       audit.ActionMessageRemoved,
			ActorID:      id.UserID,
			RoomID:       msg.RoomID,
			MessageID:    messageID,
			TargetUserID: msg.UserID,
		})
	}
	return evt, nil
}

// React sets the caller's single reaction on a message. An empty value clears
// it.
func (s *MessageService) React(ctx context.Context, id models.Identity, messageID uint, value string) (evt *events.ReactionUpdated, err error) {
	ctx, span := startSpan(ctx, "message.react", id, attribute.Int64("message.id", int64(messageID)))
	defer func() { endSpan(span, err) }()

	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > models.MaxReactionLength {
		return nil, ErrInvalidReaction
	}

	msg, err := s.repos.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if _, err := s.members.EnsureReadAccess(ctx, id, msg.RoomID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	unlock := s.members.lockRoom(msg.RoomID)
	defer unlock()

	if value == "" {
		existing, err := s.repos.Messages.GetUserReaction(ctx, messageID, id.UserID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrNoReaction
		}
		if err := s.repos.Messages.DeleteReaction(ctx, existing.ID); err != nil {
			return nil, err
		}
		evt = events.NewReactionUpdated(msg.RoomID, messageID, id.UserID, id.Username, existing.Value, true)
	} else {
		reaction := &models.MessageReaction{MessageID: messageID, UserID: id.UserID, Value: value}
		if err := s.repos.Messages.UpsertReaction(ctx, reaction); err != nil {
			return nil, err
		}
		evt = events.NewReactionUpdated(msg.RoomID, messageID, id.UserID, id.Username, value, false)
	}

	s.publish(ctx, evt)
	return evt, nil
}

// UpdateReaction changes a reaction by id. Only its owner may change it.
func (s *MessageService) UpdateReaction(ctx context.Context, id models.Identity, reactionID uint, value string) (*events.ReactionUpdated, error) {
	value = strings.TrimSpace(value)
	if value == "" || utf8.RuneCountInString(value) > models.MaxReactionLength {
		return nil, ErrInvalidReaction
	}
	return s.changeReaction(ctx, id, reactionID, value)
}

// DeleteReaction removes a reaction by id. Only its owner may remove it.
func (s *MessageService) DeleteReaction(ctx context.Context, id models.Identity, reactionID uint) (*events.ReactionUpdated, error) {
	return s.changeReaction(ctx, id, reactionID, "")
}

func (s *MessageService) changeReaction(ctx context.Context, id models.Identity, reactionID uint, value string) (evt *events.ReactionUpdated, err error) {
	ctx, span := startSpan(ctx, "reaction.change", id, attribute.Int64("reaction.id", int64(reactionID)))
	defer func() { endSpan(span, err) }()

	reaction, err := s.repos.Messages.GetReaction(ctx, reactionID)
	if err != nil {
		return nil, err
	}
	if reaction == nil {
		return nil, ErrNoReaction
	}
	msg, access, err := s.authorizeMessage(ctx, id, reaction.MessageID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(id, permission.ActionChangeReaction, reaction.UserID); err != nil {
		return nil, err
	}

	unlock := s.members.lockRoom(msg.RoomID)
	defer unlock()

	if value == "" {
		if err := s.repos.Messages.DeleteReaction(ctx, reactionID); err != nil {
			return nil, err
		}
		evt = events.NewReactionUpdated(msg.RoomID, msg.ID, id.UserID, id.Username, reaction.Value, true)
	} else {
		if err := s.repos.Messages.UpdateReaction(ctx, reactionID, value); err != nil {
			return nil, err
		}
		evt = events.NewReactionUpdated(msg.RoomID, msg.ID, id.UserID, id.Username, value, false)
	}

	s.publish(ctx, evt)
	return evt, nil
}

// List returns a page of messages in chronological order, ending just before
// beforeID when given. Listing marks the room read.
func (s *MessageService) List(ctx context.Context, id models.Identity, roomID uint, beforeID *uint, limit int) ([]events.MessageView, error) {
	defer logger.LogDuration("messages.list", zap.Uint("room_id", roomID))()

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if _, err := s.ledger.MarkRead(ctx, id, roomID); err != nil {
		return nil, err
	}

	var before *models.Message
	if beforeID != nil {
		cursor, err := s.repos.Messages.GetMessage(ctx, *beforeID)
		if err != nil {
			return nil, err
		}
		if cursor == nil || cursor.RoomID != roomID {
			return nil, ErrMessageNotFound
		}
		before = cursor
	}

	msgs, err := s.repos.Messages.ListMessages(ctx, roomID, before, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return events.NewMessageViews(msgs), nil
}

// authorizeMessage loads a message and the caller's access to its room. A
// message in a room the caller cannot see is reported as missing.
func (s *MessageService) authorizeMessage(ctx context.Context, id models.Identity, messageID uint) (*models.Message, *Access, error) {
	msg, err := s.repos.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return nil, nil, ErrMessageNotFound
	}
	access, err := s.members.Authorize(ctx, id, msg.RoomID, permission.ActionRead)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil, ErrMessageNotFound
		}
		// superusers see private rooms without being able to read them
		if !id.IsSuperuser {
			return nil, nil, err
		}
		access, err = s.members.load(ctx, s.repos, id.UserID, msg.RoomID)
		if err != nil {
			return nil, nil, err
		}
	}
	return msg, access, nil
}

func (s *MessageService) loadView(ctx context.Context, messageID uint) (*events.MessageView, error) {
	msg, err := s.repos.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	view := events.NewMessageView(msg)
	return &view, nil
}

// publish hands the event to the bus. The mutation is already committed, so a
// failed publish is logged rather than returned.
func (s *MessageService) publish(ctx context.Context, evt events.Event) {
	if err := s.bus.Publish(ctx, evt); err != nil {
		logger.Log.Error("Failed to publish room event",
			zap.String("type", string(evt.EventType())),
			zap.Uint("room_id", evt.RoomID()),
			zap.Error(err),
		)
	}
}
