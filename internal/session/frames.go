package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/pkg/logger"
	"go.uber.org/zap"
)

type FrameType string

const (
	FrameSendMessage   FrameType = "send_message"
	FrameEditMessage   FrameType = "edit_message"
	FrameDeleteMessage FrameType = "delete_message"
	FrameReact         FrameType = "react"
	FrameSubscribe     FrameType = "subscribe"

	FrameError FrameType = "error"
)

// inboundFrame is the union of every client frame; Type selects which fields
// apply.
type inboundFrame struct {
	Type      FrameType `json:"type"`
	Room      uint      `json:"room,omitempty"`
	Content   string    `json:"content,omitempty"`
	ReplyToID *uint     `json:"reply_to_id,omitempty"`
	MediaIDs  []uint    `json:"media_ids,omitempty"`
	MessageID uint      `json:"message_id,omitempty"`
	Value     string    `json:"value,omitempty"`
}

type errorFrame struct {
	Type  FrameType   `json:"type"`
	Code  apperr.Kind `json:"code"`
	Error string      `json:"error"`
}

// handleFrame dispatches one inbound frame. Rejected requests are answered
// with an error frame; the returned error is fatal to the connection.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.InboundFrame("invalid", "protocol_error")
		return apperr.Protocol("malformed frame")
	}

	var err error
	switch frame.Type {
	case FrameSendMessage:
		err = s.sendMessage(ctx, frame)
	case FrameEditMessage:
		err = s.editMessage(ctx, frame)
	case FrameDeleteMessage:
		err = s.deleteMessage(ctx, frame)
	case FrameReact:
		err = s.react(ctx, frame)
	case FrameSubscribe:
		err = s.subscribeRoom(ctx, frame)
	default:
		metrics.InboundFrame("unknown", "protocol_error")
		return apperr.Protocol(fmt.Sprintf("unknown frame type %q", frame.Type))
	}

	if err != nil {
		metrics.InboundFrame(string(frame.Type), string(apperr.KindOf(err)))
		if apperr.Is(err, apperr.KindProtocol) {
			return err
		}
		s.replyError(err)
		return nil
	}
	metrics.InboundFrame(string(frame.Type), "ok")
	return nil
}

func (s *Session) sendMessage(ctx context.Context, frame inboundFrame) error {
	if frame.Room == 0 {
		return apperr.Validation("room is required")
	}
	_, err := s.pipeline.Create(ctx, s.identity, service.CreateMessageInput{
		RoomID:    frame.Room,
		Content:   frame.Content,
		ReplyToID: frame.ReplyToID,
		MediaIDs:  frame.MediaIDs,
	})
	return err
}

func (s *Session) editMessage(ctx context.Context, frame inboundFrame) error {
	if frame.MessageID == 0 {
		return apperr.Validation("message_id is required")
	}
	_, err := s.pipeline.Edit(ctx, s.identity, frame.MessageID, frame.Content)
	return err
}

func (s *Session) deleteMessage(ctx context.Context, frame inboundFrame) error {
	if frame.MessageID == 0 {
		return apperr.Validation("message_id is required")
	}
	_, err := s.pipeline.Delete(ctx, s.identity, frame.MessageID)
	return err
}

func (s *Session) react(ctx context.Context, frame inboundFrame) error {
	if frame.MessageID == 0 {
		return apperr.Validation("message_id is required")
	}
	_, err := s.pipeline.React(ctx, s.identity, frame.MessageID, frame.Value)
	return err
}

// subscribeRoom adds a room joined after connect. Public rooms are joined on
// the way; private rooms require an existing membership.
func (s *Session) subscribeRoom(ctx context.Context, frame inboundFrame) error {
	if frame.Room == 0 {
		return apperr.Validation("room is required")
	}
	if _, err := s.members.EnsureReadAccess(ctx, s.identity, frame.Room); err != nil {
		return err
	}
	ok, err := s.subscribe(ctx, frame.Room)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("room not found")
	}
	return nil
}

func (s *Session) replyError(err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Log.Error("Frame handling failed",
			zap.String("session_id", s.id),
			zap.Uint("user_id", s.identity.UserID),
			zap.Error(err),
		)
	}

	payload, merr := json.Marshal(errorFrame{Type: FrameError, Code: kind, Error: apperr.PublicMessage(err)})
	if merr != nil {
		return
	}
	if s.Enqueue(payload) == broker.BufferFull {
		s.Evict()
	}
}
