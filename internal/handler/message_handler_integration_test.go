package handler_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type MessageHandlerIntegrationTestSuite struct {
	apiSuite
}

func TestMessageHandlerIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(MessageHandlerIntegrationTestSuite))
}

func (s *MessageHandlerIntegrationTestSuite) TestMessageLifecycle() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "lobby", alice, false)
	base := fmt.Sprintf("/api/rooms/%d", room.ID)

	w := s.do(http.MethodPost, base+"/messages", map[string]string{"content": "hello"}, alice)
	s.Require().Equal(http.StatusCreated, w.Code)
	created := s.decode(w)
	assert.Equal(s.T(), "hello", created["content"])
	assert.Equal(s.T(), "alice", created["user"].(map[string]interface{})["username"])
	messagePath := fmt.Sprintf("/api/messages/%.0f", created["id"].(float64))

	// bob is not the author
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, messagePath, map[string]string{"content": "x"}, bob).Code)

	w = s.do(http.MethodPatch, messagePath, map[string]string{"content": "hello again"}, alice)
	s.Require().Equal(http.StatusOK, w.Code)
	edited := s.decode(w)
	assert.Equal(s.T(), "hello again", edited["content"])
	assert.NotNil(s.T(), edited["edited_at"])

	w = s.do(http.MethodPut, messagePath+"/reaction", map[string]string{"value": "👍"}, bob)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), "👍", s.decode(w)["value"])

	w = s.do(http.MethodGet, base+"/messages", nil, bob)
	s.Require().Equal(http.StatusOK, w.Code)
	listed := s.decode(w)
	assert.Equal(s.T(), float64(1), listed["count"])
	msg := listed["messages"].([]interface{})[0].(map[string]interface{})
	s.Require().Len(msg["reactions"], 1)

	w = s.do(http.MethodDelete, messagePath+"/reaction", nil, bob)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), true, s.decode(w)["removed"])

	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodDelete, messagePath, nil, bob).Code)

	w = s.do(http.MethodDelete, messagePath, nil, alice)
	s.Require().Equal(http.StatusOK, w.Code)
	deleted := s.decode(w)
	assert.Equal(s.T(), "message_deleted", deleted["type"])
	assert.Contains(s.T(), deleted, "last_message")
	assert.Nil(s.T(), deleted["last_message"])

	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodDelete, messagePath, nil, alice).Code)
}

func (s *MessageHandlerIntegrationTestSuite) TestCreateValidation() {
	alice := s.user("alice")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "lobby", alice, false)
	path := fmt.Sprintf("/api/rooms/%d/messages", room.ID)

	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPost, path, map[string]string{"content": "   "}, alice).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodPost, "/api/rooms/999/messages", map[string]string{"content": "hi"}, alice).Code)
}

func (s *MessageHandlerIntegrationTestSuite) TestListPagination() {
	alice := s.user("alice")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "lobby", alice, false)
	base := time.Now().Add(-time.Hour)
	var ids []uint
	for i := 0; i < 5; i++ {
		msg := testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
		ids = append(ids, msg.ID)
	}
	path := fmt.Sprintf("/api/rooms/%d/messages", room.ID)

	w := s.do(http.MethodGet, path+"?limit=2", nil, alice)
	s.Require().Equal(http.StatusOK, w.Code)
	page := s.decode(w)
	assert.Equal(s.T(), true, page["has_more"])
	messages := page["messages"].([]interface{})
	s.Require().Len(messages, 2)
	assert.Equal(s.T(), "m3", messages[0].(map[string]interface{})["content"])
	assert.Equal(s.T(), "m4", messages[1].(map[string]interface{})["content"])

	w = s.do(http.MethodGet, fmt.Sprintf("%s?before=%d&limit=10", path, ids[3]), nil, alice)
	s.Require().Equal(http.StatusOK, w.Code)
	page = s.decode(w)
	assert.Equal(s.T(), false, page["has_more"])
	messages = page["messages"].([]interface{})
	s.Require().Len(messages, 3)
	assert.Equal(s.T(), "m0", messages[0].(map[string]interface{})["content"])

	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, path+"?before=abc", nil, alice).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, path+"?limit=-1", nil, alice).Code)
}

func (s *MessageHandlerIntegrationTestSuite) TestUploadAndAttachMedia() {
	alice := s.user("alice")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "lobby", alice, false)

	w := s.upload(alice, "cat.PNG", []byte("not really a png"))
	s.Require().Equal(http.StatusCreated, w.Code)
	uploaded := s.decode(w)
	assert.Regexp(s.T(), `\.png$`, uploaded["file"])

	w = s.do(http.MethodPost, fmt.Sprintf("/api/rooms/%d/messages", room.ID), map[string]interface{}{
		"media_ids": []interface{}{uploaded["id"]},
	}, alice)
	s.Require().Equal(http.StatusCreated, w.Code)
	media := s.decode(w)["media"].([]interface{})
	s.Require().Len(media, 1)
	assert.Equal(s.T(), uploaded["id"], media[0].(map[string]interface{})["id"])

	w = s.do(http.MethodGet, "/api/rooms", nil, alice)
	room0 := s.decode(w)["rooms"].([]interface{})[0].(map[string]interface{})
	assert.Equal(s.T(), "📷 Media", room0["last_message"].(map[string]interface{})["content"])
}

func (s *MessageHandlerIntegrationTestSuite) TestUploadRejections() {
	alice := s.user("alice")

	assert.Equal(s.T(), http.StatusBadRequest, s.upload(alice, "empty.txt", nil).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.upload(alice, "big.bin", make([]byte, 2048)).Code)

	// no file part at all
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPost, "/api/media", map[string]string{}, alice).Code)
}

func (s *MessageHandlerIntegrationTestSuite) TestReactionByID() {
	alice, bob := s.user("alice"), s.user("bob")
	room := testutil.CreateRoom(s.T(), s.testDB.DB, "lobby", alice, false)
	msg := testutil.CreateMessage(s.T(), s.testDB.DB, room, alice, "hi", time.Now().Add(-time.Minute))
	messagePath := fmt.Sprintf("/api/messages/%d", msg.ID)

	s.Require().Equal(http.StatusOK, s.do(http.MethodPut, messagePath+"/reaction", map[string]string{"value": "🔥"}, bob).Code)

	w := s.do(http.MethodGet, fmt.Sprintf("/api/rooms/%d/messages", room.ID), nil, bob)
	msgView := s.decode(w)["messages"].([]interface{})[0].(map[string]interface{})
	reaction := msgView["reactions"].([]interface{})[0].(map[string]interface{})
	reactionPath := fmt.Sprintf("/api/reactions/%.0f", reaction["id"].(float64))

	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, reactionPath, map[string]string{"value": "x"}, alice).Code)

	w = s.do(http.MethodPatch, reactionPath, map[string]string{"value": "🎉"}, bob)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), "🎉", s.decode(w)["value"])

	w = s.do(http.MethodDelete, reactionPath, nil, bob)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), true, s.decode(w)["removed"])
}
