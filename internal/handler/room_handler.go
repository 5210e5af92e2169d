package handler

import (
	"net/http"

	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RoomHandler struct {
	rooms   *service.RoomService
	members *service.MembershipService
	ledger  *service.ReadLedger
}

func NewRoomHandler(rooms *service.RoomService, members *service.MembershipService, ledger *service.ReadLedger) *RoomHandler {
	return &RoomHandler{rooms: rooms, members: members, ledger: ledger}
}

type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar"`
	IsPrivate   bool   `json:"is_private"`
}

type UsernameRequest struct {
	Username string `json:"username" binding:"required"`
}

type SetAdminRequest struct {
	Username string `json:"username" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

type memberBody struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	IsAdmin  bool   `json:"is_admin"`
	IsOwner  bool   `json:"is_owner"`
}

// GET /api/rooms
func (h *RoomHandler) List(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// POST /api/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), identity(c), service.CreateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Room created",
		zap.Uint("room_id", room.ID),
		zap.String("name", room.Name),
		zap.Uint("owner_id", identity(c).UserID),
	)
	c.JSON(http.StatusCreated, room)
}

// POST /api/rooms/dm
func (h *RoomHandler) DirectMessage(c *gin.Context) {
	var req UsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	room, created, err := h.rooms.GetOrCreateDM(c.Request.Context(), identity(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, room)
}

// GET /api/rooms/:id
func (h *RoomHandler) Get(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	summary, err := h.rooms.GetRoom(c.Request.Context(), identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DELETE /api/rooms/:id
func (h *RoomHandler) Delete(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), identity(c), roomID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/rooms/:id/members
func (h *RoomHandler) Members(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	memberships, err := h.members.ListMembers(ctx, identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := h.rooms.GetRoom(ctx, identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]memberBody, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, memberBody{
			UserID:   m.UserID,
			Username: m.User.Username,
			Avatar:   m.User.Avatar(),
			IsAdmin:  m.IsAdmin,
			IsOwner:  summary.IsOwnedBy(m.UserID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

// POST /api/rooms/:id/join
func (h *RoomHandler) Join(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	membership, err := h.members.Join(c.Request.Context(), identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

// POST /api/rooms/:id/leave
func (h *RoomHandler) Leave(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.members.Leave(c.Request.Context(), identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"new_owner_id": result.NewOwnerID,
		"room_deleted": result.RoomDeleted,
	})
}

// POST /api/rooms/:id/invite
func (h *RoomHandler) Invite(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req UsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	membership, err := h.members.AddMember(c.Request.Context(), identity(c), roomID, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

// POST /api/rooms/:id/invitations
func (h *RoomHandler) CreateInvitation(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	invitation, err := h.members.CreateInvitation(c.Request.Context(), identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

// POST /api/invitations/:token/redeem
func (h *RoomHandler) RedeemInvitation(c *gin.Context) {
	membership, err := h.members.RedeemInvitation(c.Request.Context(), identity(c), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

// POST /api/rooms/:id/admins
func (h *RoomHandler) SetAdmin(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req SetAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	membership, err := h.members.SetAdmin(c.Request.Context(), identity(c), roomID, req.Username, req.IsAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

// GET /api/rooms/:id/unread
func (h *RoomHandler) Unread(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	count, err := h.ledger.RoomUnread(c.Request.Context(), identity(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "unread_count": count})
}
