package handler

import (
	"net/http"

	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateProfileRequest struct {
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar"`
}

func userBody(user *models.User) gin.H {
	return gin.H{
		"id":       user.ID,
		"username": user.Username,
		"is_admin": user.IsSuperuser,
	}
}

// setTokenCookie stores the token in an HTTP-only cookie; maxAge < 0 clears it.
func (h *AuthHandler) setTokenCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.TokenCookie,
		token,
		maxAge,
		"/",
		"",
		h.authService.IsProduction(), // secure
		true,                         // httpOnly
	)
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Log.Warn("Registration request parsing failed",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		badRequest(c, "Invalid request body")
		return
	}

	logger.Log.Info("User registration attempt",
		zap.String("username", req.Username),
		zap.String("ip", c.ClientIP()),
	)

	user, token, err := h.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		logger.Log.Warn("Registration failed",
			zap.String("username", req.Username),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	h.setTokenCookie(c, token, int(h.authService.TokenTTL().Seconds()))

	logger.Log.Info("User registered successfully",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username),
	)

	body := userBody(user)
	body["token"] = token
	c.JSON(http.StatusCreated, body)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	user, token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		logger.Log.Warn("Login failed",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	h.setTokenCookie(c, token, int(h.authService.TokenTTL().Seconds()))

	logger.Log.Info("User logged in successfully",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username),
	)

	body := userBody(user)
	body["token"] = token
	c.JSON(http.StatusOK, body)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.setTokenCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.GetUser(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	body := userBody(user)
	body["email"] = user.Email
	body["profile"] = user.Profile
	c.JSON(http.StatusOK, body)
}

// GET /api/users/:username
func (h *AuthHandler) UserDetail(c *gin.Context) {
	user, err := h.authService.GetUserByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}

	body := userBody(user)
	body["profile"] = user.Profile
	c.JSON(http.StatusOK, body)
}

// GET /api/users/:username/exists
func (h *AuthHandler) UsernameExists(c *gin.Context) {
	exists, err := h.authService.UsernameExists(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// PATCH /api/users/me/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	user, err := h.authService.UpdateProfile(c.Request.Context(), identity(c), req.Bio, req.AvatarURL)
	if err != nil {
		respondError(c, err)
		return
	}

	body := userBody(user)
	body["profile"] = user.Profile
	c.JSON(http.StatusOK, body)
}
