package handler

import (
	"net/http"
	"time"

	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers groups everything the router mounts. RateLimiter may be nil.
type Handlers struct {
	Auth      *AuthHandler
	Rooms     *RoomHandler
	Messages  *MessageHandler
	Admin     *AdminHandler
	WebSocket *WebSocketHandler

	Resolver       middleware.IdentityResolver
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	IsProduction   bool
	ServiceName    string
}

func NewHandlers(
	auth *service.AuthService,
	rooms *service.RoomService,
	members *service.MembershipService,
	ledger *service.ReadLedger,
	messages *service.MessageService,
	media *service.MediaService,
) *Handlers {
	return &Handlers{
		Auth:     NewAuthHandler(auth),
		Rooms:    NewRoomHandler(rooms, members, ledger),
		Messages: NewMessageHandler(messages, media),
		Resolver: auth,
	}
}

// NewRouter builds the gin engine with every route.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if h.ServiceName != "" {
		router.Use(otelgin.Middleware(h.ServiceName))
	}
	router.Use(metrics.HTTPMiddleware())
	if len(h.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.HSTSMiddleware(h.IsProduction))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	if h.RateLimiter != nil {
		// anonymous routes are limited per IP; authenticated ones below per user
		api.Use(middleware.OptionalAuth(h.Resolver), h.RateLimiter.Middleware())
	}

	// Public routes
	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/logout", h.Auth.Logout)
	api.GET("/users/:username/exists", h.Auth.UsernameExists)

	if h.WebSocket != nil {
		api.GET("/ws", middleware.OptionalAuth(h.Resolver), h.WebSocket.HandleWebSocket)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(h.Resolver))
	{
		protected.GET("/auth/me", h.Auth.Me)
		protected.GET("/users/:username", h.Auth.UserDetail)
		protected.PATCH("/users/me/profile", h.Auth.UpdateProfile)

		protected.GET("/rooms", h.Rooms.List)
		protected.POST("/rooms", h.Rooms.Create)
		protected.POST("/rooms/dm", h.Rooms.DirectMessage)
		protected.GET("/rooms/:id", h.Rooms.Get)
		protected.DELETE("/rooms/:id", h.Rooms.Delete)
		protected.GET("/rooms/:id/members", h.Rooms.Members)
		protected.POST("/rooms/:id/join", h.Rooms.Join)
		protected.POST("/rooms/:id/leave", h.Rooms.Leave)
		protected.POST("/rooms/:id/invite", h.Rooms.Invite)
		protected.POST("/rooms/:id/invitations", h.Rooms.CreateInvitation)
		protected.POST("/rooms/:id/admins", h.Rooms.SetAdmin)
		protected.GET("/rooms/:id/unread", h.Rooms.Unread)
		protected.POST("/invitations/:token/redeem", h.Rooms.RedeemInvitation)

		protected.GET("/rooms/:id/messages", h.Messages.List)
		protected.POST("/rooms/:id/messages", h.Messages.Create)
		protected.PATCH("/messages/:id", h.Messages.Edit)
		protected.DELETE("/messages/:id", h.Messages.Delete)
		protected.PUT("/messages/:id/reaction", h.Messages.React)
		protected.DELETE("/messages/:id/reaction", h.Messages.ClearReaction)
		protected.PATCH("/reactions/:id", h.Messages.UpdateReaction)
		protected.DELETE("/reactions/:id", h.Messages.DeleteReaction)

		protected.POST("/media", h.Messages.UploadMedia)
	}

	if h.Admin != nil {
		admin := protected.Group("/admin")
		admin.Use(middleware.SuperuserMiddleware())
		{
			admin.GET("/audit", h.Admin.GetAudit)
			admin.POST("/audit/compact", h.Admin.CompactAudit)
			admin.POST("/blocks", h.Admin.Block)
			admin.DELETE("/blocks/:key", h.Admin.Unblock)
		}
	}

	return router
}
