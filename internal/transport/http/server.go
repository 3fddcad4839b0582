package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/store"
)

// WSPath is the STOMP endpoint.
const WSPath = "/ws-chat"

// NewServer builds the broker HTTP server: health, the STOMP endpoint and the REST API.
// authService may be nil for a chat-only broker without accounts; st may be nil to
// run without persistence.
func NewServer(hub *broker.Hub, authService *auth.Service, st store.MessageStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET(WSPath, gin.WrapH(NewWSHandler(hub, authService, cfg, logger)))

	if authService != nil {
		authHandlers := NewAuthHandlers(authService, logger)
		chatHandlers := NewChatHandlers(hub, st, logger)

		api := router.Group("/api")
		{
			api.POST("/register", authHandlers.Register)
			api.POST("/login", authHandlers.Login)
			api.POST("/guest", authHandlers.Guest)

			protected := api.Group("")
			protected.Use(AuthMiddleware(authService, logger))
			{
				protected.GET("/me", authHandlers.Me)
				protected.GET("/chat/users", chatHandlers.OnlineUsers)
				protected.GET("/chat/rooms", chatHandlers.Rooms)
				protected.GET("/chat/rooms/:room/messages", chatHandlers.History)
			}
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
