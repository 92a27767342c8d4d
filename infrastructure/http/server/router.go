package server

import (
	"log/slog"
	"market-chat/contract"
	"market-chat/observability"
	"market-chat/runtime"
	"market-chat/services"

	"github.com/gin-gonic/gin"
)

type Dependencies struct {
	Log           *slog.Logger
	Gateway       *runtime.Gateway
	ChatService   services.IChatService
	Authenticator contract.IAuthenticator
	Monitoring    *observability.MonitoringManager
	WS            WSConfig
}

// NewRouter mounts the websocket endpoint and the REST pull API.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		RequestLogger(deps.Log),
		CORS(deps.WS.Origins, deps.WS.AllowAllOrigins),
	)

	health := NewHealthHandler(deps.Monitoring, deps.Gateway.SessionCount)
	ws := NewWSHandler(deps.Gateway, deps.Monitoring, deps.Log, deps.WS)
	chat := NewChatHandler(deps.ChatService)

	router.GET("/health", health.Handle)
	router.GET("/ws", ws.Handle)

	authorized := router.Group("/", AuthMiddleware(deps.Authenticator))
	authorized.GET("/history/:listingId/:otherUserId", chat.History)
	authorized.GET("/conversations", chat.Conversations)
	authorized.PATCH("/mark-read/:listingId/:otherUserId", chat.MarkRead)
	return router
}
