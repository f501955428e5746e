package approuters

import (
	"github.com/gin-gonic/gin"

	"teamchat/internal/configuration"
)

func MessageRouters(router *gin.Engine, container *configuration.Container) {
	messageRoute := router.Group("/api/messages")
	messageRoute.Use(container.Gate.Middleware())
	{
		// HTTP fallback for clients without a live socket
		messageRoute.POST("", container.MessageHandler.CreateMessage)

		messageRoute.GET("/conversation/:conversation_id", container.MessageHandler.GetMessages)
		messageRoute.PUT("/conversation/:conversation_id/readall", container.MessageHandler.MarkAllMessagesAsRead)
		messageRoute.GET("/conversation/:conversation_id/search", container.MessageHandler.SearchMessages)
		messageRoute.GET("/conversation/:conversation_id/unreadcount", container.MessageHandler.GetUnreadCount)

		messageRoute.PUT("/:message_id/read", container.MessageHandler.MarkMessageAsRead)
		messageRoute.DELETE("/:message_id", container.MessageHandler.DeleteMessage)
	}
}
