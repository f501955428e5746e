package approuters

import (
	"github.com/gin-gonic/gin"

	"teamchat/internal/configuration"
)

func ConversationRouters(router *gin.Engine, container *configuration.Container) {
	conversationRoute := router.Group("/api/conversations")
	conversationRoute.Use(container.Gate.Middleware())
	{
		// task conversation routes
		conversationRoute.GET("/tasks/:task_id/conversations", container.ConversationHandler.GetTaskConversations)
		conversationRoute.POST("/tasks/:task_id/conversations", container.ConversationHandler.CreateTaskConversation)
		conversationRoute.POST("/tasks/:task_id/conversations/:conversation_id/join", container.ConversationHandler.JoinTaskConversation)

		// task lifecycle hooks
		conversationRoute.POST("/tasks/:task_id/default", container.ConversationHandler.CreateDefaultTaskConversation)
		conversationRoute.POST("/tasks/:task_id/default/participants", container.ConversationHandler.SyncDefaultTaskParticipants)

		// general conversation routes; /unread/total before /:conversation_id
		conversationRoute.GET("/unread/total", container.ConversationHandler.GetTotalUnreadCount)
		conversationRoute.POST("", container.ConversationHandler.CreateConversation)
		conversationRoute.GET("", container.ConversationHandler.GetConversations)
		conversationRoute.GET("/:conversation_id", container.ConversationHandler.GetConversationDetails)
		conversationRoute.PUT("/:conversation_id", container.ConversationHandler.UpdateConversation)
		conversationRoute.DELETE("/:conversation_id", container.ConversationHandler.DeleteConversation)
		conversationRoute.POST("/:conversation_id/participants", container.ConversationHandler.AddParticipants)
		conversationRoute.DELETE("/:conversation_id/participants/:participant_id", container.ConversationHandler.RemoveParticipant)
		conversationRoute.POST("/:conversation_id/leave", container.ConversationHandler.LeaveConversation)
	}
}
