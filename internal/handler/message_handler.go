package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"teamchat/internal/auth"
	"teamchat/internal/service"
)

// MessageHandler is the HTTP fallback for clients without a live socket; the
// socket path goes through the hub dispatcher instead.
type MessageHandler interface {
	CreateMessage(c *gin.Context)
	GetMessages(c *gin.Context)
	MarkMessageAsRead(c *gin.Context)
	MarkAllMessagesAsRead(c *gin.Context)
	DeleteMessage(c *gin.Context)
	SearchMessages(c *gin.Context)
	GetUnreadCount(c *gin.Context)
}

type messageHandler struct {
	service service.MessageService
}

func NewMessageHandler(svc service.MessageService) MessageHandler {
	return &messageHandler{service: svc}
}

func (h *messageHandler) CreateMessage(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var in service.CreateMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}
	in.SenderID = actor.EmployeeID

	msg, err := h.service.CreateMessage(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, msg, "message created")
}

func (h *messageHandler) GetMessages(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	page, err := h.service.GetMessages(c.Request.Context(),
		c.Param("conversation_id"), actor.EmployeeID,
		queryInt(c, "page", 1), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page, "messages retrieved")
}

func (h *messageHandler) MarkMessageAsRead(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	msg, err := h.service.MarkMessageAsRead(c.Request.Context(), c.Param("message_id"), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msg, "message marked as read")
}

func (h *messageHandler) MarkAllMessagesAsRead(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	count, err := h.service.MarkAllMessagesAsRead(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"marked_count": count}, "all messages marked as read")
}

func (h *messageHandler) DeleteMessage(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	msg, err := h.service.DeleteMessage(c.Request.Context(), c.Param("message_id"), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msg, "message deleted")
}

func (h *messageHandler) SearchMessages(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	page, err := h.service.SearchMessages(c.Request.Context(),
		c.Param("conversation_id"), actor.EmployeeID, c.Query("q"),
		queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page, "messages found")
}

func (h *messageHandler) GetUnreadCount(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	count, err := h.service.GetUnreadCount(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"unread_count": count}, "unread count retrieved")
}
