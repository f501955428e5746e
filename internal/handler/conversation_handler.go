package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"teamchat/internal/auth"
	"teamchat/internal/service"
)

type ConversationHandler interface {
	CreateConversation(c *gin.Context)
	GetConversations(c *gin.Context)
	GetConversationDetails(c *gin.Context)
	UpdateConversation(c *gin.Context)
	DeleteConversation(c *gin.Context)
	AddParticipants(c *gin.Context)
	RemoveParticipant(c *gin.Context)
	LeaveConversation(c *gin.Context)
	GetTotalUnreadCount(c *gin.Context)

	GetTaskConversations(c *gin.Context)
	CreateTaskConversation(c *gin.Context)
	JoinTaskConversation(c *gin.Context)
	CreateDefaultTaskConversation(c *gin.Context)
	SyncDefaultTaskParticipants(c *gin.Context)
}

type conversationHandler struct {
	service service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) ConversationHandler {
	return &conversationHandler{service: svc}
}

func (h *conversationHandler) CreateConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var in service.CreateConversationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}

	detail, err := h.service.CreateConversation(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, detail, "conversation created")
}

func (h *conversationHandler) GetConversations(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	page, err := h.service.GetConversations(c.Request.Context(), actor.EmployeeID, service.ListOptions{
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 20),
		Type:  c.Query("type"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page, "conversations retrieved")
}

func (h *conversationHandler) GetConversationDetails(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	detail, err := h.service.GetConversationDetails(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, detail, "conversation retrieved")
}

func (h *conversationHandler) UpdateConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}

	detail, err := h.service.UpdateConversation(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID, body.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, detail, "conversation updated")
}

func (h *conversationHandler) DeleteConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	if err := h.service.DeleteConversation(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "conversation deleted")
}

func (h *conversationHandler) AddParticipants(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var body struct {
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}

	result, err := h.service.AddParticipants(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID, body.Participants)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result, "participants added")
}

func (h *conversationHandler) RemoveParticipant(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	err := h.service.RemoveParticipant(c.Request.Context(),
		c.Param("conversation_id"), actor.EmployeeID, c.Param("participant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "participant removed")
}

func (h *conversationHandler) LeaveConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	if err := h.service.LeaveConversation(c.Request.Context(), c.Param("conversation_id"), actor.EmployeeID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "left conversation")
}

func (h *conversationHandler) GetTotalUnreadCount(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	total, err := h.service.GetTotalUnreadCount(c.Request.Context(), actor.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"total_unread": total}, "total unread retrieved")
}

func (h *conversationHandler) GetTaskConversations(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	details, err := h.service.GetTaskConversations(c.Request.Context(), c.Param("task_id"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, details, "task conversations retrieved")
}

func (h *conversationHandler) CreateTaskConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var in service.CreateTaskConversationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}
	in.TaskID = c.Param("task_id")

	detail, err := h.service.CreateTaskConversation(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, detail, "task conversation created")
}

func (h *conversationHandler) JoinTaskConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	err := h.service.JoinTaskConversation(c.Request.Context(), c.Param("conversation_id"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "joined conversation")
}

// CreateDefaultTaskConversation is the task-service integration hook: called
// when a task is created so its "General" conversation exists before anyone
// opens the chat tab.
func (h *conversationHandler) CreateDefaultTaskConversation(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var body struct {
		AssignedTo []string `json:"assigned_to"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}

	conv, err := h.service.CreateDefaultTaskConversation(c.Request.Context(),
		c.Param("task_id"), actor.EmployeeID, body.AssignedTo)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, conv, "default conversation created")
}

// SyncDefaultTaskParticipants mirrors task assignment changes into the
// default conversation roster.
func (h *conversationHandler) SyncDefaultTaskParticipants(c *gin.Context) {
	if _, ok := auth.ActorFrom(c); !ok {
		respond(c, http.StatusUnauthorized, nil, "missing identity")
		return
	}

	var body struct {
		EmployeeIDs []string `json:"employee_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, nil, "malformed request body")
		return
	}

	result, err := h.service.AddParticipantsToDefaultTaskConversation(c.Request.Context(),
		c.Param("task_id"), body.EmployeeIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result, "participants synced")
}
