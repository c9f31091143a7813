package handler

import (
	"net/http"
	"strconv"

	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationHandler struct {
	conversations *services.ConversationService
	messages      *services.MessageService
}

func NewConversationHandler(conversations *services.ConversationService, messages *services.MessageService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

// List returns the caller's conversations, most recently active first.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	items, err := h.conversations.ListForUser(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromConversationSummaries(items)))
}

// Create finds or creates the conversation with participant_id. It answers
// 201 only when a new conversation was stored.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req httpdto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	otherID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		badRequest(c, "invalid participant id")
		return
	}
	tutorProfileID := uuid.NullUUID{}
	if req.TutorProfileID != "" {
		id, err := uuid.Parse(req.TutorProfileID)
		if err != nil {
			badRequest(c, "invalid tutor profile id")
			return
		}
		tutorProfileID = uuid.NullUUID{UUID: id, Valid: true}
	}

	conv, created, err := h.conversations.FindOrCreate(c.Request.Context(), userID, otherID, tutorProfileID)
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, httpdto.NewSuccessResponse(httpdto.FromConversation(conv, created)))
}

func (h *ConversationHandler) Unread(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	total, err := h.conversations.UnreadTotal(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadTotalResponse{Total: total}))
}

// Messages pages backwards through a conversation with before_seq.
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}

	var beforeSeq int64
	if raw := c.Query("before_seq"); raw != "" {
		beforeSeq, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || beforeSeq < 0 {
			badRequest(c, "invalid before_seq")
			return
		}
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, err := h.messages.ListMessages(c.Request.Context(), conversationID, userID, beforeSeq, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessages(items)))
}

func (h *ConversationHandler) Read(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}

	if err := h.conversations.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"conversation_id": conversationID.String()}))
}
