package handler

import (
	"net/http"

	"studysphere/internal/commands"
	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// Send posts to conversation_id, or to recipient_id when the caller has no
// conversation id yet.
func (h *MessageHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	senderID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	cmd := commands.SendMessageCommand{
		SenderID:        senderID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	}
	var err error
	if req.ConversationID != "" {
		if cmd.ConversationID, err = uuid.Parse(req.ConversationID); err != nil {
			badRequest(c, "invalid conversation id")
			return
		}
	}
	if req.RecipientID != "" {
		if cmd.RecipientID, err = uuid.Parse(req.RecipientID); err != nil {
			badRequest(c, "invalid recipient id")
			return
		}
	}

	msg, err := h.service.Send(c.Request.Context(), cmd)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromMessage(msg)))
}
