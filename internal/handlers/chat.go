package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/arena-backend/internal/services"
)

type ChatHandler struct {
	chat services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chatService}
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	chat, err := h.chat.CreateChat(c.Request.Context(), req.Title)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_chat_failed", err)
		return
	}
	RespondCreated(c, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chat.ListChats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_chats_failed", err)
		return
	}
	RespondOK(c, chats)
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}

	messages, err := h.chat.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			RespondError(c, http.StatusNotFound, "chat_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "list_messages_failed", err)
		return
	}
	RespondOK(c, messages)
}

type sendMessageRequest struct {
	Content  string   `json:"content" binding:"required"`
	Mode     string   `json:"mode" binding:"required"`
	ModelIDs []string `json:"model_ids"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !services.IsValidMode(req.Mode) {
		RespondError(c, http.StatusBadRequest, "invalid_mode", errors.New("unknown arena mode"))
		return
	}

	userMsg, assistantMsg, err := h.chat.SendMessage(c.Request.Context(), chatID, req.Content, req.Mode, req.ModelIDs)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			RespondError(c, http.StatusNotFound, "chat_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "send_message_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
	})
}
