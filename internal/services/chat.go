package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/ctxutil"
	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

var ErrChatNotFound = fmt.Errorf("chat not found")

// ChatService owns chat CRUD and wraps the orchestrator for one full turn:
// persist the user message, run the arena mode, persist the aggregated
// assistant message.
type ChatService interface {
	CreateChat(ctx context.Context, title string) (*types.Chat, error)
	ListChats(ctx context.Context) ([]*types.Chat, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error)
	SendMessage(ctx context.Context, chatID uuid.UUID, content, mode string, modelIDs []string) (*types.ChatMessage, *types.ChatMessage, error)
}

type chatService struct {
	db           *gorm.DB
	log          *logger.Logger
	chats        repos.ChatRepo
	messages     repos.ChatMessageRepo
	orchestrator Orchestrator
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chatRepo repos.ChatRepo,
	messageRepo repos.ChatMessageRepo,
	orch Orchestrator,
) ChatService {
	return &chatService{
		db:           db,
		log:          baseLog.With("service", "ChatService"),
		chats:        chatRepo,
		messages:     messageRepo,
		orchestrator: orch,
	}
}

func (s *chatService) requireUser(ctx context.Context) (uuid.UUID, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("not authenticated")
	}
	return rd.UserID, nil
}

func (s *chatService) ownedChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
	chat, err := s.chats.GetByID(ctx, nil, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil || chat.UserID != userID {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *chatService) CreateChat(ctx context.Context, title string) (*types.Chat, error) {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}

	now := time.Now().UTC()
	chat := &types.Chat{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.chats.Create(ctx, nil, []*types.Chat{chat})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *chatService) ListChats(ctx context.Context) ([]*types.Chat, error) {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.chats.GetByUserID(ctx, nil, userID)
}

func (s *chatService) ListMessages(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error) {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.messages.GetByChatID(ctx, nil, chatID)
}

func (s *chatService) SendMessage(ctx context.Context, chatID uuid.UUID, content, mode string, modelIDs []string) (*types.ChatMessage, *types.ChatMessage, error) {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.ownedChat(ctx, chatID, userID); err != nil {
		return nil, nil, err
	}

	// The orchestrator reads history first, so the new user turn is persisted
	// only after the arena result settles; it is part of history from the
	// next turn on.
	result, err := s.orchestrator.ProcessMessage(ctx, userID, chatID, content, mode, modelIDs)
	if err != nil {
		return nil, nil, err
	}

	metadata := mustJSON(result.Metadata)

	now := time.Now().UTC()
	userMsg := &types.ChatMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      types.MessageRoleUser,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assistantMsg := &types.ChatMessage{
		ID:           uuid.New(),
		ChatID:       chatID,
		Role:         types.MessageRoleAssistant,
		Content:      result.Response,
		ModelIDs:     result.JoinedModelIDs(),
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Cost:         result.Cost,
		Metadata:     metadata,
		CreatedAt:    now.Add(time.Millisecond),
		UpdatedAt:    now.Add(time.Millisecond),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.messages.Create(ctx, tx, []*types.ChatMessage{userMsg, assistantMsg})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("persist turn: %w", err)
	}

	s.log.Info("Arena turn completed",
		"chat_id", chatID.String(),
		"mode", mode,
		"model_ids", assistantMsg.ModelIDs,
		"input_tokens", assistantMsg.InputTokens,
		"output_tokens", assistantMsg.OutputTokens,
		"cost", assistantMsg.Cost,
	)
	return userMsg, assistantMsg, nil
}
