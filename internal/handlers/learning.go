package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/arena-backend/internal/platform/ctxutil"
	"github.com/yungbote/arena-backend/internal/services"
	"github.com/yungbote/arena-backend/internal/types"
)

type LearningHandler struct {
	learning services.LearningService
	stats    services.StatsService
}

func NewLearningHandler(learningService services.LearningService, statsService services.StatsService) *LearningHandler {
	return &LearningHandler{learning: learningService, stats: statsService}
}

type recordEventRequest struct {
	Type    string  `json:"type" binding:"required"`
	ModelID string  `json:"model_id" binding:"required"`
	ChatID  *string `json:"chat_id"`

	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Feedback  string `json:"feedback"`

	IsPositive *bool  `json:"is_positive"`
	Reason     string `json:"reason"`
	Excerpt    string `json:"excerpt"`
}

func (h *LearningHandler) RecordEvent(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}

	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var chatID *uuid.UUID
	if req.ChatID != nil {
		parsed, err := uuid.Parse(*req.ChatID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
			return
		}
		chatID = &parsed
	}

	payload := types.EventPayload{}
	if req.Original != "" || req.Corrected != "" || req.Feedback != "" {
		payload.Correction = &types.CorrectionPayload{
			Original:  req.Original,
			Corrected: req.Corrected,
			Feedback:  req.Feedback,
		}
	}
	if req.IsPositive != nil {
		payload.Feedback = &types.FeedbackPayload{
			IsPositive: *req.IsPositive,
			Reason:     req.Reason,
			Excerpt:    req.Excerpt,
		}
	}

	event, err := h.learning.RecordEvent(c.Request.Context(), services.RecordEventInput{
		Type:    req.Type,
		ModelID: req.ModelID,
		ChatID:  chatID,
		UserID:  rd.UserID,
		Payload: payload,
	})
	if err != nil {
		RespondError(c, http.StatusBadRequest, "record_event_failed", err)
		return
	}
	RespondCreated(c, event)
}

func (h *LearningHandler) ListPatterns(c *gin.Context) {
	patterns, err := h.learning.ListPatterns(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_patterns_failed", err)
		return
	}
	RespondOK(c, patterns)
}

func (h *LearningHandler) ListProposals(c *gin.Context) {
	proposals, err := h.learning.ListProposals(c.Request.Context(), c.Query("status"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_proposals_failed", err)
		return
	}
	RespondOK(c, proposals)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

func (h *LearningHandler) ApproveProposal(c *gin.Context) {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_proposal_id", err)
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	approvedBy, err := uuid.Parse(req.ApprovedBy)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_approved_by", err)
		return
	}

	rule, err := h.learning.ApproveProposal(c.Request.Context(), proposalID, approvedBy)
	if err != nil {
		respondLearningError(c, err, "approve_failed")
		return
	}
	RespondCreated(c, rule)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *LearningHandler) RejectProposal(c *gin.Context) {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_proposal_id", err)
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	proposal, err := h.learning.RejectProposal(c.Request.Context(), proposalID, req.Reason)
	if err != nil {
		respondLearningError(c, err, "reject_failed")
		return
	}
	RespondOK(c, proposal)
}

func (h *LearningHandler) ListActiveRules(c *gin.Context) {
	rules, err := h.learning.ListActiveRules(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_rules_failed", err)
		return
	}
	RespondOK(c, rules)
}

func (h *LearningHandler) DeactivateRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
		return
	}

	if err := h.learning.DeactivateRule(c.Request.Context(), ruleID); err != nil {
		respondLearningError(c, err, "deactivate_failed")
		return
	}
	RespondOK(c, gin.H{"deactivated": true})
}

func (h *LearningHandler) Stats(c *gin.Context) {
	overview, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	RespondOK(c, overview)
}

func respondLearningError(c *gin.Context, err error, code string) {
	switch {
	case errors.Is(err, services.ErrRuleNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrAlreadyProcessed):
		RespondError(c, http.StatusConflict, "already_processed", err)
	case errors.Is(err, services.ErrReasonRequired):
		RespondError(c, http.StatusBadRequest, "reason_required", err)
	default:
		RespondError(c, http.StatusInternalServerError, code, err)
	}
}
