package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

const (
	defaultApprovalPageSize = 50
	maxApprovalPageSize     = 200
)

type ApprovalHandler struct {
	approvals services.ApprovalService
}

func NewApprovalHandler(approvals services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// proposalRequest is the wire form of a filed proposal. The agent calls this
// when it wants a change reviewed instead of (or in addition to) the
// scheduled evaluation passes; the store scope always comes from the header,
// never the body.
type proposalRequest struct {
	RuleID          *uuid.UUID            `json:"rule_id,omitempty"`
	RuleName        string                `json:"rule_name,omitempty"`
	ActionType      string                `json:"action_type"`
	EntityType      string                `json:"entity_type"`
	EntityID        string                `json:"entity_id"`
	Priority        int                   `json:"priority"`
	Payload         datatypes.JSON        `json:"payload"`
	EstimatedImpact *types.ImpactEstimate `json:"estimated_impact,omitempty"`
	Reasoning       string                `json:"reasoning,omitempty"`
	RecipientEmail  string                `json:"recipient_email,omitempty"`
	RecipientPhone  string                `json:"recipient_phone,omitempty"`
	Channel         string                `json:"channel,omitempty"`
}

// GET /api/v1/approvals
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}

	limit := defaultApprovalPageSize
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxApprovalPageSize {
		limit = maxApprovalPageSize
	}
	offset := 0
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	approvals, total, err := h.approvals.ListPending(c.Request.Context(), storeID, limit, offset)
	if err != nil {
		respondServiceError(c, "list_approvals_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"approvals": approvals,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// POST /api/v1/approvals
func (h *ApprovalHandler) FileProposal(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	var req proposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_proposal", err)
		return
	}

	cand := rules.Candidate{
		StoreID:        storeID,
		RuleName:       strings.TrimSpace(req.RuleName),
		Priority:       req.Priority,
		ActionType:     strings.TrimSpace(req.ActionType),
		EntityType:     strings.TrimSpace(req.EntityType),
		EntityID:       strings.TrimSpace(req.EntityID),
		Payload:        req.Payload,
		Reasoning:      req.Reasoning,
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		RecipientPhone: strings.TrimSpace(req.RecipientPhone),
		Channel:        strings.TrimSpace(req.Channel),
		MatchedAt:      time.Now(),
	}
	if req.RuleID != nil {
		cand.RuleID = *req.RuleID
	}
	if req.EstimatedImpact != nil {
		cand.Impact = *req.EstimatedImpact
	}

	approval, created, err := h.approvals.Propose(c.Request.Context(), cand)
	if err != nil {
		respondServiceError(c, "file_proposal_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"approval": approval, "created": created})
}

// POST /api/v1/approvals/:id/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	approval, reviewer, ok := h.scopedReview(c)
	if !ok {
		return
	}
	resolved, action, err := h.approvals.Approve(c.Request.Context(), approval.ID, reviewer)
	if err != nil {
		respondServiceError(c, "approve_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"approval": resolved, "action": action})
}

// POST /api/v1/approvals/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	approval, reviewer, ok := h.scopedReview(c)
	if !ok {
		return
	}
	resolved, err := h.approvals.Reject(c.Request.Context(), approval.ID, reviewer)
	if err != nil {
		respondServiceError(c, "reject_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"approval": resolved})
}

// scopedReview parses the :id approval, pins it to the request's store and
// extracts the reviewer identity every decision must carry.
func (h *ApprovalHandler) scopedReview(c *gin.Context) (*types.PendingApproval, string, bool) {
	storeID, ok := storeScope(c)
	if !ok {
		return nil, "", false
	}
	approvalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_approval_id", err)
		return nil, "", false
	}
	var req struct {
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_request", err)
		return nil, "", false
	}
	reviewer := strings.TrimSpace(req.ReviewedBy)
	if reviewer == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_reviewer", errors.New("reviewed_by is required"))
		return nil, "", false
	}

	approval, err := h.approvals.Get(c.Request.Context(), approvalID)
	if err != nil {
		respondServiceError(c, "approval_not_found", err)
		return nil, "", false
	}
	if approval.StoreID != storeID {
		response.RespondError(c, http.StatusNotFound, "approval_not_found", services.ErrApprovalNotFound)
		return nil, "", false
	}
	return approval, reviewer, true
}
