package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

const (
	defaultActionPageSize = 50
	maxActionPageSize     = 200
)

type ActionHandler struct {
	lifecycle services.LifecycleService
	bulk      services.BulkService
}

func NewActionHandler(lifecycle services.LifecycleService, bulk services.BulkService) *ActionHandler {
	return &ActionHandler{lifecycle: lifecycle, bulk: bulk}
}

// GET /api/v1/actions
func (h *ActionHandler) ListActions(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}

	q := repos.ActionQuery{
		StoreID:    storeID,
		Status:     strings.TrimSpace(c.Query("status")),
		ActionType: strings.TrimSpace(c.Query("action_type")),
		EntityType: strings.TrimSpace(c.Query("entity_type")),
		EntityID:   strings.TrimSpace(c.Query("entity_id")),
		Limit:      defaultActionPageSize,
	}
	if v := strings.TrimSpace(c.Query("rule_id")); v != "" {
		ruleID, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
			return
		}
		q.RuleID = &ruleID
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if q.Limit > maxActionPageSize {
		q.Limit = maxActionPageSize
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.Offset = n
		}
	}

	actions, total, err := h.lifecycle.List(c.Request.Context(), q)
	if err != nil {
		respondServiceError(c, "list_actions_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"actions": actions,
		"total":   total,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

// GET /api/v1/actions/:id
func (h *ActionHandler) GetAction(c *gin.Context) {
	action, ok := h.scopedAction(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"action": action})
}

// POST /api/v1/actions/:id/push
func (h *ActionHandler) PushAction(c *gin.Context) {
	action, ok := h.scopedAction(c)
	if !ok {
		return
	}
	pushed, err := h.lifecycle.PushToShopify(c.Request.Context(), action.ID)
	if err != nil {
		respondServiceError(c, "push_action_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"action": pushed})
}

// POST /api/v1/actions/:id/rollback
func (h *ActionHandler) RollbackAction(c *gin.Context) {
	action, ok := h.scopedAction(c)
	if !ok {
		return
	}
	rolledBack, err := h.lifecycle.Rollback(c.Request.Context(), action.ID)
	if err != nil {
		respondServiceError(c, "rollback_action_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"action": rolledBack})
}

// POST /api/v1/actions/:id/cancel
func (h *ActionHandler) CancelAction(c *gin.Context) {
	action, ok := h.scopedAction(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; an empty cancel takes the default reason.
	_ = c.ShouldBindJSON(&req)

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by operator"
	}
	cancelled, err := h.lifecycle.Cancel(c.Request.Context(), action.ID, reason)
	if err != nil {
		respondServiceError(c, "cancel_action_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"action": cancelled})
}

// POST /api/v1/actions/bulk/push
func (h *ActionHandler) BulkPush(c *gin.Context) {
	h.runBulk(c, "bulk_push_failed", h.bulk.BulkPush)
}

// POST /api/v1/actions/bulk/rollback
func (h *ActionHandler) BulkRollback(c *gin.Context) {
	h.runBulk(c, "bulk_rollback_failed", h.bulk.BulkRollback)
}

func (h *ActionHandler) runBulk(
	c *gin.Context,
	code string,
	op func(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*services.BulkResult, error),
) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	var req struct {
		ActionIDs []uuid.UUID `json:"action_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_bulk_request", err)
		return
	}
	if len(req.ActionIDs) == 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_bulk_request", errors.New("action_ids is required"))
		return
	}

	result, err := op(c.Request.Context(), storeID, req.ActionIDs)
	if err != nil {
		respondServiceError(c, code, err)
		return
	}
	response.RespondOK(c, gin.H{"result": result})
}

// scopedAction loads the :id action and pins it to the request's store. A
// foreign action reads as not found so ids cannot be probed across stores.
func (h *ActionHandler) scopedAction(c *gin.Context) (*types.AgentAction, bool) {
	storeID, ok := storeScope(c)
	if !ok {
		return nil, false
	}
	actionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_action_id", err)
		return nil, false
	}
	action, err := h.lifecycle.Get(c.Request.Context(), actionID)
	if err != nil {
		respondServiceError(c, "action_not_found", err)
		return nil, false
	}
	if action.StoreID != storeID {
		response.RespondError(c, http.StatusNotFound, "action_not_found", services.ErrActionNotFound)
		return nil, false
	}
	return action, true
}
