package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

type RuleHandler struct {
	rules services.RuleService
}

func NewRuleHandler(rules services.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// GET /api/v1/rules
func (h *RuleHandler) ListRules(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	includeDisabled := strings.EqualFold(strings.TrimSpace(c.Query("include_disabled")), "true")

	rules, err := h.rules.List(c.Request.Context(), storeID, includeDisabled)
	if err != nil {
		respondServiceError(c, "list_rules_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rules": rules})
}

// POST /api/v1/rules
func (h *RuleHandler) CreateRule(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	var input services.RuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule", err)
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), storeID, input)
	if err != nil {
		respondServiceError(c, "create_rule_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rule": rule})
}

// GET /api/v1/rules/:id
func (h *RuleHandler) GetRule(c *gin.Context) {
	storeID, ruleID, ok := h.scopedRuleID(c)
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), storeID, ruleID)
	if err != nil {
		respondServiceError(c, "rule_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"rule": rule})
}

// PATCH /api/v1/rules/:id
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	storeID, ruleID, ok := h.scopedRuleID(c)
	if !ok {
		return
	}
	var patch services.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule_patch", err)
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), storeID, ruleID, patch)
	if err != nil {
		respondServiceError(c, "update_rule_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rule": rule})
}

// DELETE /api/v1/rules/:id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	storeID, ruleID, ok := h.scopedRuleID(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), storeID, ruleID); err != nil {
		respondServiceError(c, "delete_rule_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": ruleID})
}

func (h *RuleHandler) scopedRuleID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	storeID, ok := storeScope(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return storeID, ruleID, true
}
