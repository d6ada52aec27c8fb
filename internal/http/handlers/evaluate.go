package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

type EvaluateHandler struct {
	evaluator services.EvaluatorService
}

func NewEvaluateHandler(evaluator services.EvaluatorService) *EvaluateHandler {
	return &EvaluateHandler{evaluator: evaluator}
}

// POST /api/v1/evaluate
//
// Runs one evaluation pass for the store right now instead of waiting for
// the scheduler's next tick. The pass is synchronous; the report is the
// same one the scheduler logs.
func (h *EvaluateHandler) RunPass(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	report, err := h.evaluator.RunPass(c.Request.Context(), storeID)
	if err != nil {
		respondServiceError(c, "evaluation_pass_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}
