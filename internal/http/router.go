package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/anthorai/ZYRA-AI-sub003/internal/http/handlers"
	httpMW "github.com/anthorai/ZYRA-AI-sub003/internal/http/middleware"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler   *httpH.HealthHandler
	ActionHandler   *httpH.ActionHandler
	ApprovalHandler *httpH.ApprovalHandler
	SettingsHandler *httpH.SettingsHandler
	RuleHandler     *httpH.RuleHandler
	EvaluateHandler *httpH.EvaluateHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("zyra-engine"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health (unscoped; load balancers carry no store header)
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	api.Use(httpMW.RequireStore())
	{
		// Actions
		if cfg.ActionHandler != nil {
			api.GET("/actions", cfg.ActionHandler.ListActions)
			api.GET("/actions/:id", cfg.ActionHandler.GetAction)
			api.POST("/actions/:id/push", cfg.ActionHandler.PushAction)
			api.POST("/actions/:id/rollback", cfg.ActionHandler.RollbackAction)
			api.POST("/actions/:id/cancel", cfg.ActionHandler.CancelAction)
			api.POST("/actions/bulk/push", cfg.ActionHandler.BulkPush)
			api.POST("/actions/bulk/rollback", cfg.ActionHandler.BulkRollback)
		}

		// Approvals
		if cfg.ApprovalHandler != nil {
			api.GET("/approvals", cfg.ApprovalHandler.ListPending)
			api.POST("/approvals", cfg.ApprovalHandler.FileProposal)
			api.POST("/approvals/:id/approve", cfg.ApprovalHandler.Approve)
			api.POST("/approvals/:id/reject", cfg.ApprovalHandler.Reject)
		}

		// Settings
		if cfg.SettingsHandler != nil {
			api.GET("/settings", cfg.SettingsHandler.GetSettings)
			api.PUT("/settings", cfg.SettingsHandler.UpdateSettings)
		}

		// Rules
		if cfg.RuleHandler != nil {
			api.GET("/rules", cfg.RuleHandler.ListRules)
			api.POST("/rules", cfg.RuleHandler.CreateRule)
			api.GET("/rules/:id", cfg.RuleHandler.GetRule)
			api.PATCH("/rules/:id", cfg.RuleHandler.UpdateRule)
			api.DELETE("/rules/:id", cfg.RuleHandler.DeleteRule)
		}

		// On-demand evaluation pass
		if cfg.EvaluateHandler != nil {
			api.POST("/evaluate", cfg.EvaluateHandler.RunPass)
		}
	}

	return r
}
