package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Action statuses. pending, running are transient; completed, failed,
// rolled_back, dry_run and cancelled are terminal (completed may still move
// to rolled_back).
const (
	ActionStatusPending    = "pending"
	ActionStatusRunning    = "running"
	ActionStatusCompleted  = "completed"
	ActionStatusFailed     = "failed"
	ActionStatusRolledBack = "rolled_back"
	ActionStatusDryRun     = "dry_run"
	ActionStatusCancelled  = "cancelled"
)

const (
	ExecutedByAgent     = "agent"
	ExecutedByUser      = "user"
	ExecutedByScheduler = "scheduler"
)

// Error classes recorded on failed actions.
const (
	ErrorClassTimeout   = "timeout"
	ErrorClassTransient = "transient"
	ErrorClassPermanent = "permanent"
	ErrorClassNotFound  = "not_found"
	ErrorClassRollback  = "rollback_failed"
)

// AgentAction is one concrete, auditable attempt to change a catalog or
// customer entity. It is the unit of work of the engine and its audit record:
// rows are never deleted, only transitioned.
type AgentAction struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID            uuid.UUID      `gorm:"type:uuid;not null;index:idx_agent_action_store_created" json:"store_id"`
	ActionType         string         `gorm:"column:action_type;not null;index" json:"action_type"`
	EntityType         string         `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID           string         `gorm:"column:entity_id;not null;index;index:idx_agent_action_rule_entity,priority:2" json:"entity_id"`
	Status             string         `gorm:"column:status;not null;index" json:"status"` // pending|running|completed|failed|rolled_back|dry_run|cancelled
	DecisionReason     string         `gorm:"column:decision_reason" json:"decision_reason"`
	RuleID             *uuid.UUID     `gorm:"type:uuid;column:rule_id;index:idx_agent_action_rule_entity,priority:1" json:"rule_id,omitempty"`
	Payload            datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Result             datatypes.JSON `gorm:"type:jsonb;column:result" json:"result"`
	EstimatedImpact    datatypes.JSON `gorm:"type:jsonb;column:estimated_impact" json:"estimated_impact"`
	ActualImpact       datatypes.JSON `gorm:"type:jsonb;column:actual_impact" json:"actual_impact,omitempty"`
	CreditCost         float64        `gorm:"column:credit_cost;not null;default:0" json:"credit_cost"`
	RevenueDelta       float64        `gorm:"column:revenue_delta;not null;default:0" json:"revenue_delta"`
	ErrorClass         string         `gorm:"column:error_class" json:"error_class,omitempty"`
	ExecutedBy         string         `gorm:"column:executed_by;not null" json:"executed_by"` // agent|user|scheduler
	DryRun             bool           `gorm:"column:dry_run;not null;default:false" json:"dry_run"`
	PublishedToShopify bool           `gorm:"column:published_to_shopify;not null;default:false" json:"published_to_shopify"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index:idx_agent_action_store_created" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	StartedAt          *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	RolledBackAt       *time.Time     `gorm:"column:rolled_back_at" json:"rolled_back_at,omitempty"`
}

func (AgentAction) TableName() string { return "agent_action" }

// Terminal reports whether the action can never run again. A completed action
// is terminal for execution but may still be rolled back.
func ActionStatusTerminal(status string) bool {
	switch status {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusRolledBack, ActionStatusDryRun, ActionStatusCancelled:
		return true
	}
	return false
}
