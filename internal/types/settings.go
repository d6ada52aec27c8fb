package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AutopilotModeSafe       = "safe"
	AutopilotModeBalanced   = "balanced"
	AutopilotModeAggressive = "aggressive"
)

// Action types the engine knows how to govern.
const (
	ActionTypeContentOptimize = "content_optimize"
	ActionTypePriceAdjust     = "price_adjust"
	ActionTypeSEOUpdate       = "seo_update"
	ActionTypeCampaignSend    = "campaign_send"
	ActionTypeCartRecovery    = "cart_recovery"
)

// Entity types touched by actions.
const (
	EntityTypeProduct  = "product"
	EntityTypeCustomer = "customer"
	EntityTypeCart     = "cart"
)

// AutomationSettings is the per-store policy singleton. It is read on every
// admission decision and mutated only through validated updates.
type AutomationSettings struct {
	ID                        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID                   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"store_id"`
	GlobalAutopilotEnabled    bool           `gorm:"column:global_autopilot_enabled;not null;default:false" json:"global_autopilot_enabled"`
	AutopilotMode             string         `gorm:"column:autopilot_mode;not null;default:'safe'" json:"autopilot_mode"` // safe|balanced|aggressive
	DryRunMode                bool           `gorm:"column:dry_run_mode;not null;default:false" json:"dry_run_mode"`
	AutoPublishEnabled        bool           `gorm:"column:auto_publish_enabled;not null;default:false" json:"auto_publish_enabled"`
	MaxDailyActions           int            `gorm:"column:max_daily_actions;not null;default:10" json:"max_daily_actions"`
	MaxCatalogChangePercent   float64        `gorm:"column:max_catalog_change_percent;not null;default:20" json:"max_catalog_change_percent"`
	AutonomousCreditLimit     float64        `gorm:"column:autonomous_credit_limit;not null;default:100" json:"autonomous_credit_limit"`
	EnabledActionTypes        datatypes.JSON `gorm:"type:jsonb;column:enabled_action_types" json:"enabled_action_types"`
	EvaluationIntervalSeconds int            `gorm:"column:evaluation_interval_seconds;not null;default:300" json:"evaluation_interval_seconds"`
	CreatedAt                 time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AutomationSettings) TableName() string { return "automation_settings" }

// KnownActionTypes lists every governable action type.
func KnownActionTypes() []string {
	return []string{
		ActionTypeContentOptimize,
		ActionTypePriceAdjust,
		ActionTypeSEOUpdate,
		ActionTypeCampaignSend,
		ActionTypeCartRecovery,
	}
}

// EnabledTypes decodes the enabled_action_types column. A missing or invalid
// column means nothing is enabled: the safe default.
func (s *AutomationSettings) EnabledTypes() []string {
	if s == nil || len(s.EnabledActionTypes) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(s.EnabledActionTypes, &out); err != nil {
		return nil
	}
	return out
}

// TypeEnabled reports whether actionType is in the enabled set.
func (s *AutomationSettings) TypeEnabled(actionType string) bool {
	for _, t := range s.EnabledTypes() {
		if t == actionType {
			return true
		}
	}
	return false
}

// IsOutreachType reports whether the action type addresses a customer
// recipient rather than a catalog entity.
func IsOutreachType(actionType string) bool {
	return actionType == ActionTypeCampaignSend || actionType == ActionTypeCartRecovery
}
