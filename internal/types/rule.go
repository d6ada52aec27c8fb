package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RuleSourcePreset   = "preset"
	RuleSourceOperator = "operator"
)

// AutomationRule triggers candidate actions when its condition matches an
// entity's signals. StoreID nil means the rule is global and applies to every
// store. Rules referenced by actions are soft-deleted only, so the audit
// trail stays intact.
type AutomationRule struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID         *uuid.UUID     `gorm:"type:uuid;column:store_id;index" json:"store_id,omitempty"`
	Name            string         `gorm:"column:name;not null" json:"name"`
	ActionType      string         `gorm:"column:action_type;not null;index" json:"action_type"`
	EntityType      string         `gorm:"column:entity_type;not null" json:"entity_type"`
	Condition       datatypes.JSON `gorm:"type:jsonb;column:condition;not null" json:"condition"`
	Priority        int            `gorm:"column:priority;not null;default:0" json:"priority"` // higher runs first
	CooldownSeconds int            `gorm:"column:cooldown_seconds;not null;default:0" json:"cooldown_seconds"`
	Enabled         bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	Source          string         `gorm:"column:source;not null;default:'operator'" json:"source"` // preset|operator
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AutomationRule) TableName() string { return "automation_rule" }
