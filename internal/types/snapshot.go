package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntitySnapshot is an append-only capture of an entity's state, taken and
// committed before the external platform is touched. It is what makes
// rollback well-defined even when an apply call partially succeeds.
type EntitySnapshot struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"store_id"`
	ActionID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"action_id"`
	EntityType    string         `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID      string         `gorm:"column:entity_id;not null;index" json:"entity_id"`
	CapturedState datatypes.JSON `gorm:"type:jsonb;column:captured_state;not null" json:"captured_state"`
	Reason        string         `gorm:"column:reason" json:"reason"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (EntitySnapshot) TableName() string { return "entity_snapshot" }
