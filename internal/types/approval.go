package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// PendingApproval is a proposed action awaiting human review. For
// recipient-addressed types a partial unique index on
// (store_id, action_type, dedup_key, channel) WHERE status='pending'
// guarantees at most one in-flight proposal per recipient, even under
// overlapping evaluation passes. The index is created in db.PostgresService.
type PendingApproval struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"store_id"`
	ActionType        string         `gorm:"column:action_type;not null" json:"action_type"`
	EntityType        string         `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID          string         `gorm:"column:entity_id;not null" json:"entity_id"`
	RecommendedAction datatypes.JSON `gorm:"type:jsonb;column:recommended_action" json:"recommended_action"`
	AIReasoning       string         `gorm:"column:ai_reasoning" json:"ai_reasoning"`
	Status            string         `gorm:"column:status;not null;index;default:'pending'" json:"status"` // pending|approved|rejected
	Priority          int            `gorm:"column:priority;not null;default:0" json:"priority"`
	EstimatedImpact   datatypes.JSON `gorm:"type:jsonb;column:estimated_impact" json:"estimated_impact"`
	RecipientEmail    string         `gorm:"column:recipient_email" json:"recipient_email,omitempty"`
	RecipientPhone    string         `gorm:"column:recipient_phone" json:"recipient_phone,omitempty"`
	Channel           string         `gorm:"column:channel" json:"channel,omitempty"` // email|sms
	DedupKey          string         `gorm:"column:dedup_key;not null;default:''" json:"-"`
	RuleID            *uuid.UUID     `gorm:"type:uuid;column:rule_id" json:"rule_id,omitempty"`
	ExecutedActionID  *uuid.UUID     `gorm:"type:uuid;column:executed_action_id" json:"executed_action_id,omitempty"`
	ReviewedBy        string         `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (PendingApproval) TableName() string { return "pending_approval" }
