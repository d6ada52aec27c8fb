package repos

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// ActionQuery filters ListActions. Zero values mean "no filter".
type ActionQuery struct {
	StoreID    uuid.UUID
	Status     string
	ActionType string
	EntityType string
	EntityID   string
	RuleID     *uuid.UUID
	Limit      int
	Offset     int
}

type ActionRepo interface {
	Create(dbc dbctx.Context, action *types.AgentAction) (*types.AgentAction, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AgentAction, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.AgentAction, error)
	List(dbc dbctx.Context, q ActionQuery) ([]*types.AgentAction, int64, error)
	// TransitionStatus is the compare-and-set guard every lifecycle move goes
	// through: the row is updated only if its status is still fromStatus.
	// Returns false when the guard did not match.
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatus, toStatus string, updates map[string]interface{}) (bool, error)
	// MarkPublished flips published_to_shopify under the same guard
	// discipline: only a row still completed and unpublished takes the
	// write. Returns false when a concurrent rollback or push got there
	// first.
	MarkPublished(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	LatestForRuleEntity(dbc dbctx.Context, ruleID uuid.UUID, entityID string) (*types.AgentAction, error)
	CountForStoreSince(dbc dbctx.Context, storeID uuid.UUID, since time.Time) (int64, error)
	SumCreditsSince(dbc dbctx.Context, storeID uuid.UUID, since time.Time) (float64, error)
	DistinctEntitiesSince(dbc dbctx.Context, storeID uuid.UUID, entityType string, since time.Time) (int64, error)
	ReapStaleRunning(dbc dbctx.Context, olderThan time.Duration, errorDetail string) (int64, error)
}

type actionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActionRepo(db *gorm.DB, baseLog *logger.Logger) ActionRepo {
	return &actionRepo{
		db:  db,
		log: baseLog.With("repo", "ActionRepo"),
	}
}

func (r *actionRepo) Create(dbc dbctx.Context, action *types.AgentAction) (*types.AgentAction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if action == nil {
		return nil, nil
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(action).Error; err != nil {
		return nil, err
	}
	return action, nil
}

func (r *actionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AgentAction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var action types.AgentAction
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&action).Error
	if err != nil {
		return nil, err
	}
	if action.ID == uuid.Nil {
		return nil, nil
	}
	return &action, nil
}

func (r *actionRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.AgentAction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AgentAction
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *actionRepo) List(dbc dbctx.Context, q ActionQuery) ([]*types.AgentAction, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	query := transaction.WithContext(dbc.Ctx).Model(&types.AgentAction{})
	if q.StoreID != uuid.Nil {
		query = query.Where("store_id = ?", q.StoreID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.ActionType != "" {
		query = query.Where("action_type = ?", q.ActionType)
	}
	if q.EntityType != "" {
		query = query.Where("entity_type = ?", q.EntityType)
	}
	if q.EntityID != "" {
		query = query.Where("entity_id = ?", q.EntityID)
	}
	if q.RuleID != nil {
		query = query.Where("rule_id = ?", *q.RuleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.AgentAction
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(q.Offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *actionRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatus, toStatus string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = toStatus
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *actionRepo) MarkPublished(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Where("id = ? AND status = ? AND published_to_shopify = ?", id, types.ActionStatusCompleted, false).
		Updates(map[string]interface{}{
			"published_to_shopify": true,
			"result":               result,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *actionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *actionRepo) LatestForRuleEntity(dbc dbctx.Context, ruleID uuid.UUID, entityID string) (*types.AgentAction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ruleID == uuid.Nil || entityID == "" {
		return nil, nil
	}
	var action types.AgentAction
	err := transaction.WithContext(dbc.Ctx).
		Where("rule_id = ? AND entity_id = ?", ruleID, entityID).
		Order("created_at DESC").
		Limit(1).
		Find(&action).Error
	if err != nil {
		return nil, err
	}
	if action.ID == uuid.Nil {
		return nil, nil
	}
	return &action, nil
}

// CountForStoreSince counts agent-initiated actions created at or after
// since. Human-approved and dashboard-initiated actions are exempt from the
// autonomous budgets, so they are excluded here.
func (r *actionRepo) CountForStoreSince(dbc dbctx.Context, storeID uuid.UUID, since time.Time) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Where("store_id = ? AND executed_by = ? AND created_at >= ?", storeID, types.ExecutedByAgent, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *actionRepo) SumCreditsSince(dbc dbctx.Context, storeID uuid.UUID, since time.Time) (float64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total *float64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Select("SUM(credit_cost)").
		Where("store_id = ? AND executed_by = ? AND created_at >= ?", storeID, types.ExecutedByAgent, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *actionRepo) DistinctEntitiesSince(dbc dbctx.Context, storeID uuid.UUID, entityType string, since time.Time) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Distinct("entity_id").
		Where("store_id = ? AND entity_type = ? AND executed_by = ? AND created_at >= ?", storeID, entityType, types.ExecutedByAgent, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ReapStaleRunning fails actions stuck in running longer than olderThan.
// The collaborator call that owned them has long since timed out; whatever
// happened on the platform, the snapshot is retained for reconciliation.
func (r *actionRepo) ReapStaleRunning(dbc dbctx.Context, olderThan time.Duration, errorDetail string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	cutoff := now.Add(-olderThan)
	detail, err := json.Marshal(map[string]string{"error": errorDetail})
	if err != nil {
		return 0, err
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.AgentAction{}).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", types.ActionStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":       types.ActionStatusFailed,
			"error_class":  types.ErrorClassTimeout,
			"result":       datatypes.JSON(detail),
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
