package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

type RuleRepo interface {
	Create(dbc dbctx.Context, rule *types.AutomationRule) (*types.AutomationRule, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AutomationRule, error)
	// ListForStore returns enabled global rules plus the store's own enabled
	// rules, highest priority first.
	ListForStore(dbc dbctx.Context, storeID uuid.UUID) ([]*types.AutomationRule, error)
	ListAll(dbc dbctx.Context, storeID *uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// Disable soft-disables; Delete soft-deletes. Rules referenced by actions
	// must never be hard-deleted, so there is no hard delete here at all.
	Disable(dbc dbctx.Context, id uuid.UUID) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	// SeedPresets inserts the given global preset rules, skipping any whose
	// name already exists so operator edits survive restarts.
	SeedPresets(dbc dbctx.Context, seed []*types.AutomationRule) (int64, error)
}

type ruleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleRepo(db *gorm.DB, baseLog *logger.Logger) RuleRepo {
	return &ruleRepo{
		db:  db,
		log: baseLog.With("repo", "RuleRepo"),
	}
}

func (r *ruleRepo) Create(dbc dbctx.Context, rule *types.AutomationRule) (*types.AutomationRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rule == nil {
		return nil, nil
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *ruleRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AutomationRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rule types.AutomationRule
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == uuid.Nil {
		return nil, nil
	}
	return &rule, nil
}

func (r *ruleRepo) ListForStore(dbc dbctx.Context, storeID uuid.UUID) ([]*types.AutomationRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AutomationRule
	err := transaction.WithContext(dbc.Ctx).
		Where("enabled = ? AND (store_id IS NULL OR store_id = ?)", true, storeID).
		Order("priority DESC, name ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleRepo) ListAll(dbc dbctx.Context, storeID *uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	query := transaction.WithContext(dbc.Ctx).Model(&types.AutomationRule{})
	if storeID != nil {
		query = query.Where("store_id IS NULL OR store_id = ?", *storeID)
	}
	if !includeDisabled {
		query = query.Where("enabled = ?", true)
	}
	var out []*types.AutomationRule
	if err := query.Order("priority DESC, name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.AutomationRule{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ruleRepo) Disable(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"enabled": false})
}

func (r *ruleRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.AutomationRule{}).Error
}

func (r *ruleRepo) SeedPresets(dbc dbctx.Context, seed []*types.AutomationRule) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(seed) == 0 {
		return 0, nil
	}
	var inserted int64
	for _, rule := range seed {
		if rule == nil || rule.Name == "" {
			continue
		}
		// Unscoped: a preset the operator soft-deleted stays deleted.
		var existing types.AutomationRule
		err := transaction.WithContext(dbc.Ctx).
			Unscoped().
			Where("name = ? AND store_id IS NULL AND source = ?", rule.Name, types.RuleSourcePreset).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return inserted, err
		}
		if existing.ID != uuid.Nil {
			continue
		}
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		if err := transaction.WithContext(dbc.Ctx).Create(rule).Error; err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
