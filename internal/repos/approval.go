package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

type ApprovalRepo interface {
	// CreateDeduped inserts the approval unless an identical pending proposal
	// already exists. The partial unique index on
	// (store_id, action_type, dedup_key, channel) WHERE status='pending'
	// arbitrates races; on conflict the existing row is returned with
	// created=false.
	CreateDeduped(dbc dbctx.Context, approval *types.PendingApproval) (*types.PendingApproval, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PendingApproval, error)
	ListPending(dbc dbctx.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error)
	// Resolve is the pending→approved/rejected compare-and-set. Returns false
	// when the row was already resolved.
	Resolve(dbc dbctx.Context, id uuid.UUID, toStatus, reviewedBy string) (bool, error)
	SetExecutedAction(dbc dbctx.Context, id uuid.UUID, actionID uuid.UUID) error
}

type approvalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewApprovalRepo(db *gorm.DB, baseLog *logger.Logger) ApprovalRepo {
	return &approvalRepo{
		db:  db,
		log: baseLog.With("repo", "ApprovalRepo"),
	}
}

func (r *approvalRepo) CreateDeduped(dbc dbctx.Context, approval *types.PendingApproval) (*types.PendingApproval, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if approval == nil {
		return nil, false, nil
	}
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if approval.Status == "" {
		approval.Status = types.ApprovalStatusPending
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(approval)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return approval, true, nil
	}
	// Lost the race (or the proposal is a repeat): hand back the live row.
	existing, err := r.findPendingDuplicate(dbc, approval)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The competing row resolved between insert and read; treat the
		// proposal as absorbed rather than retrying into a loop.
		return approval, false, nil
	}
	return existing, false, nil
}

func (r *approvalRepo) findPendingDuplicate(dbc dbctx.Context, approval *types.PendingApproval) (*types.PendingApproval, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var existing types.PendingApproval
	err := transaction.WithContext(dbc.Ctx).
		Where("store_id = ? AND action_type = ? AND dedup_key = ? AND channel = ? AND status = ?",
			approval.StoreID, approval.ActionType, approval.DedupKey, approval.Channel, types.ApprovalStatusPending).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID == uuid.Nil {
		return nil, nil
	}
	return &existing, nil
}

func (r *approvalRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PendingApproval, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var approval types.PendingApproval
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&approval).Error
	if err != nil {
		return nil, err
	}
	if approval.ID == uuid.Nil {
		return nil, nil
	}
	return &approval, nil
}

func (r *approvalRepo) ListPending(dbc dbctx.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	query := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingApproval{}).
		Where("status = ?", types.ApprovalStatusPending)
	if storeID != uuid.Nil {
		query = query.Where("store_id = ?", storeID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.PendingApproval
	err := query.
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *approvalRepo) Resolve(dbc dbctx.Context, id uuid.UUID, toStatus, reviewedBy string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingApproval{}).
		Where("id = ? AND status = ?", id, types.ApprovalStatusPending).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"reviewed_by": reviewedBy,
			"reviewed_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *approvalRepo) SetExecutedAction(dbc dbctx.Context, id uuid.UUID, actionID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || actionID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.PendingApproval{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"executed_action_id": actionID,
			"updated_at":         time.Now(),
		}).Error
}
