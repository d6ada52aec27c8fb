package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// SnapshotRepo is append-only: snapshots are the rollback evidence trail
// and are never updated or deleted once written.
type SnapshotRepo interface {
	Create(dbc dbctx.Context, snap *types.EntitySnapshot) (*types.EntitySnapshot, error)
	GetByAction(dbc dbctx.Context, actionID uuid.UUID) (*types.EntitySnapshot, error)
	ListForEntity(dbc dbctx.Context, storeID uuid.UUID, entityType, entityID string, limit int) ([]*types.EntitySnapshot, error)
}

type snapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SnapshotRepo {
	return &snapshotRepo{
		db:  db,
		log: baseLog.With("repo", "SnapshotRepo"),
	}
}

func (r *snapshotRepo) Create(dbc dbctx.Context, snap *types.EntitySnapshot) (*types.EntitySnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snap == nil {
		return nil, nil
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(snap).Error; err != nil {
		return nil, err
	}
	return snap, nil
}

// GetByAction returns the newest snapshot for the action. Reruns after a
// failed attempt write a fresh snapshot, and rollback must restore the
// state captured by the attempt that actually published.
func (r *snapshotRepo) GetByAction(dbc dbctx.Context, actionID uuid.UUID) (*types.EntitySnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if actionID == uuid.Nil {
		return nil, nil
	}
	var snap types.EntitySnapshot
	err := transaction.WithContext(dbc.Ctx).
		Where("action_id = ?", actionID).
		Order("created_at DESC").
		Limit(1).
		Find(&snap).Error
	if err != nil {
		return nil, err
	}
	if snap.ID == uuid.Nil {
		return nil, nil
	}
	return &snap, nil
}

func (r *snapshotRepo) ListForEntity(dbc dbctx.Context, storeID uuid.UUID, entityType, entityID string, limit int) ([]*types.EntitySnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []*types.EntitySnapshot
	err := transaction.WithContext(dbc.Ctx).
		Where("store_id = ? AND entity_type = ? AND entity_id = ?", storeID, entityType, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
