package repos

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

type SettingsRepo interface {
	// GetOrCreate returns the store's settings row, creating the default
	// (everything off, conservative budgets) on first touch. Concurrent first
	// touches resolve through the store_id unique index.
	GetOrCreate(dbc dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error)
	Get(dbc dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error)
	UpdateFields(dbc dbctx.Context, storeID uuid.UUID, updates map[string]interface{}) error
	ListStoreIDs(dbc dbctx.Context) ([]uuid.UUID, error)
}

type settingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingsRepo(db *gorm.DB, baseLog *logger.Logger) SettingsRepo {
	return &settingsRepo{
		db:  db,
		log: baseLog.With("repo", "SettingsRepo"),
	}
}

func defaultSettings(storeID uuid.UUID) *types.AutomationSettings {
	enabled, _ := json.Marshal(types.KnownActionTypes())
	return &types.AutomationSettings{
		ID:                        uuid.New(),
		StoreID:                   storeID,
		GlobalAutopilotEnabled:    false,
		AutopilotMode:             types.AutopilotModeSafe,
		DryRunMode:                false,
		AutoPublishEnabled:        false,
		MaxDailyActions:           10,
		MaxCatalogChangePercent:   20,
		AutonomousCreditLimit:     100,
		EnabledActionTypes:        datatypes.JSON(enabled),
		EvaluationIntervalSeconds: 300,
	}
}

func (r *settingsRepo) GetOrCreate(dbc dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if storeID == uuid.Nil {
		return nil, nil
	}
	existing, err := r.Get(dbc, storeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	settings := defaultSettings(storeID)
	err = transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}},
			DoNothing: true,
		}).
		Create(settings).Error
	if err != nil {
		return nil, err
	}
	// Re-read so a concurrent creator's row wins consistently.
	return r.Get(dbc, storeID)
}

func (r *settingsRepo) Get(dbc dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if storeID == uuid.Nil {
		return nil, nil
	}
	var settings types.AutomationSettings
	err := transaction.WithContext(dbc.Ctx).
		Where("store_id = ?", storeID).
		Limit(1).
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.ID == uuid.Nil {
		return nil, nil
	}
	return &settings, nil
}

func (r *settingsRepo) UpdateFields(dbc dbctx.Context, storeID uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if storeID == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.AutomationSettings{}).
		Where("store_id = ?", storeID).
		Updates(updates).Error
}

func (r *settingsRepo) ListStoreIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.AutomationSettings{}).
		Pluck("store_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
