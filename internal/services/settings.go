package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// SettingsPatch carries only the fields the caller wants to change.
type SettingsPatch struct {
	GlobalAutopilotEnabled    *bool     `json:"global_autopilot_enabled,omitempty"`
	AutopilotMode             *string   `json:"autopilot_mode,omitempty"`
	DryRunMode                *bool     `json:"dry_run_mode,omitempty"`
	AutoPublishEnabled        *bool     `json:"auto_publish_enabled,omitempty"`
	MaxDailyActions           *int      `json:"max_daily_actions,omitempty"`
	MaxCatalogChangePercent   *float64  `json:"max_catalog_change_percent,omitempty"`
	AutonomousCreditLimit     *float64  `json:"autonomous_credit_limit,omitempty"`
	EnabledActionTypes        *[]string `json:"enabled_action_types,omitempty"`
	EvaluationIntervalSeconds *int      `json:"evaluation_interval_seconds,omitempty"`
}

type SettingsService interface {
	// Get reads through the Redis cache; the database row is authoritative.
	Get(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, error)
	Update(ctx context.Context, storeID uuid.UUID, patch SettingsPatch) (*types.AutomationSettings, error)
	ListStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}

type settingsService struct {
	log      *logger.Logger
	settings repos.SettingsRepo
	actions  repos.ActionRepo
	cache    redisclient.Cache
}

func NewSettingsService(
	baseLog *logger.Logger,
	settings repos.SettingsRepo,
	actions repos.ActionRepo,
	cache redisclient.Cache,
) SettingsService {
	return &settingsService{
		log:      baseLog.With("service", "SettingsService"),
		settings: settings,
		actions:  actions,
		cache:    cache,
	}
}

func (s *settingsService) Get(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	if s == nil || s.settings == nil {
		return nil, fmt.Errorf("settings service not configured")
	}
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("missing store_id")
	}
	if s.cache != nil {
		if cached, ok := s.cache.GetSettings(ctx, storeID); ok {
			return cached, nil
		}
	}
	settings, err := s.settings.GetOrCreate(dbctx.Context{Ctx: ctx}, storeID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, settings); err != nil {
			s.log.Warn("settings cache write failed", "store_id", storeID.String(), "error", err.Error())
		}
	}
	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, storeID uuid.UUID, patch SettingsPatch) (*types.AutomationSettings, error) {
	if s == nil || s.settings == nil {
		return nil, fmt.Errorf("settings service not configured")
	}
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("missing store_id")
	}
	updates, disabledTypes, err := s.buildUpdates(patch)
	if err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.settings.GetOrCreate(dbc, storeID); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if len(updates) > 0 {
		if err := s.settings.UpdateFields(dbc, storeID, updates); err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.InvalidateSettings(ctx, storeID); err != nil {
			s.log.Warn("settings cache invalidate failed", "store_id", storeID.String(), "error", err.Error())
		}
	}

	// Pending actions of a type the operator just disabled are discarded;
	// they never called the platform, so cancelling is side-effect free.
	for _, at := range disabledTypes {
		if err := s.cancelPendingOfType(ctx, storeID, at); err != nil {
			s.log.Warn("cancel pending for disabled type failed",
				"store_id", storeID.String(),
				"action_type", at,
				"error", err.Error(),
			)
		}
	}

	return s.Get(ctx, storeID)
}

func (s *settingsService) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	if s == nil || s.settings == nil {
		return nil, fmt.Errorf("settings service not configured")
	}
	return s.settings.ListStoreIDs(dbctx.Context{Ctx: ctx})
}

func (s *settingsService) buildUpdates(patch SettingsPatch) (map[string]interface{}, []string, error) {
	updates := map[string]interface{}{}
	var disabledTypes []string

	if patch.GlobalAutopilotEnabled != nil {
		updates["global_autopilot_enabled"] = *patch.GlobalAutopilotEnabled
	}
	if patch.AutopilotMode != nil {
		switch *patch.AutopilotMode {
		case types.AutopilotModeSafe, types.AutopilotModeBalanced, types.AutopilotModeAggressive:
		default:
			return nil, nil, fmt.Errorf("unknown autopilot mode %q", *patch.AutopilotMode)
		}
		updates["autopilot_mode"] = *patch.AutopilotMode
	}
	if patch.DryRunMode != nil {
		updates["dry_run_mode"] = *patch.DryRunMode
	}
	if patch.AutoPublishEnabled != nil {
		updates["auto_publish_enabled"] = *patch.AutoPublishEnabled
	}
	if patch.MaxDailyActions != nil {
		if *patch.MaxDailyActions < 0 {
			return nil, nil, fmt.Errorf("max_daily_actions must be >= 0")
		}
		updates["max_daily_actions"] = *patch.MaxDailyActions
	}
	if patch.MaxCatalogChangePercent != nil {
		if *patch.MaxCatalogChangePercent < 0 || *patch.MaxCatalogChangePercent > 100 {
			return nil, nil, fmt.Errorf("max_catalog_change_percent must be in [0,100]")
		}
		updates["max_catalog_change_percent"] = *patch.MaxCatalogChangePercent
	}
	if patch.AutonomousCreditLimit != nil {
		if *patch.AutonomousCreditLimit < 0 {
			return nil, nil, fmt.Errorf("autonomous_credit_limit must be >= 0")
		}
		updates["autonomous_credit_limit"] = *patch.AutonomousCreditLimit
	}
	if patch.EvaluationIntervalSeconds != nil {
		if *patch.EvaluationIntervalSeconds < 30 {
			return nil, nil, fmt.Errorf("evaluation_interval_seconds must be >= 30")
		}
		updates["evaluation_interval_seconds"] = *patch.EvaluationIntervalSeconds
	}
	if patch.EnabledActionTypes != nil {
		known := map[string]bool{}
		for _, t := range types.KnownActionTypes() {
			known[t] = true
		}
		next := map[string]bool{}
		for _, t := range *patch.EnabledActionTypes {
			if !known[t] {
				return nil, nil, fmt.Errorf("unknown action type %q", t)
			}
			next[t] = true
		}
		for _, t := range types.KnownActionTypes() {
			if !next[t] {
				disabledTypes = append(disabledTypes, t)
			}
		}
		raw, err := json.Marshal(*patch.EnabledActionTypes)
		if err != nil {
			return nil, nil, fmt.Errorf("encode enabled types: %w", err)
		}
		updates["enabled_action_types"] = datatypes.JSON(raw)
	}

	return updates, disabledTypes, nil
}

func (s *settingsService) cancelPendingOfType(ctx context.Context, storeID uuid.UUID, actionType string) error {
	if s.actions == nil {
		return nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	pending, _, err := s.actions.List(dbc, repos.ActionQuery{
		StoreID:    storeID,
		Status:     types.ActionStatusPending,
		ActionType: actionType,
		Limit:      200,
	})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, action := range pending {
		ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusPending, types.ActionStatusCancelled, map[string]interface{}{
			"completed_at":    now,
			"decision_reason": "action type disabled by operator",
		})
		if err != nil {
			return err
		}
		if !ok {
			// Raced into running or a terminal state; leave it alone.
			continue
		}
		s.log.Info("pending action cancelled",
			"action_id", action.ID.String(),
			"store_id", storeID.String(),
			"action_type", actionType,
		)
	}
	return nil
}
