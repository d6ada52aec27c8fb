package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

var ErrRuleNotFound = errors.New("rule not found")

// RuleInput is the operator-authored part of a new rule. Store scope and
// source are decided by the service, never by the caller.
type RuleInput struct {
	Name            string          `json:"name"`
	ActionType      string          `json:"action_type"`
	EntityType      string          `json:"entity_type"`
	Condition       rules.Condition `json:"condition"`
	Priority        int             `json:"priority"`
	CooldownSeconds int             `json:"cooldown_seconds"`
}

// RulePatch carries only the fields the caller wants to change. ActionType
// and EntityType are fixed at create time: actions already reference the
// rule, and retyping it would make that history lie.
type RulePatch struct {
	Name            *string          `json:"name,omitempty"`
	Condition       *rules.Condition `json:"condition,omitempty"`
	Priority        *int             `json:"priority,omitempty"`
	CooldownSeconds *int             `json:"cooldown_seconds,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty"`
}

type RuleService interface {
	// SeedPresets inserts the built-in global rules that are not already
	// present. Run once at startup; operator edits and deletes survive it.
	SeedPresets(ctx context.Context) (int64, error)
	Create(ctx context.Context, storeID uuid.UUID, input RuleInput) (*types.AutomationRule, error)
	// List returns the store's rules plus the global ones it inherits.
	List(ctx context.Context, storeID uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error)
	Get(ctx context.Context, storeID, id uuid.UUID) (*types.AutomationRule, error)
	Update(ctx context.Context, storeID, id uuid.UUID, patch RulePatch) (*types.AutomationRule, error)
	// Delete soft-deletes so actions keep a resolvable rule_id.
	Delete(ctx context.Context, storeID, id uuid.UUID) error
}

type ruleService struct {
	log   *logger.Logger
	rules repos.RuleRepo
}

func NewRuleService(baseLog *logger.Logger, ruleRepo repos.RuleRepo) RuleService {
	return &ruleService{
		log:   baseLog.With("service", "RuleService"),
		rules: ruleRepo,
	}
}

func (s *ruleService) SeedPresets(ctx context.Context) (int64, error) {
	if s == nil || s.rules == nil {
		return 0, fmt.Errorf("rule service not configured")
	}
	presets, err := rules.Presets()
	if err != nil {
		return 0, fmt.Errorf("load presets: %w", err)
	}
	seed := make([]*types.AutomationRule, 0, len(presets))
	for _, p := range presets {
		rule, err := p.Rule()
		if err != nil {
			return 0, fmt.Errorf("preset %s: %w", p.Name, err)
		}
		seed = append(seed, &rule)
	}
	inserted, err := s.rules.SeedPresets(dbctx.Context{Ctx: ctx}, seed)
	if err != nil {
		return inserted, fmt.Errorf("seed presets: %w", err)
	}
	if inserted > 0 {
		s.log.Info("preset rules seeded", "inserted", inserted)
	}
	return inserted, nil
}

func (s *ruleService) Create(ctx context.Context, storeID uuid.UUID, input RuleInput) (*types.AutomationRule, error) {
	if s == nil || s.rules == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("missing store_id")
	}
	if err := validateRuleInput(input); err != nil {
		return nil, err
	}
	cond, err := input.Condition.JSON()
	if err != nil {
		return nil, err
	}

	sid := storeID
	rule := &types.AutomationRule{
		StoreID:         &sid,
		Name:            strings.TrimSpace(input.Name),
		ActionType:      input.ActionType,
		EntityType:      strings.TrimSpace(input.EntityType),
		Condition:       cond,
		Priority:        input.Priority,
		CooldownSeconds: input.CooldownSeconds,
		Enabled:         true,
		Source:          types.RuleSourceOperator,
	}
	created, err := s.rules.Create(dbctx.Context{Ctx: ctx}, rule)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.log.Info("rule created",
		"rule_id", created.ID.String(),
		"store_id", storeID.String(),
		"action_type", created.ActionType,
	)
	return created, nil
}

func (s *ruleService) List(ctx context.Context, storeID uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error) {
	if s == nil || s.rules == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("missing store_id")
	}
	out, err := s.rules.ListAll(dbctx.Context{Ctx: ctx}, &storeID, includeDisabled)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

func (s *ruleService) Get(ctx context.Context, storeID, id uuid.UUID) (*types.AutomationRule, error) {
	if s == nil || s.rules == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	return s.visibleRule(dbctx.Context{Ctx: ctx}, storeID, id)
}

func (s *ruleService) Update(ctx context.Context, storeID, id uuid.UUID, patch RulePatch) (*types.AutomationRule, error) {
	if s == nil || s.rules == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.visibleRule(dbc, storeID, id); err != nil {
		return nil, err
	}
	updates, err := buildRuleUpdates(patch)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.rules.UpdateFields(dbc, id, updates); err != nil {
			return nil, fmt.Errorf("update rule: %w", err)
		}
	}
	return s.rules.GetByID(dbc, id)
}

func (s *ruleService) Delete(ctx context.Context, storeID, id uuid.UUID) error {
	if s == nil || s.rules == nil {
		return fmt.Errorf("rule service not configured")
	}
	dbc := dbctx.Context{Ctx: ctx}
	rule, err := s.visibleRule(dbc, storeID, id)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(dbc, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.log.Info("rule deleted",
		"rule_id", id.String(),
		"store_id", storeID.String(),
		"source", rule.Source,
	)
	return nil
}

// visibleRule loads a rule the store is allowed to see: its own, or a
// global one. A rule scoped to another store reads as not found rather
// than leaking its existence.
func (s *ruleService) visibleRule(dbc dbctx.Context, storeID, id uuid.UUID) (*types.AutomationRule, error) {
	if storeID == uuid.Nil || id == uuid.Nil {
		return nil, ErrRuleNotFound
	}
	rule, err := s.rules.GetByID(dbc, id)
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if rule.StoreID != nil && *rule.StoreID != storeID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func validateRuleInput(input RuleInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	known := map[string]bool{}
	for _, t := range types.KnownActionTypes() {
		known[t] = true
	}
	if !known[input.ActionType] {
		return fmt.Errorf("unknown action type %q", input.ActionType)
	}
	if strings.TrimSpace(input.EntityType) == "" {
		return fmt.Errorf("rule entity type is required")
	}
	if input.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must be >= 0")
	}
	if err := input.Condition.Validate(); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

func buildRuleUpdates(patch RulePatch) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("rule name is required")
		}
		updates["name"] = name
	}
	if patch.Condition != nil {
		if err := patch.Condition.Validate(); err != nil {
			return nil, fmt.Errorf("invalid condition: %w", err)
		}
		cond, err := patch.Condition.JSON()
		if err != nil {
			return nil, err
		}
		updates["condition"] = cond
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.CooldownSeconds != nil {
		if *patch.CooldownSeconds < 0 {
			return nil, fmt.Errorf("cooldown_seconds must be >= 0")
		}
		updates["cooldown_seconds"] = *patch.CooldownSeconds
	}
	if patch.Enabled != nil {
		updates["enabled"] = *patch.Enabled
	}
	return updates, nil
}
