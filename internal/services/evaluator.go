package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/proposer"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

const (
	defaultEntityLimit   = 100
	defaultMaxCandidates = 25
)

// PassReport summarizes one evaluation pass over a store. Deferred and
// rejected counts are expected outcomes of the gate, not errors.
type PassReport struct {
	StoreID          uuid.UUID `json:"store_id"`
	Rules            int       `json:"rules"`
	EntitiesScanned  int       `json:"entities_scanned"`
	Matched          int       `json:"matched"`
	Proposed         int       `json:"proposed"`
	Admitted         int       `json:"admitted"`
	Escalated        int       `json:"escalated"`
	Deferred         int       `json:"deferred"`
	Rejected         int       `json:"rejected"`
	Duplicates       int       `json:"duplicates"`
	ProposerFailures int       `json:"proposer_failures"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
}

// EvaluatorService runs the detection half of the engine: list entities,
// match rule conditions against their signals, generate concrete proposals
// for the matches, then hand each one to admission. Admitted candidates
// become actions and run immediately; escalated ones are filed for review;
// deferred and rejected ones are dropped until the next pass.
type EvaluatorService interface {
	RunPass(ctx context.Context, storeID uuid.UUID) (*PassReport, error)
}

type EvaluatorOption func(*evaluatorService)

// WithEvaluatorClock pins the pass clock in tests.
func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(s *evaluatorService) { s.now = now }
}

func WithEntityLimit(n int) EvaluatorOption {
	return func(s *evaluatorService) {
		if n > 0 {
			s.entityLimit = n
		}
	}
}

// WithMaxCandidates bounds the proposals generated per pass; matches beyond
// the bound wait for the next cycle.
func WithMaxCandidates(n int) EvaluatorOption {
	return func(s *evaluatorService) {
		if n > 0 {
			s.maxCandidates = n
		}
	}
}

type evaluatorService struct {
	log       *logger.Logger
	rules     repos.RuleRepo
	settings  SettingsService
	admission AdmissionService
	lifecycle LifecycleService
	approvals ApprovalService
	platform  shopify.Client
	generator proposer.Generator

	entityLimit   int
	maxCandidates int
	now           func() time.Time
}

func NewEvaluatorService(
	baseLog *logger.Logger,
	ruleRepo repos.RuleRepo,
	settings SettingsService,
	admission AdmissionService,
	lifecycle LifecycleService,
	approvals ApprovalService,
	platform shopify.Client,
	generator proposer.Generator,
	opts ...EvaluatorOption,
) EvaluatorService {
	s := &evaluatorService{
		log:           baseLog.With("service", "EvaluatorService"),
		rules:         ruleRepo,
		settings:      settings,
		admission:     admission,
		lifecycle:     lifecycle,
		approvals:     approvals,
		platform:      platform,
		generator:     generator,
		entityLimit:   defaultEntityLimit,
		maxCandidates: defaultMaxCandidates,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type compiledRule struct {
	rule *types.AutomationRule
	cond rules.Condition
}

func (s *evaluatorService) RunPass(ctx context.Context, storeID uuid.UUID) (*PassReport, error) {
	now := s.now()
	report := &PassReport{StoreID: storeID, StartedAt: now}
	defer func() { report.DurationMS = time.Since(now).Milliseconds() }()

	settings, err := s.settings.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}

	ruleList, err := s.rules.ListForStore(dbctx.Context{Ctx: ctx}, storeID)
	if err != nil {
		return nil, err
	}
	report.Rules = len(ruleList)
	if len(ruleList) == 0 {
		return report, nil
	}

	byEntityType := make(map[string][]compiledRule)
	for _, rule := range ruleList {
		cond, err := rules.ParseCondition(rule.Condition)
		if err != nil {
			s.log.Warn("rule condition invalid, skipping",
				"rule_id", rule.ID.String(), "rule", rule.Name, "error", err.Error())
			continue
		}
		byEntityType[rule.EntityType] = append(byEntityType[rule.EntityType], compiledRule{rule: rule, cond: cond})
	}

	candidates := s.match(ctx, storeID, byEntityType, now, report)
	report.Matched = len(candidates)
	rules.SortCandidates(candidates)
	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}

	// At most one in-flight proposal per (action type, recipient-or-entity,
	// channel) per pass; the sort put the highest-priority rule first.
	seen := make(map[string]bool, len(candidates))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		cand, err := s.propose(ctx, cand)
		if err != nil {
			report.ProposerFailures++
			s.log.Warn("proposal generation failed",
				"store_id", storeID.String(),
				"rule", cand.RuleName,
				"entity_id", cand.EntityID,
				"error", err.Error(),
			)
			continue
		}
		report.Proposed++

		key := cand.ActionType + "|" + cand.DedupKey() + "|" + cand.Channel
		if seen[key] {
			report.Duplicates++
			continue
		}
		seen[key] = true

		verdict, err := s.admission.Admit(ctx, cand, settings)
		if err != nil {
			return report, err
		}
		s.dispatch(ctx, cand, verdict, settings, report)
	}

	s.log.Info("evaluation pass finished",
		"store_id", storeID.String(),
		"rules", report.Rules,
		"entities", report.EntitiesScanned,
		"matched", report.Matched,
		"admitted", report.Admitted,
		"escalated", report.Escalated,
		"deferred", report.Deferred,
		"rejected", report.Rejected,
	)
	return report, nil
}

// match lists entities per type and evaluates every rule of that type
// against each entity's signals. A listing failure skips that entity type
// for this pass rather than failing the whole store.
func (s *evaluatorService) match(ctx context.Context, storeID uuid.UUID, byEntityType map[string][]compiledRule, now time.Time, report *PassReport) []rules.Candidate {
	var candidates []rules.Candidate
	for entityType, compiled := range byEntityType {
		entities, err := s.platform.ListEntities(ctx, storeID, entityType, s.entityLimit)
		if err != nil {
			s.log.Warn("entity listing failed",
				"store_id", storeID.String(), "entity_type", entityType, "error", err.Error())
			continue
		}
		report.EntitiesScanned += len(entities)
		// The listing itself is the catalog sample the percent cap is
		// measured against, so every candidate of this pass shares it.
		catalogSize := len(entities)

		for _, entity := range entities {
			sig := rules.EntitySignals{Fields: entity.Signals.Fields, Times: entity.Signals.Times}
			for _, cr := range compiled {
				if !cr.cond.Eval(sig, now) {
					continue
				}
				candidates = append(candidates, rules.Candidate{
					StoreID:         storeID,
					RuleID:          cr.rule.ID,
					RuleName:        cr.rule.Name,
					Priority:        cr.rule.Priority,
					CooldownSeconds: cr.rule.CooldownSeconds,
					ActionType:      cr.rule.ActionType,
					EntityType:      cr.rule.EntityType,
					EntityID:        entity.ID,
					RecipientEmail:  entity.RecipientEmail,
					RecipientPhone:  entity.RecipientPhone,
					CatalogSize:     catalogSize,
					MatchedAt:       now,
				})
			}
		}
	}
	return candidates
}

// propose fills the candidate with generated content and validates it
// before anything is persisted, so a malformed proposal never becomes an
// action destined to fail.
func (s *evaluatorService) propose(ctx context.Context, cand rules.Candidate) (rules.Candidate, error) {
	entityState, err := s.platform.FetchEntity(ctx, cand.StoreID, cand.EntityType, cand.EntityID)
	if err != nil {
		return cand, err
	}
	proposal, err := s.generator.Generate(ctx, proposer.GenerateRequest{
		StoreID:     cand.StoreID,
		ActionType:  cand.ActionType,
		EntityType:  cand.EntityType,
		EntityID:    cand.EntityID,
		RuleName:    cand.RuleName,
		EntityState: entityState.State,
	})
	if err != nil {
		return cand, err
	}

	payload, err := types.DecodePayload(cand.ActionType, proposal.Payload)
	if err != nil {
		return cand, err
	}
	if err := payload.Validate(); err != nil {
		return cand, err
	}

	cand.Payload = datatypes.JSON(proposal.Payload)
	cand.Impact = proposal.EstimatedImpact
	cand.Reasoning = proposal.Reasoning

	switch p := payload.(type) {
	case types.CampaignPayload:
		cand.Channel = p.Channel
	case types.RecoveryPayload:
		cand.Channel = p.Channel
	}
	if cand.Channel == "" && types.IsOutreachType(cand.ActionType) {
		cand.Channel = types.ChannelEmail
	}
	return cand, nil
}

func (s *evaluatorService) dispatch(ctx context.Context, cand rules.Candidate, verdict Verdict, settings *types.AutomationSettings, report *PassReport) {
	switch verdict.Decision {
	case DecisionAdmit:
		action, err := s.lifecycle.CreateFromCandidate(ctx, cand, verdict, types.ExecutedByAgent, settings.DryRunMode)
		if err != nil {
			s.log.Error("admitted candidate could not be recorded",
				"store_id", cand.StoreID.String(),
				"rule", cand.RuleName,
				"entity_id", cand.EntityID,
				"error", err.Error(),
			)
			return
		}
		report.Admitted++
		if _, err := s.lifecycle.Run(ctx, action.ID, settings.AutoPublishEnabled); err != nil {
			s.log.Warn("admitted action did not run",
				"action_id", action.ID.String(), "error", err.Error())
		}

	case DecisionEscalate:
		_, created, err := s.approvals.Propose(ctx, cand)
		if err != nil {
			s.log.Error("escalation could not be filed",
				"store_id", cand.StoreID.String(),
				"rule", cand.RuleName,
				"entity_id", cand.EntityID,
				"error", err.Error(),
			)
			return
		}
		report.Escalated++
		if !created {
			report.Duplicates++
		}

	case DecisionDefer:
		report.Deferred++
		s.log.Debug("candidate deferred",
			"store_id", cand.StoreID.String(),
			"rule", cand.RuleName,
			"entity_id", cand.EntityID,
			"check", verdict.Check,
			"reason", verdict.Reason,
			"retry_after", verdict.RetryAfter.String(),
		)

	case DecisionReject:
		report.Rejected++
		s.log.Debug("candidate rejected",
			"store_id", cand.StoreID.String(),
			"rule", cand.RuleName,
			"entity_id", cand.EntityID,
			"check", verdict.Check,
			"reason", verdict.Reason,
		)
	}
}
