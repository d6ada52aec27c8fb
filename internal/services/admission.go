package services

import (
	"context"
	"fmt"
	"time"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// Admission decisions. Admit creates an action; Escalate routes the
// candidate to the approval queue; Defer drops it until a later pass frees
// the budget; Reject drops it terminally.
const (
	DecisionAdmit    = "admit"
	DecisionEscalate = "escalate"
	DecisionDefer    = "defer"
	DecisionReject   = "reject"
)

// Check names, recorded on the action/approval as the decision trail.
const (
	CheckAutopilot    = "autopilot"
	CheckTypeEnabled  = "type_enabled"
	CheckCooldown     = "cooldown"
	CheckDailyCap     = "daily_cap"
	CheckCatalogCap   = "catalog_cap"
	CheckCreditBudget = "credit_budget"
	CheckRiskMode     = "risk_mode"
)

type Verdict struct {
	Decision string
	Check    string
	Reason   string
	// RetryAfter hints when a deferred candidate is worth re-evaluating:
	// the remaining cooldown, or the time to the next UTC day for budget
	// deferrals. Zero on every non-defer decision.
	RetryAfter time.Duration
}

// AdmissionService runs the gate checks for one candidate. It has no side
// effects: evaluating the same candidate twice against unchanged state
// yields the same verdict. Budget checks read aggregates at decision time,
// so enforcement is soft under concurrent passes; the budgets are safety
// nets, not ledgers.
type AdmissionService interface {
	Admit(ctx context.Context, cand rules.Candidate, settings *types.AutomationSettings) (Verdict, error)
}

type admissionService struct {
	log     *logger.Logger
	actions repos.ActionRepo
	now     func() time.Time
}

type AdmissionOption func(*admissionService)

// WithAdmissionClock fixes the clock; tests pin day boundaries with it.
func WithAdmissionClock(now func() time.Time) AdmissionOption {
	return func(s *admissionService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAdmissionService(
	baseLog *logger.Logger,
	actions repos.ActionRepo,
	opts ...AdmissionOption,
) AdmissionService {
	s := &admissionService{
		log:     baseLog.With("service", "AdmissionService"),
		actions: actions,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dayStartUTC is the budget window boundary: daily counters reset at UTC
// midnight regardless of merchant timezone.
func dayStartUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *admissionService) Admit(ctx context.Context, cand rules.Candidate, settings *types.AutomationSettings) (Verdict, error) {
	if s == nil || s.actions == nil {
		return Verdict{}, fmt.Errorf("admission service not configured")
	}
	if settings == nil {
		return Verdict{}, fmt.Errorf("missing settings")
	}
	dbc := dbctx.Context{Ctx: ctx}
	now := s.now()

	// 1. Autopilot off: nothing runs unattended, but the proposal is still
	// worth a human look.
	if !settings.GlobalAutopilotEnabled {
		return Verdict{
			Decision: DecisionEscalate,
			Check:    CheckAutopilot,
			Reason:   "global autopilot disabled; queued for approval",
		}, nil
	}

	// 2. Disabled type: terminal, no action and no approval.
	if !settings.TypeEnabled(cand.ActionType) {
		return Verdict{
			Decision: DecisionReject,
			Check:    CheckTypeEnabled,
			Reason:   fmt.Sprintf("action type %s disabled for store", cand.ActionType),
		}, nil
	}

	// 3. Per (rule, entity) cooldown.
	if cand.CooldownSeconds > 0 {
		latest, err := s.actions.LatestForRuleEntity(dbc, cand.RuleID, cand.EntityID)
		if err != nil {
			return Verdict{}, fmt.Errorf("cooldown lookup: %w", err)
		}
		if latest != nil {
			elapsed := now.Sub(latest.CreatedAt)
			cooldown := time.Duration(cand.CooldownSeconds) * time.Second
			if elapsed < cooldown {
				remaining := cooldown - elapsed
				return Verdict{
					Decision:   DecisionDefer,
					Check:      CheckCooldown,
					Reason:     fmt.Sprintf("cooldown active for %s on %s; %s remaining", cand.RuleName, cand.EntityID, remaining.Round(time.Second)),
					RetryAfter: remaining,
				}, nil
			}
		}
	}

	since := dayStartUTC(now)
	// Budget windows reset together at the next UTC midnight.
	untilNextDay := since.Add(24 * time.Hour).Sub(now)

	// 4. Daily action cap.
	count, err := s.actions.CountForStoreSince(dbc, cand.StoreID, since)
	if err != nil {
		return Verdict{}, fmt.Errorf("daily count: %w", err)
	}
	if count >= int64(settings.MaxDailyActions) {
		return Verdict{
			Decision:   DecisionDefer,
			Check:      CheckDailyCap,
			Reason:     fmt.Sprintf("daily action cap reached (%d/%d); resumes at next UTC day", count, settings.MaxDailyActions),
			RetryAfter: untilNextDay,
		}, nil
	}

	// 5. Catalog change cap. Only meaningful for catalog-entity types with a
	// known catalog size.
	if !types.IsOutreachType(cand.ActionType) && cand.CatalogSize > 0 {
		touched, err := s.actions.DistinctEntitiesSince(dbc, cand.StoreID, cand.EntityType, since)
		if err != nil {
			return Verdict{}, fmt.Errorf("catalog usage: %w", err)
		}
		percent := float64(touched) / float64(cand.CatalogSize) * 100
		if percent >= settings.MaxCatalogChangePercent {
			return Verdict{
				Decision:   DecisionDefer,
				Check:      CheckCatalogCap,
				Reason:     fmt.Sprintf("catalog change cap reached (%.1f%% of %d entities)", percent, cand.CatalogSize),
				RetryAfter: untilNextDay,
			}, nil
		}
	}

	// 6. Credit budget, including this candidate's estimated cost.
	spent, err := s.actions.SumCreditsSince(dbc, cand.StoreID, since)
	if err != nil {
		return Verdict{}, fmt.Errorf("credit usage: %w", err)
	}
	if spent+cand.Impact.CreditCost > settings.AutonomousCreditLimit {
		return Verdict{
			Decision:   DecisionDefer,
			Check:      CheckCreditBudget,
			Reason:     fmt.Sprintf("credit budget exhausted (%.2f spent + %.2f estimated > %.2f limit)", spent, cand.Impact.CreditCost, settings.AutonomousCreditLimit),
			RetryAfter: untilNextDay,
		}, nil
	}

	// 7. Risk gate by mode: safe auto-admits low only, balanced adds medium,
	// aggressive admits all.
	risk := cand.Impact.RiskLevel()
	if escalateForRisk(settings.AutopilotMode, risk) {
		return Verdict{
			Decision: DecisionEscalate,
			Check:    CheckRiskMode,
			Reason:   fmt.Sprintf("estimated risk %s exceeds %s mode ceiling; queued for approval", risk, settings.AutopilotMode),
		}, nil
	}

	return Verdict{Decision: DecisionAdmit, Reason: "all checks passed"}, nil
}

func escalateForRisk(mode, risk string) bool {
	switch mode {
	case types.AutopilotModeAggressive:
		return false
	case types.AutopilotModeBalanced:
		return risk == types.RiskHigh
	default:
		// safe, and anything unrecognized, admits low risk only
		return risk != types.RiskLow
	}
}
