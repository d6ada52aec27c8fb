package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

var (
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrApprovalResolved means the approval was already resolved the other
	// way: approving a rejected proposal (or rejecting an approved one) is a
	// conflict, not a repeat.
	ErrApprovalResolved = errors.New("approval already resolved")
)

// errResolveLost aborts the approve/reject transaction when the
// compare-and-set finds the row no longer pending. Nothing is written.
var errResolveLost = errors.New("approval resolve lost")

// ApprovalService is the human gate. Proposals land here when admission
// escalates; a reviewer turns one into an executed action or declines it.
// Repeated clicks on the same verdict are no-ops returning the first
// outcome, so a double-submitted approval can never run twice.
type ApprovalService interface {
	Propose(ctx context.Context, cand rules.Candidate) (*types.PendingApproval, bool, error)
	Get(ctx context.Context, approvalID uuid.UUID) (*types.PendingApproval, error)
	ListPending(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error)
	Approve(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, *types.AgentAction, error)
	Reject(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, error)
}

type approvalService struct {
	db        *gorm.DB
	log       *logger.Logger
	approvals repos.ApprovalRepo
	actions   repos.ActionRepo
	lifecycle LifecycleService
	settings  SettingsService
	cache     redisclient.Cache
}

func NewApprovalService(
	db *gorm.DB,
	baseLog *logger.Logger,
	approvals repos.ApprovalRepo,
	actions repos.ActionRepo,
	lifecycle LifecycleService,
	settings SettingsService,
	cache redisclient.Cache,
) ApprovalService {
	return &approvalService{
		db:        db,
		log:       baseLog.With("service", "ApprovalService"),
		approvals: approvals,
		actions:   actions,
		lifecycle: lifecycle,
		settings:  settings,
		cache:     cache,
	}
}

// Propose files a candidate for review. The second return reports whether a
// new row was created; false means an identical proposal was already
// pending and this one was absorbed into it.
func (s *approvalService) Propose(ctx context.Context, cand rules.Candidate) (*types.PendingApproval, bool, error) {
	if s == nil || s.approvals == nil {
		return nil, false, fmt.Errorf("approval service not configured")
	}
	if cand.StoreID == uuid.Nil || cand.ActionType == "" || cand.EntityID == "" {
		return nil, false, fmt.Errorf("incomplete candidate")
	}
	if len(cand.Payload) == 0 {
		return nil, false, fmt.Errorf("candidate has no payload")
	}

	channel := cand.Channel
	if channel == "" && types.IsOutreachType(cand.ActionType) {
		channel = types.ChannelEmail
	}
	approval := &types.PendingApproval{
		ID:                uuid.New(),
		StoreID:           cand.StoreID,
		ActionType:        cand.ActionType,
		EntityType:        cand.EntityType,
		EntityID:          cand.EntityID,
		RecommendedAction: cand.Payload,
		AIReasoning:       cand.Reasoning,
		Status:            types.ApprovalStatusPending,
		Priority:          cand.Priority,
		EstimatedImpact:   cand.Impact.JSON(),
		RecipientEmail:    cand.RecipientEmail,
		RecipientPhone:    cand.RecipientPhone,
		Channel:           channel,
		DedupKey:          cand.DedupKey(),
	}
	if cand.RuleID != uuid.Nil {
		ruleID := cand.RuleID
		approval.RuleID = &ruleID
	}

	row, created, err := s.approvals.CreateDeduped(dbctx.Context{Ctx: ctx}, approval)
	if err != nil {
		return nil, false, fmt.Errorf("file approval: %w", err)
	}
	if created {
		s.publishApprovalEvent(ctx, redisclient.EventApprovalCreated, row, "")
	}
	return row, created, nil
}

func (s *approvalService) Get(ctx context.Context, approvalID uuid.UUID) (*types.PendingApproval, error) {
	if s == nil || s.approvals == nil {
		return nil, fmt.Errorf("approval service not configured")
	}
	approval, err := s.approvals.GetByID(dbctx.Context{Ctx: ctx}, approvalID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, ErrApprovalNotFound
	}
	return approval, nil
}

func (s *approvalService) ListPending(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error) {
	if s == nil || s.approvals == nil {
		return nil, 0, fmt.Errorf("approval service not configured")
	}
	return s.approvals.ListPending(dbctx.Context{Ctx: ctx}, storeID, limit, offset)
}

// Approve resolves the proposal and executes it as the reviewer's action.
// The resolve, the action row and the back-link commit in one transaction;
// the platform is only touched after that commit. Approval is explicit
// human judgment, so the action runs as executed_by=user and is exempt from
// the autonomous budgets (dry-run mode still simulates).
func (s *approvalService) Approve(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, *types.AgentAction, error) {
	if s == nil || s.approvals == nil || s.actions == nil || s.lifecycle == nil {
		return nil, nil, fmt.Errorf("approval service not configured")
	}
	approval, err := s.Get(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if reviewedBy == "" {
		reviewedBy = "operator"
	}

	dryRun := false
	if s.settings != nil {
		if settings, err := s.settings.Get(ctx, approval.StoreID); err == nil && settings != nil {
			dryRun = settings.DryRunMode
		}
	}

	impact := types.ImpactFromJSON(approval.EstimatedImpact)
	var created *types.AgentAction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := s.approvals.Resolve(dbc, approval.ID, types.ApprovalStatusApproved, reviewedBy)
		if err != nil {
			return err
		}
		if !ok {
			return errResolveLost
		}
		action := &types.AgentAction{
			ID:              uuid.New(),
			StoreID:         approval.StoreID,
			ActionType:      approval.ActionType,
			EntityType:      approval.EntityType,
			EntityID:        approval.EntityID,
			Status:          types.ActionStatusPending,
			DecisionReason:  "approved by " + reviewedBy,
			RuleID:          approval.RuleID,
			Payload:         approval.RecommendedAction,
			EstimatedImpact: approval.EstimatedImpact,
			CreditCost:      impact.CreditCost,
			RevenueDelta:    impact.RevenueDelta,
			ExecutedBy:      types.ExecutedByUser,
			DryRun:          dryRun,
		}
		created, err = s.actions.Create(dbc, action)
		if err != nil {
			return fmt.Errorf("create approved action: %w", err)
		}
		return s.approvals.SetExecutedAction(dbc, approval.ID, created.ID)
	})
	if errors.Is(err, errResolveLost) {
		return s.approveRepeat(ctx, approval.ID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("approve: %w", err)
	}

	s.publishApprovalEvent(ctx, redisclient.EventApprovalResolved, approval, types.ApprovalStatusApproved)

	ran, err := s.lifecycle.Run(ctx, created.ID, true)
	if err != nil && !errors.Is(err, ErrNotEligible) {
		return nil, nil, err
	}
	if ran != nil {
		created = ran
	}
	refreshed, err := s.Get(ctx, approval.ID)
	if err != nil {
		return nil, nil, err
	}
	return refreshed, created, nil
}

// approveRepeat resolves a lost approve CAS: a repeat of the same verdict
// returns the original outcome, the opposite verdict is a conflict.
func (s *approvalService) approveRepeat(ctx context.Context, approvalID uuid.UUID) (*types.PendingApproval, *types.AgentAction, error) {
	approval, err := s.Get(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if approval.Status != types.ApprovalStatusApproved {
		return approval, nil, ErrApprovalResolved
	}
	var action *types.AgentAction
	if approval.ExecutedActionID != nil {
		action, err = s.actions.GetByID(dbctx.Context{Ctx: ctx}, *approval.ExecutedActionID)
		if err != nil {
			return nil, nil, err
		}
	}
	return approval, action, nil
}

func (s *approvalService) Reject(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, error) {
	if s == nil || s.approvals == nil {
		return nil, fmt.Errorf("approval service not configured")
	}
	approval, err := s.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if reviewedBy == "" {
		reviewedBy = "operator"
	}

	ok, err := s.approvals.Resolve(dbctx.Context{Ctx: ctx}, approval.ID, types.ApprovalStatusRejected, reviewedBy)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	refreshed, getErr := s.Get(ctx, approval.ID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		if refreshed.Status == types.ApprovalStatusRejected {
			return refreshed, nil
		}
		return refreshed, ErrApprovalResolved
	}
	s.publishApprovalEvent(ctx, redisclient.EventApprovalResolved, refreshed, types.ApprovalStatusRejected)
	return refreshed, nil
}

func (s *approvalService) publishApprovalEvent(ctx context.Context, eventType string, approval *types.PendingApproval, status string) {
	if s.cache == nil || approval == nil {
		return
	}
	if status == "" {
		status = approval.Status
	}
	evt := redisclient.Event{
		Type:       eventType,
		StoreID:    approval.StoreID,
		ApprovalID: approval.ID,
		Status:     status,
		Detail:     approval.ActionType + " " + approval.EntityID,
	}
	if err := s.cache.PublishEvent(ctx, evt); err != nil {
		s.log.Warn("publish approval event failed", "approval_id", approval.ID.String(), "error", err.Error())
	}
}
