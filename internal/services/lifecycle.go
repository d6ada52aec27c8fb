package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/outreach"
	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/httpx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// Sentinel outcomes the bulk orchestrator treats as benign: the desired end
// state was already reached, or the member was never in a pushable/
// rollbackable state to begin with.
var (
	ErrActionNotFound    = errors.New("action not found")
	ErrAlreadyRolledBack = errors.New("already rolled back")
	ErrNoContentToPush   = errors.New("no content to push")
	ErrNotEligible       = errors.New("not eligible in current state")
)

// RollbackError means the revert call failed and the storefront may still
// carry the unwanted change. The action stays completed; this is the one
// failure surfaced as a user-visible alert.
type RollbackError struct {
	ActionID uuid.UUID
	Err      error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed for action %s: %v", e.ActionID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// LifecycleService owns every status transition of an AgentAction. All
// moves go through the repo's compare-and-set, so overlapping schedulers
// and dashboard clicks serialize per action: snapshot write happens before
// the platform call, which happens before the terminal transition.
type LifecycleService interface {
	CreateFromCandidate(ctx context.Context, cand rules.Candidate, verdict Verdict, executedBy string, dryRun bool) (*types.AgentAction, error)
	// Run drives pending to a terminal state. publish controls whether
	// catalog payloads are applied to the platform now or left prepared on
	// the action for a later push.
	Run(ctx context.Context, actionID uuid.UUID, publish bool) (*types.AgentAction, error)
	PushToShopify(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	Rollback(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	Cancel(ctx context.Context, actionID uuid.UUID, reason string) (*types.AgentAction, error)
	Get(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	List(ctx context.Context, q repos.ActionQuery) ([]*types.AgentAction, int64, error)
}

type lifecycleService struct {
	log       *logger.Logger
	actions   repos.ActionRepo
	snapshots repos.SnapshotRepo

	platform shopify.Client
	sender   outreach.Dispatcher
	cache    redisclient.Cache

	execTimeout time.Duration
}

func NewLifecycleService(
	baseLog *logger.Logger,
	actions repos.ActionRepo,
	snapshots repos.SnapshotRepo,
	platform shopify.Client,
	sender outreach.Dispatcher,
	cache redisclient.Cache,
	execTimeout time.Duration,
) LifecycleService {
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	return &lifecycleService{
		log:         baseLog.With("service", "LifecycleService"),
		actions:     actions,
		snapshots:   snapshots,
		platform:    platform,
		sender:      sender,
		cache:       cache,
		execTimeout: execTimeout,
	}
}

func (s *lifecycleService) CreateFromCandidate(ctx context.Context, cand rules.Candidate, verdict Verdict, executedBy string, dryRun bool) (*types.AgentAction, error) {
	if s == nil || s.actions == nil {
		return nil, fmt.Errorf("lifecycle service not configured")
	}
	if cand.StoreID == uuid.Nil || cand.ActionType == "" || cand.EntityID == "" {
		return nil, fmt.Errorf("incomplete candidate")
	}
	if len(cand.Payload) == 0 {
		return nil, fmt.Errorf("candidate has no payload")
	}
	if executedBy == "" {
		executedBy = types.ExecutedByAgent
	}

	action := &types.AgentAction{
		ID:              uuid.New(),
		StoreID:         cand.StoreID,
		ActionType:      cand.ActionType,
		EntityType:      cand.EntityType,
		EntityID:        cand.EntityID,
		Status:          types.ActionStatusPending,
		DecisionReason:  verdict.Reason,
		Payload:         cand.Payload,
		EstimatedImpact: cand.Impact.JSON(),
		CreditCost:      cand.Impact.CreditCost,
		RevenueDelta:    cand.Impact.RevenueDelta,
		ExecutedBy:      executedBy,
		DryRun:          dryRun,
	}
	if cand.RuleID != uuid.Nil {
		ruleID := cand.RuleID
		action.RuleID = &ruleID
	}

	created, err := s.actions.Create(dbctx.Context{Ctx: ctx}, action)
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	s.publishStatus(ctx, created, "created")
	return created, nil
}

func (s *lifecycleService) Get(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	if s == nil || s.actions == nil {
		return nil, fmt.Errorf("lifecycle service not configured")
	}
	action, err := s.actions.GetByID(dbctx.Context{Ctx: ctx}, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrActionNotFound
	}
	return action, nil
}

func (s *lifecycleService) List(ctx context.Context, q repos.ActionQuery) ([]*types.AgentAction, int64, error) {
	if s == nil || s.actions == nil {
		return nil, 0, fmt.Errorf("lifecycle service not configured")
	}
	return s.actions.List(dbctx.Context{Ctx: ctx}, q)
}

func (s *lifecycleService) Run(ctx context.Context, actionID uuid.UUID, publish bool) (*types.AgentAction, error) {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != types.ActionStatusPending {
		return action, ErrNotEligible
	}

	if action.DryRun {
		return s.runDry(ctx, action)
	}

	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusPending, types.ActionStatusRunning, map[string]interface{}{
		"started_at": now,
	})
	if err != nil {
		return nil, fmt.Errorf("start action: %w", err)
	}
	if !ok {
		// Another runner claimed it between read and claim.
		return action, ErrNotEligible
	}
	action.Status = types.ActionStatusRunning
	action.StartedAt = &now
	s.publishStatus(ctx, action, "running")

	if types.IsOutreachType(action.ActionType) {
		return s.runOutreach(ctx, action)
	}
	return s.runCatalog(ctx, action, publish)
}

// runDry records a simulated outcome without ever touching the platform.
func (s *lifecycleService) runDry(ctx context.Context, action *types.AgentAction) (*types.AgentAction, error) {
	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()
	result := mustResultJSON(map[string]interface{}{
		"simulated": true,
		"detail":    "dry run; payload not applied",
	})
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusPending, types.ActionStatusDryRun, map[string]interface{}{
		"result":        result,
		"actual_impact": action.EstimatedImpact,
		"completed_at":  now,
	})
	if err != nil {
		return nil, fmt.Errorf("record dry run: %w", err)
	}
	if !ok {
		return action, ErrNotEligible
	}
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, refreshed, "dry run recorded")
	return refreshed, nil
}

func (s *lifecycleService) runCatalog(ctx context.Context, action *types.AgentAction, publish bool) (*types.AgentAction, error) {
	payload, err := types.DecodePayload(action.ActionType, action.Payload)
	if err != nil {
		return s.failAction(ctx, action, err, types.ErrorClassPermanent)
	}
	if err := payload.Validate(); err != nil {
		return s.failAction(ctx, action, err, types.ErrorClassPermanent)
	}

	if !publish {
		// Nothing lands on the platform; the prepared payload waits on the
		// action row for an explicit push.
		return s.completeAction(ctx, action, map[string]interface{}{
			"prepared": true,
			"detail":   "content generated; awaiting push",
		}, false)
	}

	if err := s.snapshotEntity(ctx, action, "pre-execution"); err != nil {
		return s.failAction(ctx, action, err, classifyPlatformErr(err))
	}

	res, err := s.applyPayload(ctx, action)
	if err != nil {
		if pe, ok := shopify.AsPlatformError(err); ok && pe.Benign() {
			// Desired state already on the platform; record and complete.
			return s.completeAction(ctx, action, map[string]interface{}{
				"detail": "platform already carried the desired state",
			}, true)
		}
		return s.failAction(ctx, action, err, classifyPlatformErr(err))
	}

	return s.completeAction(ctx, action, map[string]interface{}{
		"entity_id": res.EntityID,
		"detail":    res.Detail,
	}, true)
}

func (s *lifecycleService) runOutreach(ctx context.Context, action *types.AgentAction) (*types.AgentAction, error) {
	if s.sender == nil || s.platform == nil {
		return s.failAction(ctx, action, fmt.Errorf("outreach not configured"), types.ErrorClassPermanent)
	}
	payload, err := types.DecodePayload(action.ActionType, action.Payload)
	if err != nil {
		return s.failAction(ctx, action, err, types.ErrorClassPermanent)
	}
	if err := payload.Validate(); err != nil {
		return s.failAction(ctx, action, err, types.ErrorClassPermanent)
	}

	// Recipient comes from the live entity, not the proposal, so a stale
	// candidate cannot mail an outdated address.
	fetchCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	entity, err := s.platform.FetchEntity(fetchCtx, action.StoreID, action.EntityType, action.EntityID)
	cancel()
	if err != nil {
		return s.failAction(ctx, action, err, classifyPlatformErr(err))
	}

	req, err := buildSendRequest(action.StoreID, payload, entity)
	if err != nil {
		return s.failAction(ctx, action, err, types.ErrorClassPermanent)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	delivery, err := s.sender.Send(sendCtx, req)
	cancel()
	if err != nil {
		return s.failAction(ctx, action, err, classifyPlatformErr(err))
	}

	// Outreach completes unpublished: nothing lands in the catalog.
	return s.completeAction(ctx, action, map[string]interface{}{
		"message_id": delivery.MessageID,
		"channel":    req.Channel,
		"detail":     "message dispatched",
	}, false)
}

func buildSendRequest(storeID uuid.UUID, payload types.ActionPayload, entity *shopify.EntityState) (outreach.SendRequest, error) {
	req := outreach.SendRequest{StoreID: storeID}
	switch p := payload.(type) {
	case types.CampaignPayload:
		req.Subject = p.Subject
		req.Body = p.Body
		req.DiscountCode = p.DiscountCode
		req.Channel = p.Channel
	case types.RecoveryPayload:
		req.Subject = p.Subject
		req.Body = p.Body
		req.DiscountCode = p.DiscountCode
		req.Channel = p.Channel
	default:
		return req, fmt.Errorf("payload %T is not an outreach payload", payload)
	}
	if entity != nil {
		req.RecipientEmail = strings.TrimSpace(entity.RecipientEmail)
		req.RecipientPhone = strings.TrimSpace(entity.RecipientPhone)
	}
	if req.Channel == "" {
		if req.RecipientEmail != "" {
			req.Channel = types.ChannelEmail
		} else {
			req.Channel = types.ChannelSMS
		}
	}
	return req, nil
}

// PushToShopify publishes a prepared action. Valid from pending (runs it
// with publish on) or completed-but-unpublished; an already-published
// action is a no-op success so bulk retries stay idempotent.
func (s *lifecycleService) PushToShopify(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if types.IsOutreachType(action.ActionType) {
		return action, ErrNoContentToPush
	}
	if action.PublishedToShopify {
		return action, nil
	}

	switch action.Status {
	case types.ActionStatusPending:
		return s.Run(ctx, action.ID, true)
	case types.ActionStatusCompleted:
	default:
		return action, ErrNotEligible
	}

	if err := s.snapshotEntity(ctx, action, "pre-publish"); err != nil {
		return nil, err
	}
	res, err := s.applyPayload(ctx, action)
	if err != nil {
		if pe, ok := shopify.AsPlatformError(err); ok && pe.Benign() {
			res = &shopify.MutationResult{EntityID: action.EntityID, Detail: "platform already carried the desired state"}
		} else {
			return nil, err
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	ok, err := s.actions.MarkPublished(dbc, action.ID, mustResultJSON(map[string]interface{}{
		"entity_id": res.EntityID,
		"detail":    res.Detail,
	}))
	if err != nil {
		return nil, fmt.Errorf("record publish: %w", err)
	}
	if !ok {
		return s.publishRaced(ctx, action)
	}
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, refreshed, "published")
	return refreshed, nil
}

// publishRaced resolves a lost publish guard: the row changed between the
// eligibility read and the publish write. A concurrent push finishing first
// is the idempotent no-op; a concurrent rollback means the payload we just
// applied is unwanted, so it is reverted from the pre-publish snapshot
// before reporting the rollback outcome.
func (s *lifecycleService) publishRaced(ctx context.Context, action *types.AgentAction) (*types.AgentAction, error) {
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	if refreshed.Status == types.ActionStatusCompleted && refreshed.PublishedToShopify {
		return refreshed, nil
	}
	if refreshed.Status != types.ActionStatusRolledBack {
		return refreshed, ErrNotEligible
	}

	dbc := dbctx.Context{Ctx: ctx}
	snap, err := s.snapshots.GetByAction(dbc, action.ID)
	if err != nil {
		return s.rollbackFailed(ctx, refreshed, fmt.Errorf("load snapshot after lost publish: %w", err))
	}
	if snap == nil {
		return s.rollbackFailed(ctx, refreshed, fmt.Errorf("no snapshot to undo raced publish"))
	}
	revertCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	_, err = s.platform.Revert(revertCtx, action.StoreID, action.EntityType, action.EntityID, json.RawMessage(snap.CapturedState))
	cancel()
	if err != nil {
		if pe, ok := shopify.AsPlatformError(err); !ok || !pe.Benign() {
			return s.rollbackFailed(ctx, refreshed, err)
		}
	}
	return refreshed, ErrAlreadyRolledBack
}

func (s *lifecycleService) Rollback(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	switch action.Status {
	case types.ActionStatusRolledBack:
		return action, ErrAlreadyRolledBack
	case types.ActionStatusCompleted, types.ActionStatusDryRun:
	default:
		return action, ErrNotEligible
	}

	// A delivered message cannot be recalled.
	if types.IsOutreachType(action.ActionType) && action.Status == types.ActionStatusCompleted {
		return action, ErrNotEligible
	}

	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()

	if !action.PublishedToShopify {
		// Nothing reached the platform; the transition is purely local.
		ok, err := s.actions.TransitionStatus(dbc, action.ID, action.Status, types.ActionStatusRolledBack, map[string]interface{}{
			"rolled_back_at": now,
		})
		if err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		if !ok {
			return s.rollbackRaced(ctx, action.ID)
		}
		refreshed, err := s.Get(ctx, action.ID)
		if err != nil {
			return nil, err
		}
		s.publishStatus(ctx, refreshed, "rolled back (local)")
		return refreshed, nil
	}

	snap, err := s.snapshots.GetByAction(dbc, action.ID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return s.rollbackFailed(ctx, action, fmt.Errorf("no snapshot recorded for action"))
	}

	revertCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	_, err = s.platform.Revert(revertCtx, action.StoreID, action.EntityType, action.EntityID, json.RawMessage(snap.CapturedState))
	cancel()
	if err != nil {
		if pe, ok := shopify.AsPlatformError(err); !ok || !pe.Benign() {
			return s.rollbackFailed(ctx, action, err)
		}
	}

	// Only a confirmed revert flips the status.
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusCompleted, types.ActionStatusRolledBack, map[string]interface{}{
		"published_to_shopify": false,
		"rolled_back_at":       now,
	})
	if err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	if !ok {
		return s.rollbackRaced(ctx, action.ID)
	}
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, refreshed, "rolled back")
	return refreshed, nil
}

// rollbackRaced resolves a lost rollback CAS: if the competing writer also
// rolled the action back, that is our desired end state.
func (s *lifecycleService) rollbackRaced(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	refreshed, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if refreshed.Status == types.ActionStatusRolledBack {
		return refreshed, ErrAlreadyRolledBack
	}
	return refreshed, ErrNotEligible
}

func (s *lifecycleService) rollbackFailed(ctx context.Context, action *types.AgentAction, cause error) (*types.AgentAction, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.actions.UpdateFields(dbc, action.ID, map[string]interface{}{
		"error_class": types.ErrorClassRollback,
	}); err != nil {
		s.log.Error("record rollback failure", "action_id", action.ID.String(), "error", err.Error())
	}
	s.log.Error("rollback failed; storefront may carry unwanted change",
		"action_id", action.ID.String(),
		"store_id", action.StoreID.String(),
		"entity_id", action.EntityID,
		"error", cause.Error(),
	)
	if s.cache != nil {
		evt := redisclient.Event{
			Type:     redisclient.EventRollbackFailed,
			StoreID:  action.StoreID,
			ActionID: action.ID,
			Status:   action.Status,
			Detail:   cause.Error(),
		}
		if err := s.cache.PublishEvent(ctx, evt); err != nil {
			s.log.Warn("publish rollback alert failed", "action_id", action.ID.String(), "error", err.Error())
		}
	}
	return action, &RollbackError{ActionID: action.ID, Err: cause}
}

func (s *lifecycleService) Cancel(ctx context.Context, actionID uuid.UUID, reason string) (*types.AgentAction, error) {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != types.ActionStatusPending {
		// Running actions are awaited, never cancelled mid-flight.
		return action, ErrNotEligible
	}
	if reason == "" {
		reason = "cancelled"
	}
	dbc := dbctx.Context{Ctx: ctx}
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusPending, types.ActionStatusCancelled, map[string]interface{}{
		"completed_at":    time.Now(),
		"decision_reason": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel action: %w", err)
	}
	if !ok {
		return action, ErrNotEligible
	}
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, refreshed, reason)
	return refreshed, nil
}

// snapshotEntity captures and commits the entity's current state. The
// snapshot row must be durable before the platform is touched; without it
// rollback would have nothing trustworthy to restore.
func (s *lifecycleService) snapshotEntity(ctx context.Context, action *types.AgentAction, reason string) error {
	if s.platform == nil || s.snapshots == nil {
		return fmt.Errorf("platform client not configured")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	entity, err := s.platform.FetchEntity(fetchCtx, action.StoreID, action.EntityType, action.EntityID)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch entity for snapshot: %w", err)
	}
	state := entity.State
	if len(state) == 0 {
		return fmt.Errorf("entity %s returned empty state", action.EntityID)
	}
	_, err = s.snapshots.Create(dbctx.Context{Ctx: ctx}, &types.EntitySnapshot{
		ID:            uuid.New(),
		StoreID:       action.StoreID,
		ActionID:      action.ID,
		EntityType:    action.EntityType,
		EntityID:      action.EntityID,
		CapturedState: datatypes.JSON(state),
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func (s *lifecycleService) applyPayload(ctx context.Context, action *types.AgentAction) (*shopify.MutationResult, error) {
	applyCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()
	return s.platform.Apply(applyCtx, action.StoreID, action.EntityType, action.EntityID, json.RawMessage(action.Payload))
}

func (s *lifecycleService) completeAction(ctx context.Context, action *types.AgentAction, result map[string]interface{}, published bool) (*types.AgentAction, error) {
	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusRunning, types.ActionStatusCompleted, map[string]interface{}{
		"result":               mustResultJSON(result),
		"actual_impact":        action.EstimatedImpact,
		"published_to_shopify": published,
		"completed_at":         now,
	})
	if err != nil {
		return nil, fmt.Errorf("complete action: %w", err)
	}
	if !ok {
		// The stale-running reaper got there first; its verdict stands.
		return s.Get(ctx, action.ID)
	}
	refreshed, err := s.Get(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, refreshed, "completed")
	return refreshed, nil
}

func (s *lifecycleService) failAction(ctx context.Context, action *types.AgentAction, cause error, class string) (*types.AgentAction, error) {
	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()
	ok, err := s.actions.TransitionStatus(dbc, action.ID, types.ActionStatusRunning, types.ActionStatusFailed, map[string]interface{}{
		"result":       mustResultJSON(map[string]interface{}{"error": cause.Error()}),
		"error_class":  class,
		"completed_at": now,
	})
	if err != nil {
		return nil, fmt.Errorf("fail action: %w", err)
	}
	if !ok {
		return s.Get(ctx, action.ID)
	}
	s.log.Warn("action failed",
		"action_id", action.ID.String(),
		"store_id", action.StoreID.String(),
		"action_type", action.ActionType,
		"error_class", class,
		"error", cause.Error(),
	)
	refreshed, getErr := s.Get(ctx, action.ID)
	if getErr != nil {
		return nil, getErr
	}
	s.publishStatus(ctx, refreshed, "failed")
	return refreshed, nil
}

// classifyPlatformErr maps collaborator errors onto the action error
// classes recorded for audit.
func classifyPlatformErr(err error) string {
	if err == nil {
		return ""
	}
	switch shopify.ErrClass(err) {
	case shopify.ClassTimeout:
		return types.ErrorClassTimeout
	case shopify.ClassNotFound:
		return types.ErrorClassNotFound
	case shopify.ClassThrottled, shopify.ClassTransient:
		return types.ErrorClassTransient
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		if httpx.IsRetryableHTTPStatus(sc.HTTPStatusCode()) {
			return types.ErrorClassTransient
		}
	}
	return types.ErrorClassPermanent
}

func mustResultJSON(m map[string]interface{}) datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(raw)
}

func (s *lifecycleService) publishStatus(ctx context.Context, action *types.AgentAction, detail string) {
	if s.cache == nil || action == nil {
		return
	}
	evt := redisclient.Event{
		Type:     redisclient.EventActionStatus,
		StoreID:  action.StoreID,
		ActionID: action.ID,
		Status:   action.Status,
		Detail:   detail,
	}
	if err := s.cache.PublishEvent(ctx, evt); err != nil {
		s.log.Warn("publish status event failed", "action_id", action.ID.String(), "error", err.Error())
	}
}
