package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

const defaultBulkWidth = 5

// BulkItemResult is one member's outcome. A benign note means the desired
// end state was already reached by a prior or concurrent attempt; the
// member still counts as succeeded.
type BulkItemResult struct {
	ActionID uuid.UUID `json:"action_id"`
	OK       bool      `json:"ok"`
	Status   string    `json:"status,omitempty"`
	Note     string    `json:"note,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type BulkResult struct {
	Requested int              `json:"requested"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

// BulkService fans lifecycle operations out over a selected set of actions.
// Members run concurrently under a bounded width and are joined
// wait-for-all: one member's failure never cancels its siblings. Exactly
// one dashboard cache invalidation is issued per call, whatever the
// outcome mix.
type BulkService interface {
	BulkPush(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*BulkResult, error)
	BulkRollback(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*BulkResult, error)
}

type bulkService struct {
	log       *logger.Logger
	actions   repos.ActionRepo
	lifecycle LifecycleService
	cache     redisclient.Cache
	width     int
}

func NewBulkService(baseLog *logger.Logger, actions repos.ActionRepo, lifecycle LifecycleService, cache redisclient.Cache, width int) BulkService {
	if width <= 0 {
		width = defaultBulkWidth
	}
	return &bulkService{
		log:       baseLog.With("service", "BulkService"),
		actions:   actions,
		lifecycle: lifecycle,
		cache:     cache,
		width:     width,
	}
}

func (s *bulkService) BulkPush(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*BulkResult, error) {
	return s.run(ctx, "bulk_push", storeID, actionIDs, s.lifecycle.PushToShopify)
}

func (s *bulkService) BulkRollback(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*BulkResult, error) {
	return s.run(ctx, "bulk_rollback", storeID, actionIDs, s.lifecycle.Rollback)
}

func (s *bulkService) run(ctx context.Context, op string, storeID uuid.UUID, actionIDs []uuid.UUID, member func(context.Context, uuid.UUID) (*types.AgentAction, error)) (*BulkResult, error) {
	if s == nil || s.actions == nil || s.lifecycle == nil {
		return nil, fmt.Errorf("bulk service not configured")
	}
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("store required")
	}
	result := &BulkResult{
		Requested: len(actionIDs),
		Items:     make([]BulkItemResult, len(actionIDs)),
	}
	if len(actionIDs) == 0 {
		return result, nil
	}

	// One batched read up front scopes every member to the caller's store;
	// ids outside it report not-found rather than leak another store's rows.
	known, err := s.actions.GetByIDs(dbctx.Context{Ctx: ctx}, actionIDs)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	inStore := make(map[uuid.UUID]bool, len(known))
	for _, action := range known {
		if action.StoreID == storeID {
			inStore[action.ID] = true
		}
	}

	var group errgroup.Group
	group.SetLimit(s.width)
	var mu sync.Mutex

	for i, id := range actionIDs {
		i, id := i, id
		group.Go(func() error {
			item := BulkItemResult{ActionID: id}
			if !inStore[id] {
				item.Error = ErrActionNotFound.Error()
			} else {
				action, err := member(ctx, id)
				item = classifyMember(id, action, err)
			}
			mu.Lock()
			result.Items[i] = item
			if item.OK {
				result.Succeeded++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Members never return errors; Wait is purely the join.
	_ = group.Wait()

	if s.cache != nil {
		if err := s.cache.BumpActionsVersion(ctx, storeID); err != nil {
			s.log.Warn("bulk cache invalidation failed", "store_id", storeID.String(), "error", err.Error())
		}
	}

	s.log.Info("bulk operation finished",
		"op", op,
		"store_id", storeID.String(),
		"requested", result.Requested,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

// classifyMember folds one member outcome into the succeeded/failed split.
// Structured sentinels replace the old fragile matching on error text: an
// outcome is benign exactly when it is one of the known already-done
// shapes, or the platform reports the change was already applied.
func classifyMember(id uuid.UUID, action *types.AgentAction, err error) BulkItemResult {
	item := BulkItemResult{ActionID: id}
	if action != nil {
		item.Status = action.Status
	}
	if err == nil {
		// The lifecycle records execution failures on the row instead of
		// returning them; surface those as real failures here.
		if action != nil && action.Status == types.ActionStatusFailed {
			item.Error = failDetail(action)
			return item
		}
		item.OK = true
		return item
	}
	if note, benign := benignOutcome(err); benign {
		item.OK = true
		item.Note = note
		return item
	}
	item.Error = err.Error()
	return item
}

func benignOutcome(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrAlreadyRolledBack),
		errors.Is(err, ErrNoContentToPush),
		errors.Is(err, ErrNotEligible):
		return err.Error(), true
	}
	if pe, ok := shopify.AsPlatformError(err); ok && pe.Benign() {
		return "already applied on platform", true
	}
	return "", false
}

func failDetail(action *types.AgentAction) string {
	if action.ErrorClass != "" {
		return "execution failed (" + action.ErrorClass + ")"
	}
	return "execution failed"
}
