package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos/testutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

type bulkFixture struct {
	storeID   uuid.UUID
	actions   *fakeActionRepo
	lifecycle *fakeLifecycle
	cache     *fakeCache
	svc       BulkService
}

func newBulkFixture(t *testing.T, width int) *bulkFixture {
	t.Helper()
	f := &bulkFixture{
		storeID:   uuid.New(),
		actions:   newFakeActionRepo(),
		lifecycle: newFakeLifecycle(),
		cache:     newFakeCache(),
	}
	f.svc = NewBulkService(testutil.Logger(t), f.actions, f.lifecycle, f.cache, width)
	return f
}

func (f *bulkFixture) seedActions(n int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		a := f.actions.insert(&types.AgentAction{
			StoreID:    f.storeID,
			ActionType: types.ActionTypeContentOptimize,
			EntityType: types.EntityTypeProduct,
			EntityID:   "ent-1",
			Status:     types.ActionStatusCompleted,
			ExecutedBy: types.ExecutedByAgent,
		})
		ids = append(ids, a.ID)
	}
	return ids
}

// Rolling back a selection where some members were already rolled back by an
// earlier attempt reports every member as succeeded, with the already-done
// ones annotated rather than counted as failures.
func TestBulkRollbackCountsBenignAsSuccess(t *testing.T) {
	f := newBulkFixture(t, 0)
	ids := f.seedActions(5)
	for _, id := range ids[:2] {
		f.lifecycle.script(id, &types.AgentAction{ID: id, Status: types.ActionStatusRolledBack}, ErrAlreadyRolledBack)
	}

	res, err := f.svc.BulkRollback(context.Background(), f.storeID, ids)
	if err != nil {
		t.Fatalf("bulk rollback: %v", err)
	}
	if res.Requested != 5 || res.Succeeded != 5 || res.Failed != 0 {
		t.Fatalf("want 5/5/0 got %d/%d/%d", res.Requested, res.Succeeded, res.Failed)
	}
	benign := 0
	for _, item := range res.Items {
		if !item.OK {
			t.Fatalf("no member should fail: %+v", item)
		}
		if item.Note != "" {
			benign++
		}
	}
	if benign != 2 {
		t.Fatalf("want 2 annotated members got %d", benign)
	}
	if len(f.lifecycle.rollbacks) != 5 {
		t.Fatalf("every member must be attempted, got %d", len(f.lifecycle.rollbacks))
	}
}

func TestBulkPushMixedOutcomes(t *testing.T) {
	f := newBulkFixture(t, 0)
	ids := f.seedActions(4)

	// ids[0]: default scripted success.
	f.lifecycle.script(ids[1], &types.AgentAction{ID: ids[1], Status: types.ActionStatusPending}, ErrNotEligible)
	f.lifecycle.script(ids[2], &types.AgentAction{ID: ids[2], Status: types.ActionStatusFailed, ErrorClass: types.ErrorClassTransient}, nil)
	f.lifecycle.script(ids[3], nil, errors.New("platform exploded"))

	res, err := f.svc.BulkPush(context.Background(), f.storeID, ids)
	if err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 2 {
		t.Fatalf("want 2 succeeded / 2 failed got %d/%d", res.Succeeded, res.Failed)
	}
	if !res.Items[0].OK || res.Items[0].Error != "" {
		t.Fatalf("member 0 should succeed cleanly: %+v", res.Items[0])
	}
	if !res.Items[1].OK || res.Items[1].Note == "" {
		t.Fatalf("member 1 should be a benign success: %+v", res.Items[1])
	}
	if res.Items[2].OK || res.Items[2].Error != "execution failed (transient)" {
		t.Fatalf("member 2 must surface the recorded execution failure: %+v", res.Items[2])
	}
	if res.Items[3].OK || res.Items[3].Error == "" {
		t.Fatalf("member 3 should fail hard: %+v", res.Items[3])
	}
}

// A member whose change was already on the platform reports as succeeded.
func TestBulkPushPlatformAlreadyAppliedIsBenign(t *testing.T) {
	f := newBulkFixture(t, 0)
	ids := f.seedActions(1)
	f.lifecycle.script(ids[0], nil, &shopify.PlatformError{Class: shopify.ClassAlreadyApplied, StatusCode: 409})

	res, err := f.svc.BulkPush(context.Background(), f.storeID, ids)
	if err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if res.Succeeded != 1 || res.Items[0].Note != "already applied on platform" {
		t.Fatalf("already-applied must count as success: %+v", res.Items[0])
	}
}

func TestBulkScopesToCallerStore(t *testing.T) {
	f := newBulkFixture(t, 0)
	mine := f.seedActions(1)[0]
	other := f.actions.insert(&types.AgentAction{
		StoreID:    uuid.New(),
		ActionType: types.ActionTypeContentOptimize,
		EntityType: types.EntityTypeProduct,
		EntityID:   "ent-9",
		Status:     types.ActionStatusCompleted,
		ExecutedBy: types.ExecutedByAgent,
	})
	unknown := uuid.New()

	res, err := f.svc.BulkPush(context.Background(), f.storeID, []uuid.UUID{mine, other.ID, unknown})
	if err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 2 {
		t.Fatalf("want 1/2 got %d/%d", res.Succeeded, res.Failed)
	}
	for _, item := range res.Items[1:] {
		if item.OK || item.Error != ErrActionNotFound.Error() {
			t.Fatalf("out-of-store members must read as not found: %+v", item)
		}
	}
	if len(f.lifecycle.pushes) != 1 || f.lifecycle.pushes[0] != mine {
		t.Fatalf("lifecycle must only see in-store members, got %v", f.lifecycle.pushes)
	}
}

func TestBulkWidthBoundsConcurrency(t *testing.T) {
	f := newBulkFixture(t, 3)
	f.lifecycle.memberDelay = 10 * time.Millisecond
	ids := f.seedActions(20)

	res, err := f.svc.BulkPush(context.Background(), f.storeID, ids)
	if err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if res.Succeeded != 20 {
		t.Fatalf("all members should succeed, got %d", res.Succeeded)
	}
	if peak := f.lifecycle.maxInFlight; peak > 3 {
		t.Fatalf("fan-out exceeded width: saw %d members in flight", peak)
	}
}

func TestBulkInvalidatesCacheExactlyOnce(t *testing.T) {
	f := newBulkFixture(t, 0)
	ids := f.seedActions(3)
	f.lifecycle.script(ids[1], nil, errors.New("boom"))

	if _, err := f.svc.BulkRollback(context.Background(), f.storeID, ids); err != nil {
		t.Fatalf("bulk rollback: %v", err)
	}
	if f.cache.bumps != 1 {
		t.Fatalf("want exactly one cache invalidation got %d", f.cache.bumps)
	}
}

func TestBulkEmptySelectionSkipsInvalidation(t *testing.T) {
	f := newBulkFixture(t, 0)

	res, err := f.svc.BulkPush(context.Background(), f.storeID, nil)
	if err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if res.Requested != 0 || len(res.Items) != 0 {
		t.Fatalf("empty selection should be an empty result: %+v", res)
	}
	if f.cache.bumps != 0 {
		t.Fatalf("nothing changed; cache must not be invalidated")
	}
}

func TestBulkRequiresStore(t *testing.T) {
	f := newBulkFixture(t, 0)
	if _, err := f.svc.BulkPush(context.Background(), uuid.Nil, []uuid.UUID{uuid.New()}); err == nil {
		t.Fatalf("store id is required")
	}
}
