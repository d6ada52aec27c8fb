package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/middleware"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

var errNotStubbed = errors.New("not stubbed")

// Interface stubs with one overridable func per method. A call that the test
// did not stub fails loudly instead of silently succeeding.

type lifecycleStub struct {
	create   func(ctx context.Context, cand rules.Candidate, verdict services.Verdict, executedBy string, dryRun bool) (*types.AgentAction, error)
	run      func(ctx context.Context, actionID uuid.UUID, publish bool) (*types.AgentAction, error)
	push     func(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	rollback func(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	cancel   func(ctx context.Context, actionID uuid.UUID, reason string) (*types.AgentAction, error)
	get      func(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error)
	list     func(ctx context.Context, q repos.ActionQuery) ([]*types.AgentAction, int64, error)
}

func (s *lifecycleStub) CreateFromCandidate(ctx context.Context, cand rules.Candidate, verdict services.Verdict, executedBy string, dryRun bool) (*types.AgentAction, error) {
	if s.create == nil {
		return nil, errNotStubbed
	}
	return s.create(ctx, cand, verdict, executedBy, dryRun)
}

func (s *lifecycleStub) Run(ctx context.Context, actionID uuid.UUID, publish bool) (*types.AgentAction, error) {
	if s.run == nil {
		return nil, errNotStubbed
	}
	return s.run(ctx, actionID, publish)
}

func (s *lifecycleStub) PushToShopify(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	if s.push == nil {
		return nil, errNotStubbed
	}
	return s.push(ctx, actionID)
}

func (s *lifecycleStub) Rollback(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	if s.rollback == nil {
		return nil, errNotStubbed
	}
	return s.rollback(ctx, actionID)
}

func (s *lifecycleStub) Cancel(ctx context.Context, actionID uuid.UUID, reason string) (*types.AgentAction, error) {
	if s.cancel == nil {
		return nil, errNotStubbed
	}
	return s.cancel(ctx, actionID, reason)
}

func (s *lifecycleStub) Get(ctx context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	if s.get == nil {
		return nil, errNotStubbed
	}
	return s.get(ctx, actionID)
}

func (s *lifecycleStub) List(ctx context.Context, q repos.ActionQuery) ([]*types.AgentAction, int64, error) {
	if s.list == nil {
		return nil, 0, errNotStubbed
	}
	return s.list(ctx, q)
}

type bulkStub struct {
	push     func(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*services.BulkResult, error)
	rollback func(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*services.BulkResult, error)
}

func (s *bulkStub) BulkPush(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*services.BulkResult, error) {
	if s.push == nil {
		return nil, errNotStubbed
	}
	return s.push(ctx, storeID, actionIDs)
}

func (s *bulkStub) BulkRollback(ctx context.Context, storeID uuid.UUID, actionIDs []uuid.UUID) (*services.BulkResult, error) {
	if s.rollback == nil {
		return nil, errNotStubbed
	}
	return s.rollback(ctx, storeID, actionIDs)
}

type approvalStub struct {
	propose     func(ctx context.Context, cand rules.Candidate) (*types.PendingApproval, bool, error)
	get         func(ctx context.Context, approvalID uuid.UUID) (*types.PendingApproval, error)
	listPending func(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error)
	approve     func(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, *types.AgentAction, error)
	reject      func(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, error)
}

func (s *approvalStub) Propose(ctx context.Context, cand rules.Candidate) (*types.PendingApproval, bool, error) {
	if s.propose == nil {
		return nil, false, errNotStubbed
	}
	return s.propose(ctx, cand)
}

func (s *approvalStub) Get(ctx context.Context, approvalID uuid.UUID) (*types.PendingApproval, error) {
	if s.get == nil {
		return nil, errNotStubbed
	}
	return s.get(ctx, approvalID)
}

func (s *approvalStub) ListPending(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error) {
	if s.listPending == nil {
		return nil, 0, errNotStubbed
	}
	return s.listPending(ctx, storeID, limit, offset)
}

func (s *approvalStub) Approve(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, *types.AgentAction, error) {
	if s.approve == nil {
		return nil, nil, errNotStubbed
	}
	return s.approve(ctx, approvalID, reviewedBy)
}

func (s *approvalStub) Reject(ctx context.Context, approvalID uuid.UUID, reviewedBy string) (*types.PendingApproval, error) {
	if s.reject == nil {
		return nil, errNotStubbed
	}
	return s.reject(ctx, approvalID, reviewedBy)
}

type settingsStub struct {
	get    func(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, error)
	update func(ctx context.Context, storeID uuid.UUID, patch services.SettingsPatch) (*types.AutomationSettings, error)
}

func (s *settingsStub) Get(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	if s.get == nil {
		return nil, errNotStubbed
	}
	return s.get(ctx, storeID)
}

func (s *settingsStub) Update(ctx context.Context, storeID uuid.UUID, patch services.SettingsPatch) (*types.AutomationSettings, error) {
	if s.update == nil {
		return nil, errNotStubbed
	}
	return s.update(ctx, storeID, patch)
}

func (s *settingsStub) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	return nil, errNotStubbed
}

type ruleStub struct {
	seed   func(ctx context.Context) (int64, error)
	create func(ctx context.Context, storeID uuid.UUID, input services.RuleInput) (*types.AutomationRule, error)
	list   func(ctx context.Context, storeID uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error)
	get    func(ctx context.Context, storeID, id uuid.UUID) (*types.AutomationRule, error)
	update func(ctx context.Context, storeID, id uuid.UUID, patch services.RulePatch) (*types.AutomationRule, error)
	delete func(ctx context.Context, storeID, id uuid.UUID) error
}

func (s *ruleStub) SeedPresets(ctx context.Context) (int64, error) {
	if s.seed == nil {
		return 0, errNotStubbed
	}
	return s.seed(ctx)
}

func (s *ruleStub) Create(ctx context.Context, storeID uuid.UUID, input services.RuleInput) (*types.AutomationRule, error) {
	if s.create == nil {
		return nil, errNotStubbed
	}
	return s.create(ctx, storeID, input)
}

func (s *ruleStub) List(ctx context.Context, storeID uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error) {
	if s.list == nil {
		return nil, errNotStubbed
	}
	return s.list(ctx, storeID, includeDisabled)
}

func (s *ruleStub) Get(ctx context.Context, storeID, id uuid.UUID) (*types.AutomationRule, error) {
	if s.get == nil {
		return nil, errNotStubbed
	}
	return s.get(ctx, storeID, id)
}

func (s *ruleStub) Update(ctx context.Context, storeID, id uuid.UUID, patch services.RulePatch) (*types.AutomationRule, error) {
	if s.update == nil {
		return nil, errNotStubbed
	}
	return s.update(ctx, storeID, id, patch)
}

func (s *ruleStub) Delete(ctx context.Context, storeID, id uuid.UUID) error {
	if s.delete == nil {
		return errNotStubbed
	}
	return s.delete(ctx, storeID, id)
}

type evaluatorStub struct {
	runPass func(ctx context.Context, storeID uuid.UUID) (*services.PassReport, error)
}

func (s *evaluatorStub) RunPass(ctx context.Context, storeID uuid.UUID) (*services.PassReport, error) {
	if s.runPass == nil {
		return nil, errNotStubbed
	}
	return s.runPass(ctx, storeID)
}

// storeRouter mounts routes the way the real router does: behind
// RequireStore, under /api/v1.
func storeRouter(register func(api *gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.RequireStore())
	register(api)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, storeID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if storeID != uuid.Nil {
		req.Header.Set("X-Store-Id", storeID.String())
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope %q: %v", rec.Body.String(), err)
	}
	return envelope.Error.Code
}
