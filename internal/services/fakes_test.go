package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/outreach"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/proposer"
	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/rules"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// opLog records cross-fake call ordering, so tests can assert e.g. that the
// snapshot was durable before the platform was touched.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) index(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, o := range l.ops {
		if o == op {
			return i
		}
	}
	return -1
}

// ---------- action repo ----------

type fakeActionRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*types.AgentAction
	byOrder []uuid.UUID
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{rows: map[uuid.UUID]*types.AgentAction{}}
}

func copyAction(a *types.AgentAction) *types.AgentAction {
	cp := *a
	return &cp
}

func (f *fakeActionRepo) insert(a *types.AgentAction) *types.AgentAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	f.rows[a.ID] = copyAction(a)
	f.byOrder = append(f.byOrder, a.ID)
	return copyAction(a)
}

func (f *fakeActionRepo) Create(_ dbctx.Context, a *types.AgentAction) (*types.AgentAction, error) {
	if a == nil {
		return nil, nil
	}
	return f.insert(a), nil
}

func (f *fakeActionRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.AgentAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.rows[id]; ok {
		return copyAction(a), nil
	}
	return nil, nil
}

func (f *fakeActionRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.AgentAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AgentAction
	for _, id := range ids {
		if a, ok := f.rows[id]; ok {
			out = append(out, copyAction(a))
		}
	}
	return out, nil
}

func (f *fakeActionRepo) List(_ dbctx.Context, q repos.ActionQuery) ([]*types.AgentAction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AgentAction
	for _, id := range f.byOrder {
		a := f.rows[id]
		if q.StoreID != uuid.Nil && a.StoreID != q.StoreID {
			continue
		}
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		if q.ActionType != "" && a.ActionType != q.ActionType {
			continue
		}
		if q.EntityType != "" && a.EntityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && a.EntityID != q.EntityID {
			continue
		}
		if q.RuleID != nil && (a.RuleID == nil || *a.RuleID != *q.RuleID) {
			continue
		}
		out = append(out, copyAction(a))
	}
	total := int64(len(out))
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func applyActionUpdates(a *types.AgentAction, updates map[string]interface{}) {
	for col, v := range updates {
		switch col {
		case "status":
			a.Status = v.(string)
		case "decision_reason":
			a.DecisionReason = v.(string)
		case "error_class":
			a.ErrorClass = v.(string)
		case "result":
			a.Result = v.(datatypes.JSON)
		case "actual_impact":
			a.ActualImpact = v.(datatypes.JSON)
		case "published_to_shopify":
			a.PublishedToShopify = v.(bool)
		case "started_at":
			ts := v.(time.Time)
			a.StartedAt = &ts
		case "completed_at":
			ts := v.(time.Time)
			a.CompletedAt = &ts
		case "rolled_back_at":
			ts := v.(time.Time)
			a.RolledBackAt = &ts
		case "updated_at":
			a.UpdatedAt = v.(time.Time)
		}
	}
}

func (f *fakeActionRepo) TransitionStatus(_ dbctx.Context, id uuid.UUID, from, to string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || a.Status != from {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	applyActionUpdates(a, updates)
	a.Status = to
	return true, nil
}

func (f *fakeActionRepo) MarkPublished(_ dbctx.Context, id uuid.UUID, result datatypes.JSON) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || a.Status != types.ActionStatusCompleted || a.PublishedToShopify {
		return false, nil
	}
	a.PublishedToShopify = true
	a.Result = result
	return true, nil
}

func (f *fakeActionRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.rows[id]; ok {
		applyActionUpdates(a, updates)
	}
	return nil
}

func (f *fakeActionRepo) LatestForRuleEntity(_ dbctx.Context, ruleID uuid.UUID, entityID string) (*types.AgentAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.AgentAction
	for _, a := range f.rows {
		if a.RuleID == nil || *a.RuleID != ruleID || a.EntityID != entityID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyAction(latest), nil
}

func (f *fakeActionRepo) CountForStoreSince(_ dbctx.Context, storeID uuid.UUID, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.rows {
		if a.StoreID == storeID && a.ExecutedBy == types.ExecutedByAgent && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeActionRepo) SumCreditsSince(_ dbctx.Context, storeID uuid.UUID, since time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum float64
	for _, a := range f.rows {
		if a.StoreID == storeID && a.ExecutedBy == types.ExecutedByAgent && !a.CreatedAt.Before(since) {
			sum += a.CreditCost
		}
	}
	return sum, nil
}

func (f *fakeActionRepo) DistinctEntitiesSince(_ dbctx.Context, storeID uuid.UUID, entityType string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	for _, a := range f.rows {
		if a.StoreID == storeID && a.EntityType == entityType && a.ExecutedBy == types.ExecutedByAgent && !a.CreatedAt.Before(since) {
			seen[a.EntityID] = true
		}
	}
	return int64(len(seen)), nil
}

func (f *fakeActionRepo) ReapStaleRunning(_ dbctx.Context, olderThan time.Duration, errorDetail string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	detail, _ := json.Marshal(map[string]string{"error": errorDetail})
	var n int64
	for _, a := range f.rows {
		if a.Status == types.ActionStatusRunning && a.StartedAt != nil && a.StartedAt.Before(cutoff) {
			now := time.Now()
			a.Status = types.ActionStatusFailed
			a.ErrorClass = types.ErrorClassTimeout
			a.Result = datatypes.JSON(detail)
			a.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

// ---------- snapshot repo ----------

type fakeSnapshotRepo struct {
	mu    sync.Mutex
	rows  []*types.EntitySnapshot
	calls *opLog
	seq   int
	fail  error
}

func newFakeSnapshotRepo(calls *opLog) *fakeSnapshotRepo {
	return &fakeSnapshotRepo{calls: calls}
}

func (f *fakeSnapshotRepo) Create(_ dbctx.Context, snap *types.EntitySnapshot) (*types.EntitySnapshot, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snap
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	f.seq++
	cp.CreatedAt = time.Unix(int64(f.seq), 0)
	f.rows = append(f.rows, &cp)
	if f.calls != nil {
		f.calls.add("snapshot:" + snap.EntityID)
	}
	out := cp
	return &out, nil
}

func (f *fakeSnapshotRepo) GetByAction(_ dbctx.Context, actionID uuid.UUID) (*types.EntitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *types.EntitySnapshot
	for _, snap := range f.rows {
		if snap.ActionID != actionID {
			continue
		}
		if newest == nil || snap.CreatedAt.After(newest.CreatedAt) {
			newest = snap
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeSnapshotRepo) ListForEntity(_ dbctx.Context, storeID uuid.UUID, entityType, entityID string, limit int) ([]*types.EntitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.EntitySnapshot
	for _, snap := range f.rows {
		if snap.StoreID == storeID && snap.EntityType == entityType && snap.EntityID == entityID {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------- approval repo ----------

type fakeApprovalRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*types.PendingApproval
	byOrder []uuid.UUID
}

func newFakeApprovalRepo() *fakeApprovalRepo {
	return &fakeApprovalRepo{rows: map[uuid.UUID]*types.PendingApproval{}}
}

func copyApproval(a *types.PendingApproval) *types.PendingApproval {
	cp := *a
	return &cp
}

func (f *fakeApprovalRepo) CreateDeduped(_ dbctx.Context, approval *types.PendingApproval) (*types.PendingApproval, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if approval.DedupKey != "" {
		for _, id := range f.byOrder {
			row := f.rows[id]
			if row.Status == types.ApprovalStatusPending &&
				row.StoreID == approval.StoreID &&
				row.ActionType == approval.ActionType &&
				row.DedupKey == approval.DedupKey &&
				row.Channel == approval.Channel {
				return copyApproval(row), false, nil
			}
		}
	}
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if approval.Status == "" {
		approval.Status = types.ApprovalStatusPending
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now()
	}
	f.rows[approval.ID] = copyApproval(approval)
	f.byOrder = append(f.byOrder, approval.ID)
	return copyApproval(approval), true, nil
}

func (f *fakeApprovalRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.PendingApproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return copyApproval(row), nil
	}
	return nil, nil
}

func (f *fakeApprovalRepo) ListPending(_ dbctx.Context, storeID uuid.UUID, limit, offset int) ([]*types.PendingApproval, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.PendingApproval
	for _, id := range f.byOrder {
		row := f.rows[id]
		if row.Status != types.ApprovalStatusPending {
			continue
		}
		if storeID != uuid.Nil && row.StoreID != storeID {
			continue
		}
		out = append(out, copyApproval(row))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeApprovalRepo) Resolve(_ dbctx.Context, id uuid.UUID, toStatus, reviewedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != types.ApprovalStatusPending {
		return false, nil
	}
	now := time.Now()
	row.Status = toStatus
	row.ReviewedBy = reviewedBy
	row.ReviewedAt = &now
	row.UpdatedAt = now
	return true, nil
}

func (f *fakeApprovalRepo) SetExecutedAction(_ dbctx.Context, id uuid.UUID, actionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		linked := actionID
		row.ExecutedActionID = &linked
	}
	return nil
}

// ---------- external platform ----------

type fakePlatform struct {
	mu       sync.Mutex
	entities map[string]shopify.EntityState
	listErr  error
	fetchErr error
	applyErr error
	// applyErrOnce fails the first apply only, then clears.
	applyErrOnce error
	revertErr    error

	fetches int
	applies int
	reverts int

	appliedPayloads  []json.RawMessage
	revertedStates   []json.RawMessage
	revertedEntities []string

	calls *opLog
}

func newFakePlatform(calls *opLog) *fakePlatform {
	return &fakePlatform{entities: map[string]shopify.EntityState{}, calls: calls}
}

func (f *fakePlatform) addEntity(e shopify.EntityState) {
	f.mu.Lock()
	f.entities[e.Type+"/"+e.ID] = e
	f.mu.Unlock()
}

func (f *fakePlatform) FetchEntity(_ context.Context, _ uuid.UUID, entityType, entityID string) (*shopify.EntityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.calls != nil {
		f.calls.add("fetch:" + entityID)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	e, ok := f.entities[entityType+"/"+entityID]
	if !ok {
		return nil, &shopify.PlatformError{Class: shopify.ClassNotFound, StatusCode: 404, Message: "entity missing"}
	}
	cp := e
	return &cp, nil
}

func (f *fakePlatform) ListEntities(_ context.Context, _ uuid.UUID, entityType string, _ int) ([]shopify.EntityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []shopify.EntityState
	for _, e := range f.entities {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePlatform) Apply(_ context.Context, _ uuid.UUID, _, entityID string, payload json.RawMessage) (*shopify.MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if f.calls != nil {
		f.calls.add("apply:" + entityID)
	}
	if f.applyErrOnce != nil {
		err := f.applyErrOnce
		f.applyErrOnce = nil
		return nil, err
	}
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.appliedPayloads = append(f.appliedPayloads, payload)
	return &shopify.MutationResult{EntityID: entityID, Detail: "applied"}, nil
}

func (f *fakePlatform) Revert(_ context.Context, _ uuid.UUID, _, entityID string, snapshot json.RawMessage) (*shopify.MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts++
	if f.calls != nil {
		f.calls.add("revert:" + entityID)
	}
	if f.revertErr != nil {
		return nil, f.revertErr
	}
	f.revertedStates = append(f.revertedStates, snapshot)
	f.revertedEntities = append(f.revertedEntities, entityID)
	return &shopify.MutationResult{EntityID: entityID, Detail: "restored"}, nil
}

// ---------- outreach dispatcher ----------

type fakeDispatcher struct {
	mu    sync.Mutex
	sends []outreach.SendRequest
	fail  error
}

func (f *fakeDispatcher) Send(_ context.Context, req outreach.SendRequest) (*outreach.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sends = append(f.sends, req)
	return &outreach.Delivery{MessageID: fmt.Sprintf("msg-%d", len(f.sends)), Status: "queued"}, nil
}

// ---------- proposal generator ----------

type fakeGenerator struct {
	mu        sync.Mutex
	proposals map[string]proposer.Proposal
	fail      error
	calls     int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{proposals: map[string]proposer.Proposal{}}
}

func (f *fakeGenerator) stub(actionType string, payload interface{}, impact types.ImpactEstimate) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.proposals[actionType] = proposer.Proposal{Payload: raw, EstimatedImpact: impact, Reasoning: "stub reasoning"}
	f.mu.Unlock()
}

func (f *fakeGenerator) Generate(_ context.Context, req proposer.GenerateRequest) (*proposer.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	p, ok := f.proposals[req.ActionType]
	if !ok {
		return nil, fmt.Errorf("no stub for %s", req.ActionType)
	}
	cp := p
	return &cp, nil
}

// ---------- redis cache ----------

type fakeCache struct {
	mu     sync.Mutex
	events []redisclient.Event
	bumps  int
	stored map[uuid.UUID]*types.AutomationSettings

	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{stored: map[uuid.UUID]*types.AutomationSettings{}}
}

func (f *fakeCache) GetSettings(_ context.Context, storeID uuid.UUID) (*types.AutomationSettings, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stored[storeID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (f *fakeCache) SetSettings(_ context.Context, settings *types.AutomationSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *settings
	f.stored[settings.StoreID] = &cp
	return nil
}

func (f *fakeCache) InvalidateSettings(_ context.Context, storeID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, storeID)
	f.invalidated++
	return nil
}

func (f *fakeCache) BumpActionsVersion(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumps++
	return nil
}

func (f *fakeCache) ActionsVersion(_ context.Context, _ uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.bumps), nil
}

func (f *fakeCache) PublishEvent(_ context.Context, evt redisclient.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeCache) Close() error { return nil }

func (f *fakeCache) eventsOfType(eventType string) []redisclient.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []redisclient.Event
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ---------- settings repo ----------

type fakeSettingsRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.AutomationSettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{rows: map[uuid.UUID]*types.AutomationSettings{}}
}

func (f *fakeSettingsRepo) put(s *types.AutomationSettings) {
	f.mu.Lock()
	cp := *s
	f.rows[s.StoreID] = &cp
	f.mu.Unlock()
}

func (f *fakeSettingsRepo) Get(_ dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[storeID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSettingsRepo) GetOrCreate(dbc dbctx.Context, storeID uuid.UUID) (*types.AutomationSettings, error) {
	if s, _ := f.Get(dbc, storeID); s != nil {
		return s, nil
	}
	raw, _ := json.Marshal(types.KnownActionTypes())
	s := &types.AutomationSettings{
		ID:                        uuid.New(),
		StoreID:                   storeID,
		AutopilotMode:             types.AutopilotModeSafe,
		MaxDailyActions:           10,
		MaxCatalogChangePercent:   20,
		AutonomousCreditLimit:     100,
		EnabledActionTypes:        datatypes.JSON(raw),
		EvaluationIntervalSeconds: 300,
	}
	f.put(s)
	return s, nil
}

func (f *fakeSettingsRepo) UpdateFields(_ dbctx.Context, storeID uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[storeID]
	if !ok {
		return fmt.Errorf("no settings row for %s", storeID)
	}
	for col, v := range updates {
		switch col {
		case "global_autopilot_enabled":
			s.GlobalAutopilotEnabled = v.(bool)
		case "autopilot_mode":
			s.AutopilotMode = v.(string)
		case "dry_run_mode":
			s.DryRunMode = v.(bool)
		case "auto_publish_enabled":
			s.AutoPublishEnabled = v.(bool)
		case "max_daily_actions":
			s.MaxDailyActions = v.(int)
		case "max_catalog_change_percent":
			s.MaxCatalogChangePercent = v.(float64)
		case "autonomous_credit_limit":
			s.AutonomousCreditLimit = v.(float64)
		case "enabled_action_types":
			s.EnabledActionTypes = v.(datatypes.JSON)
		case "evaluation_interval_seconds":
			s.EvaluationIntervalSeconds = v.(int)
		case "updated_at":
			s.UpdatedAt = v.(time.Time)
		}
	}
	return nil
}

func (f *fakeSettingsRepo) ListStoreIDs(_ dbctx.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.rows))
	for id := range f.rows {
		out = append(out, id)
	}
	return out, nil
}

// ---------- rule repo ----------

type fakeRuleRepo struct {
	mu   sync.Mutex
	rows []*types.AutomationRule
}

func (f *fakeRuleRepo) add(rule *types.AutomationRule) {
	f.mu.Lock()
	cp := *rule
	f.rows = append(f.rows, &cp)
	f.mu.Unlock()
}

func (f *fakeRuleRepo) Create(_ dbctx.Context, rule *types.AutomationRule) (*types.AutomationRule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	f.add(rule)
	return rule, nil
}

func (f *fakeRuleRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id && !r.DeletedAt.Valid {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRuleRepo) ListForStore(_ dbctx.Context, storeID uuid.UUID) ([]*types.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AutomationRule
	for _, r := range f.rows {
		if !r.Enabled || r.DeletedAt.Valid {
			continue
		}
		if r.StoreID == nil || *r.StoreID == storeID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (f *fakeRuleRepo) ListAll(_ dbctx.Context, storeID *uuid.UUID, includeDisabled bool) ([]*types.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AutomationRule
	for _, r := range f.rows {
		if r.DeletedAt.Valid {
			continue
		}
		if !includeDisabled && !r.Enabled {
			continue
		}
		if storeID != nil && r.StoreID != nil && *r.StoreID != *storeID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (f *fakeRuleRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID != id || r.DeletedAt.Valid {
			continue
		}
		for col, v := range updates {
			switch col {
			case "name":
				r.Name = v.(string)
			case "condition":
				r.Condition = v.(datatypes.JSON)
			case "priority":
				r.Priority = v.(int)
			case "cooldown_seconds":
				r.CooldownSeconds = v.(int)
			case "enabled":
				r.Enabled = v.(bool)
			case "updated_at":
				r.UpdatedAt = v.(time.Time)
			}
		}
	}
	return nil
}

func (f *fakeRuleRepo) Disable(dbc dbctx.Context, id uuid.UUID) error {
	return f.UpdateFields(dbc, id, map[string]interface{}{"enabled": false})
}

func (f *fakeRuleRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			r.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
		}
	}
	return nil
}

func (f *fakeRuleRepo) SeedPresets(_ dbctx.Context, seed []*types.AutomationRule) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted int64
	for _, rule := range seed {
		exists := false
		for _, r := range f.rows {
			// Matches the repo: soft-deleted presets stay deleted.
			if r.StoreID == nil && r.Source == types.RuleSourcePreset && r.Name == rule.Name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		cp := *rule
		f.rows = append(f.rows, &cp)
		inserted++
	}
	return inserted, nil
}

// ---------- service-level fakes ----------

type fakeSettingsService struct {
	mu       sync.Mutex
	settings *types.AutomationSettings
}

func (f *fakeSettingsService) Get(_ context.Context, _ uuid.UUID) (*types.AutomationSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.settings
	return &cp, nil
}

func (f *fakeSettingsService) Update(_ context.Context, _ uuid.UUID, _ SettingsPatch) (*types.AutomationSettings, error) {
	return f.Get(context.Background(), uuid.Nil)
}

func (f *fakeSettingsService) ListStoreIDs(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []uuid.UUID{f.settings.StoreID}, nil
}

type fakeApprovalService struct {
	mu       sync.Mutex
	proposed []rules.Candidate
	absorbed bool
}

func (f *fakeApprovalService) Propose(_ context.Context, cand rules.Candidate) (*types.PendingApproval, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposed = append(f.proposed, cand)
	return &types.PendingApproval{ID: uuid.New(), StoreID: cand.StoreID, ActionType: cand.ActionType}, !f.absorbed, nil
}

func (f *fakeApprovalService) Get(_ context.Context, _ uuid.UUID) (*types.PendingApproval, error) {
	return nil, ErrApprovalNotFound
}

func (f *fakeApprovalService) ListPending(_ context.Context, _ uuid.UUID, _, _ int) ([]*types.PendingApproval, int64, error) {
	return nil, 0, nil
}

func (f *fakeApprovalService) Approve(_ context.Context, _ uuid.UUID, _ string) (*types.PendingApproval, *types.AgentAction, error) {
	return nil, nil, ErrApprovalNotFound
}

func (f *fakeApprovalService) Reject(_ context.Context, _ uuid.UUID, _ string) (*types.PendingApproval, error) {
	return nil, ErrApprovalNotFound
}

// lifecycleOutcome scripts one action's response from the fake lifecycle.
type lifecycleOutcome struct {
	action *types.AgentAction
	err    error
}

type createdRecord struct {
	cand       rules.Candidate
	verdict    Verdict
	executedBy string
	dryRun     bool
	action     *types.AgentAction
}

type runRecord struct {
	actionID uuid.UUID
	publish  bool
}

// fakeLifecycle records calls and replays scripted outcomes. Push/rollback
// members track in-flight concurrency so fan-out width can be asserted.
type fakeLifecycle struct {
	mu        sync.Mutex
	created   []createdRecord
	runs      []runRecord
	pushes    []uuid.UUID
	rollbacks []uuid.UUID
	outcomes  map[uuid.UUID]lifecycleOutcome
	createErr error
	runErr    error

	inFlight    int32
	maxInFlight int32
	memberDelay time.Duration
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{outcomes: map[uuid.UUID]lifecycleOutcome{}}
}

func (f *fakeLifecycle) script(id uuid.UUID, action *types.AgentAction, err error) {
	f.mu.Lock()
	f.outcomes[id] = lifecycleOutcome{action: action, err: err}
	f.mu.Unlock()
}

func (f *fakeLifecycle) enter() {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&f.maxInFlight)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxInFlight, seen, cur) {
			break
		}
	}
	if f.memberDelay > 0 {
		time.Sleep(f.memberDelay)
	}
}

func (f *fakeLifecycle) exit() { atomic.AddInt32(&f.inFlight, -1) }

func (f *fakeLifecycle) outcome(id uuid.UUID) (lifecycleOutcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.outcomes[id]
	return o, ok
}

func (f *fakeLifecycle) CreateFromCandidate(_ context.Context, cand rules.Candidate, verdict Verdict, executedBy string, dryRun bool) (*types.AgentAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	action := &types.AgentAction{
		ID:         uuid.New(),
		StoreID:    cand.StoreID,
		ActionType: cand.ActionType,
		EntityType: cand.EntityType,
		EntityID:   cand.EntityID,
		Status:     types.ActionStatusPending,
		Payload:    cand.Payload,
		ExecutedBy: executedBy,
		DryRun:     dryRun,
	}
	f.created = append(f.created, createdRecord{cand: cand, verdict: verdict, executedBy: executedBy, dryRun: dryRun, action: action})
	return action, nil
}

func (f *fakeLifecycle) Run(_ context.Context, actionID uuid.UUID, publish bool) (*types.AgentAction, error) {
	f.mu.Lock()
	f.runs = append(f.runs, runRecord{actionID: actionID, publish: publish})
	err := f.runErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if o, ok := f.outcome(actionID); ok {
		return o.action, o.err
	}
	return &types.AgentAction{ID: actionID, Status: types.ActionStatusCompleted}, nil
}

func (f *fakeLifecycle) PushToShopify(_ context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	f.enter()
	defer f.exit()
	f.mu.Lock()
	f.pushes = append(f.pushes, actionID)
	f.mu.Unlock()
	if o, ok := f.outcome(actionID); ok {
		return o.action, o.err
	}
	return &types.AgentAction{ID: actionID, Status: types.ActionStatusCompleted, PublishedToShopify: true}, nil
}

func (f *fakeLifecycle) Rollback(_ context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	f.enter()
	defer f.exit()
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, actionID)
	f.mu.Unlock()
	if o, ok := f.outcome(actionID); ok {
		return o.action, o.err
	}
	return &types.AgentAction{ID: actionID, Status: types.ActionStatusRolledBack}, nil
}

func (f *fakeLifecycle) Cancel(_ context.Context, actionID uuid.UUID, _ string) (*types.AgentAction, error) {
	if o, ok := f.outcome(actionID); ok {
		return o.action, o.err
	}
	return &types.AgentAction{ID: actionID, Status: types.ActionStatusCancelled}, nil
}

func (f *fakeLifecycle) Get(_ context.Context, actionID uuid.UUID) (*types.AgentAction, error) {
	if o, ok := f.outcome(actionID); ok {
		return o.action, o.err
	}
	return nil, ErrActionNotFound
}

func (f *fakeLifecycle) List(_ context.Context, _ repos.ActionQuery) ([]*types.AgentAction, int64, error) {
	return nil, 0, nil
}

// ---------- test data helpers ----------

func testSettings(storeID uuid.UUID) *types.AutomationSettings {
	raw, _ := json.Marshal(types.KnownActionTypes())
	return &types.AutomationSettings{
		ID:                        uuid.New(),
		StoreID:                   storeID,
		GlobalAutopilotEnabled:    true,
		AutopilotMode:             types.AutopilotModeBalanced,
		MaxDailyActions:           10,
		MaxCatalogChangePercent:   20,
		AutonomousCreditLimit:     100,
		EnabledActionTypes:        datatypes.JSON(raw),
		EvaluationIntervalSeconds: 300,
	}
}

func contentPayload() datatypes.JSON {
	raw, _ := json.Marshal(types.ContentPayload{Title: "Fresh title", BodyHTML: "<p>rewritten</p>", Tags: []string{"summer"}})
	return datatypes.JSON(raw)
}

func campaignPayload(channel string) datatypes.JSON {
	raw, _ := json.Marshal(types.CampaignPayload{Subject: "We miss you", Body: "Come back for 10% off", DiscountCode: "WINBACK10", Channel: channel})
	return datatypes.JSON(raw)
}

func pendingAction(repo *fakeActionRepo, storeID uuid.UUID, actionType string, payload datatypes.JSON) *types.AgentAction {
	return repo.insert(&types.AgentAction{
		ID:         uuid.New(),
		StoreID:    storeID,
		ActionType: actionType,
		EntityType: entityTypeFor(actionType),
		EntityID:   "ent-1",
		Status:     types.ActionStatusPending,
		Payload:    payload,
		ExecutedBy: types.ExecutedByAgent,
	})
}

func entityTypeFor(actionType string) string {
	switch actionType {
	case types.ActionTypeCampaignSend:
		return types.EntityTypeCustomer
	case types.ActionTypeCartRecovery:
		return types.EntityTypeCart
	default:
		return types.EntityTypeProduct
	}
}

func productEntity(id string) shopify.EntityState {
	state, _ := json.Marshal(map[string]interface{}{"id": id, "title": "Old title", "body_html": "<p>old</p>"})
	return shopify.EntityState{
		ID:    id,
		Type:  types.EntityTypeProduct,
		State: state,
		Signals: shopify.Signals{
			Fields: map[string]float64{"days_since_content_update": 90, "inventory_quantity": 12},
		},
	}
}

func customerEntity(id, email string) shopify.EntityState {
	state, _ := json.Marshal(map[string]interface{}{"id": id, "email": email})
	return shopify.EntityState{
		ID:             id,
		Type:           types.EntityTypeCustomer,
		State:          state,
		RecipientEmail: email,
		Signals: shopify.Signals{
			Fields: map[string]float64{"lifetime_order_count": 3},
			Times:  map[string]time.Time{"last_order_at": time.Now().Add(-60 * 24 * time.Hour)},
		},
	}
}
