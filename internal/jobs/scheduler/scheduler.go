package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/dbctx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

// ActionReaper is the slice of the action repo the scheduler needs.
type ActionReaper interface {
	ReapStaleRunning(dbc dbctx.Context, olderThan time.Duration, errorDetail string) (int64, error)
}

type Config struct {
	// RefreshEvery is how often store entries are reconciled against the
	// settings table (new stores, changed intervals, removed stores).
	RefreshEvery time.Duration
	ReapEvery    time.Duration
	StaleAfter   time.Duration
	PassTimeout  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		RefreshEvery: envutil.Seconds("SCHEDULER_REFRESH_SECONDS", 60*time.Second),
		ReapEvery:    envutil.Seconds("SCHEDULER_REAP_SECONDS", 60*time.Second),
		StaleAfter:   envutil.Seconds("SCHEDULER_STALE_AFTER_SECONDS", 15*60*time.Second),
		PassTimeout:  envutil.Seconds("SCHEDULER_PASS_TIMEOUT_SECONDS", 120*time.Second),
	}
}

// Scheduler drives the autonomous loop: one cron entry per store running an
// evaluation pass at that store's configured cadence, plus a reaper that
// fails actions whose executor died mid-run. Dashboard-triggered work never
// goes through here.
type Scheduler struct {
	log       *logger.Logger
	cfg       Config
	settings  services.SettingsService
	evaluator services.EvaluatorService
	actions   ActionReaper

	runner *cron.Cron

	mu      sync.Mutex
	entries map[uuid.UUID]storeEntry
}

type storeEntry struct {
	id       cron.EntryID
	interval int
}

func New(
	baseLog *logger.Logger,
	settings services.SettingsService,
	evaluator services.EvaluatorService,
	actions ActionReaper,
	cfg Config,
) *Scheduler {
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 60 * time.Second
	}
	if cfg.ReapEvery <= 0 {
		cfg.ReapEvery = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 2 * time.Minute
	}
	return &Scheduler{
		log:       baseLog.With("component", "Scheduler"),
		cfg:       cfg,
		settings:  settings,
		evaluator: evaluator,
		actions:   actions,
		// A slow pass must not stack on itself; the next tick is skipped.
		runner:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: map[uuid.UUID]storeEntry{},
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.reconcile(ctx)
	s.runner.Start()
	go s.refreshLoop(ctx)
	go s.reapLoop(ctx)
	s.log.Info("scheduler started",
		"refresh_every", s.cfg.RefreshEvery.String(),
		"reap_every", s.cfg.ReapEvery.String(),
		"stale_after", s.cfg.StaleAfter.String(),
	)
}

func (s *Scheduler) Stop() {
	stopCtx := s.runner.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped")
	case <-time.After(10 * time.Second):
		s.log.Warn("scheduler stop timed out waiting for running passes")
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("refresh loop stopped")
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile aligns cron entries with the settings table. Interval changes
// replace the entry; stores without settings rows fall off.
func (s *Scheduler) reconcile(ctx context.Context) {
	storeIDs, err := s.settings.ListStoreIDs(ctx)
	if err != nil {
		s.log.Warn("list stores failed", "error", err.Error())
		return
	}

	seen := make(map[uuid.UUID]bool, len(storeIDs))
	for _, storeID := range storeIDs {
		seen[storeID] = true
		settings, err := s.settings.Get(ctx, storeID)
		if err != nil {
			s.log.Warn("load settings failed", "store_id", storeID.String(), "error", err.Error())
			continue
		}
		s.ensureEntry(storeID, settings.EvaluationIntervalSeconds)
	}
	s.dropMissing(seen)
}

func (s *Scheduler) ensureEntry(storeID uuid.UUID, intervalSeconds int) {
	if intervalSeconds < 30 {
		intervalSeconds = 30
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[storeID]; ok {
		if cur.interval == intervalSeconds {
			return
		}
		s.runner.Remove(cur.id)
	}

	id, err := s.runner.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), func() {
		s.runStore(storeID)
	})
	if err != nil {
		s.log.Error("schedule store failed", "store_id", storeID.String(), "error", err.Error())
		return
	}
	s.entries[storeID] = storeEntry{id: id, interval: intervalSeconds}
	s.log.Info("store evaluation scheduled", "store_id", storeID.String(), "every_seconds", intervalSeconds)
}

func (s *Scheduler) dropMissing(seen map[uuid.UUID]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for storeID, entry := range s.entries {
		if seen[storeID] {
			continue
		}
		s.runner.Remove(entry.id)
		delete(s.entries, storeID)
		s.log.Info("store evaluation unscheduled", "store_id", storeID.String())
	}
}

func (s *Scheduler) runStore(storeID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("evaluation pass panic", "store_id", storeID.String(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
	defer cancel()

	report, err := s.evaluator.RunPass(ctx, storeID)
	if err != nil {
		s.log.Warn("evaluation pass failed", "store_id", storeID.String(), "error", err.Error())
		return
	}
	s.log.Info("evaluation pass finished",
		"store_id", storeID.String(),
		"matched", report.Matched,
		"admitted", report.Admitted,
		"escalated", report.Escalated,
		"deferred", report.Deferred,
		"rejected", report.Rejected,
		"duplicates", report.Duplicates,
		"duration_ms", report.DurationMS,
	)
}

func (s *Scheduler) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reaper loop stopped")
			return
		case <-ticker.C:
			s.reapOnce(ctx)
		}
	}
}

func (s *Scheduler) reapOnce(ctx context.Context) {
	n, err := s.actions.ReapStaleRunning(dbctx.Context{Ctx: ctx}, s.cfg.StaleAfter, "executor lost before completion")
	if err != nil {
		s.log.Warn("reap stale running failed", "error", err.Error())
		return
	}
	if n > 0 {
		s.log.Warn("stale running actions failed out", "count", n, "older_than", s.cfg.StaleAfter.String())
	}
}
