package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/outreach"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/proposer"
	redisclient "github.com/anthorai/ZYRA-AI-sub003/internal/clients/redis"
	"github.com/anthorai/ZYRA-AI-sub003/internal/clients/shopify"
	"github.com/anthorai/ZYRA-AI-sub003/internal/db"
	zyrahttp "github.com/anthorai/ZYRA-AI-sub003/internal/http"
	httpH "github.com/anthorai/ZYRA-AI-sub003/internal/http/handlers"
	"github.com/anthorai/ZYRA-AI-sub003/internal/jobs/scheduler"
	"github.com/anthorai/ZYRA-AI-sub003/internal/observability"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/repos"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "zyra-engine",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shutdownCtx)
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Redis cache + event bus
	cache, err := redisclient.NewCache(log)
	if err != nil {
		log.Warn("Redis unavailable; running without cache or events", "error", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	// External collaborators
	log.Info("Setting up platform clients from main...")
	platformClient, err := shopify.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Shopify client", "error", err)
		os.Exit(1)
	}
	generator, err := proposer.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init proposer client", "error", err)
		os.Exit(1)
	}
	dispatcher, err := outreach.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init outreach client", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up repos from main...")
	actionRepo := repos.NewActionRepo(thePG, log)
	ruleRepo := repos.NewRuleRepo(thePG, log)
	settingsRepo := repos.NewSettingsRepo(thePG, log)
	approvalRepo := repos.NewApprovalRepo(thePG, log)
	snapshotRepo := repos.NewSnapshotRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	execTimeout := envutil.Seconds("EXEC_TIMEOUT_SECONDS", 30*time.Second)
	bulkWidth := envutil.Int("BULK_FANOUT_WIDTH", 5)

	settingsService := services.NewSettingsService(log, settingsRepo, actionRepo, cache)
	admissionService := services.NewAdmissionService(log, actionRepo)
	lifecycleService := services.NewLifecycleService(log, actionRepo, snapshotRepo, platformClient, dispatcher, cache, execTimeout)
	approvalService := services.NewApprovalService(thePG, log, approvalRepo, actionRepo, lifecycleService, settingsService, cache)
	bulkService := services.NewBulkService(log, actionRepo, lifecycleService, cache, bulkWidth)
	ruleService := services.NewRuleService(log, ruleRepo)
	evaluatorService := services.NewEvaluatorService(log, ruleRepo, settingsService, admissionService, lifecycleService, approvalService, platformClient, generator)

	if inserted, err := ruleService.SeedPresets(ctx); err != nil {
		log.Warn("Preset rule seeding failed", "error", err)
	} else if inserted > 0 {
		log.Info("Seeded preset rules", "inserted", inserted)
	}

	// Scheduler
	sched := scheduler.New(log, settingsService, evaluatorService, actionRepo, scheduler.ConfigFromEnv())
	sched.Start(ctx)
	defer sched.Stop()

	// Router
	log.Info("Setting up router from main...")
	server := zyrahttp.NewServer(zyrahttp.RouterConfig{
		Log:             log,
		HealthHandler:   httpH.NewHealthHandler(),
		ActionHandler:   httpH.NewActionHandler(lifecycleService, bulkService),
		ApprovalHandler: httpH.NewApprovalHandler(approvalService),
		SettingsHandler: httpH.NewSettingsHandler(settingsService),
		RuleHandler:     httpH.NewRuleHandler(ruleService),
		EvaluateHandler: httpH.NewEvaluateHandler(evaluatorService),
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(":" + port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}
}
