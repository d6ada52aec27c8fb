package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "zyra")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("connecting to postgres", "host", host, "database", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		serviceLog.Error("postgres connection failed", "error", err)
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("enable uuid-ossp extension failed", "error", err)
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("migrating postgres tables")
	err := s.db.AutoMigrate(
		&types.AutomationSettings{},
		&types.AutomationRule{},
		&types.AgentAction{},
		&types.PendingApproval{},
		&types.EntitySnapshot{},
	)
	if err != nil {
		s.log.Error("auto migration failed", "error", err)
		return fmt.Errorf("migrate tables: %w", err)
	}

	// AutoMigrate cannot express a partial unique index. This one makes
	// proposal dedup a database guarantee: at most one pending approval per
	// (store, action type, recipient, channel), resolved rows excluded.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_pending_approval_dedup
		ON pending_approval (store_id, action_type, dedup_key, channel)
		WHERE status = 'pending' AND dedup_key <> '';
	`).Error; err != nil {
		return fmt.Errorf("create dedup index: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
