package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// Event types published on the agent channel.
const (
	EventActionStatus     = "action.status_changed"
	EventRollbackFailed   = "rollback.failed"
	EventApprovalCreated  = "approval.created"
	EventApprovalResolved = "approval.resolved"
)

// Event is the dashboard-facing notification shape. rollback.failed is the
// one event treated as an alert: the storefront may still carry a change
// the merchant asked to undo.
type Event struct {
	Type       string    `json:"type"`
	StoreID    uuid.UUID `json:"store_id"`
	ActionID   uuid.UUID `json:"action_id,omitempty"`
	ApprovalID uuid.UUID `json:"approval_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Cache is the engine's Redis surface: a short-TTL settings cache, a
// version key the dashboard uses to invalidate its action lists, and the
// lifecycle event channel. All of it is best-effort; the database stays
// the source of truth.
type Cache interface {
	GetSettings(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, bool)
	SetSettings(ctx context.Context, settings *types.AutomationSettings) error
	InvalidateSettings(ctx context.Context, storeID uuid.UUID) error
	BumpActionsVersion(ctx context.Context, storeID uuid.UUID) error
	ActionsVersion(ctx context.Context, storeID uuid.UUID) (int64, error)
	PublishEvent(ctx context.Context, evt Event) error
	Close() error
}

type cache struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	ttl     time.Duration
}

func NewCache(log *logger.Logger) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "agent:events"
	}
	ttl := envutil.Seconds("SETTINGS_CACHE_TTL_SECONDS", 60*time.Second)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &cache{
		log:     log.With("service", "RedisCache"),
		rdb:     rdb,
		channel: ch,
		ttl:     ttl,
	}, nil
}

func settingsKey(storeID uuid.UUID) string { return "agent:settings:" + storeID.String() }
func actionsVerKey(storeID uuid.UUID) string {
	return "agent:actions:ver:" + storeID.String()
}

func (c *cache) GetSettings(ctx context.Context, storeID uuid.UUID) (*types.AutomationSettings, bool) {
	if c == nil || c.rdb == nil || storeID == uuid.Nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, settingsKey(storeID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("settings cache read failed", "store_id", storeID.String(), "error", err.Error())
		}
		return nil, false
	}
	var settings types.AutomationSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		c.log.Warn("settings cache decode failed", "store_id", storeID.String(), "error", err.Error())
		return nil, false
	}
	return &settings, true
}

func (c *cache) SetSettings(ctx context.Context, settings *types.AutomationSettings) error {
	if c == nil || c.rdb == nil || settings == nil || settings.StoreID == uuid.Nil {
		return nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, settingsKey(settings.StoreID), raw, c.ttl).Err()
}

func (c *cache) InvalidateSettings(ctx context.Context, storeID uuid.UUID) error {
	if c == nil || c.rdb == nil || storeID == uuid.Nil {
		return nil
	}
	return c.rdb.Del(ctx, settingsKey(storeID)).Err()
}

// BumpActionsVersion is the bulk orchestrator's single invalidation: one
// INCR regardless of how many member operations ran.
func (c *cache) BumpActionsVersion(ctx context.Context, storeID uuid.UUID) error {
	if c == nil || c.rdb == nil || storeID == uuid.Nil {
		return nil
	}
	return c.rdb.Incr(ctx, actionsVerKey(storeID)).Err()
}

func (c *cache) ActionsVersion(ctx context.Context, storeID uuid.UUID) (int64, error) {
	if c == nil || c.rdb == nil || storeID == uuid.Nil {
		return 0, nil
	}
	v, err := c.rdb.Get(ctx, actionsVerKey(storeID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return v, err
}

func (c *cache) PublishEvent(ctx context.Context, evt Event) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, raw).Err()
}

func (c *cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
