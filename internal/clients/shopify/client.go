package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/ctxutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/httpx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
)

// Client talks to the commerce-platform gateway that fronts the merchant's
// Shopify store. Apply and Revert are the only calls that mutate the
// storefront; both are idempotent PUT/POST-with-token operations on the
// gateway side, so transient-level retries are safe here.
type Client interface {
	FetchEntity(ctx context.Context, storeID uuid.UUID, entityType, entityID string) (*EntityState, error)
	ListEntities(ctx context.Context, storeID uuid.UUID, entityType string, limit int) ([]EntityState, error)
	Apply(ctx context.Context, storeID uuid.UUID, entityType, entityID string, payload json.RawMessage) (*MutationResult, error)
	Revert(ctx context.Context, storeID uuid.UUID, entityType, entityID string, snapshot json.RawMessage) (*MutationResult, error)
}

// Signals are the per-entity facts the rule conditions read. The gateway
// computes them alongside the raw state so one list call feeds a whole
// evaluation pass.
type Signals struct {
	Fields map[string]float64   `json:"fields,omitempty"`
	Times  map[string]time.Time `json:"times,omitempty"`
}

type EntityState struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	State          json.RawMessage `json:"state"`
	Signals        Signals         `json:"signals"`
	RecipientEmail string          `json:"recipient_email,omitempty"`
	RecipientPhone string          `json:"recipient_phone,omitempty"`
}

type MutationResult struct {
	EntityID string          `json:"entity_id"`
	State    json.RawMessage `json:"state,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
	BurstLimit int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("SHOPIFY_GATEWAY_TIMEOUT_SECONDS", 20)
	maxRetries := envutil.Int("SHOPIFY_GATEWAY_MAX_RETRIES", 3)
	burst := envutil.Int("SHOPIFY_GATEWAY_BURST", 4)

	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("SHOPIFY_GATEWAY_BASE_URL")),
		Token:      strings.TrimSpace(os.Getenv("SHOPIFY_GATEWAY_TOKEN")),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
		RatePerSec: 2, // Shopify admin bucket refill rate
		BurstLimit: burst,
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing SHOPIFY_GATEWAY_BASE_URL")
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, fmt.Errorf("missing SHOPIFY_GATEWAY_TOKEN")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 4
	}

	return &client{
		log:        log.With("client", "ShopifyClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.BurstLimit),
		maxRetries: cfg.MaxRetries,
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func (c *client) FetchEntity(ctx context.Context, storeID uuid.UUID, entityType, entityID string) (*EntityState, error) {
	if err := validateEntityRef(storeID, entityType, entityID); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/stores/%s/%ss/%s", c.cfg.BaseURL, storeID, entityType, entityID)
	return do[EntityState](c, ctx, http.MethodGet, endpoint, nil)
}

func (c *client) ListEntities(ctx context.Context, storeID uuid.UUID, entityType string, limit int) ([]EntityState, error) {
	if storeID == uuid.Nil || strings.TrimSpace(entityType) == "" {
		return nil, fmt.Errorf("shopify: store and entity type required")
	}
	if limit <= 0 || limit > 250 {
		limit = 100
	}
	endpoint := fmt.Sprintf("%s/stores/%s/%ss?limit=%d", c.cfg.BaseURL, storeID, entityType, limit)
	page, err := do[entityPage](c, ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return page.Entities, nil
}

func (c *client) Apply(ctx context.Context, storeID uuid.UUID, entityType, entityID string, payload json.RawMessage) (*MutationResult, error) {
	if err := validateEntityRef(storeID, entityType, entityID); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("shopify: empty payload")
	}
	endpoint := fmt.Sprintf("%s/stores/%s/%ss/%s", c.cfg.BaseURL, storeID, entityType, entityID)
	return do[MutationResult](c, ctx, http.MethodPut, endpoint, payload)
}

func (c *client) Revert(ctx context.Context, storeID uuid.UUID, entityType, entityID string, snapshot json.RawMessage) (*MutationResult, error) {
	if err := validateEntityRef(storeID, entityType, entityID); err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("shopify: empty snapshot")
	}
	endpoint := fmt.Sprintf("%s/stores/%s/%ss/%s/restore", c.cfg.BaseURL, storeID, entityType, entityID)
	return do[MutationResult](c, ctx, http.MethodPost, endpoint, snapshot)
}

type entityPage struct {
	Entities []EntityState `json:"entities"`
}

func validateEntityRef(storeID uuid.UUID, entityType, entityID string) error {
	if storeID == uuid.Nil {
		return fmt.Errorf("shopify: store required")
	}
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(entityID) == "" {
		return fmt.Errorf("shopify: entity reference required")
	}
	return nil
}

// ---------- HTTP / retry helpers ----------

func do[T any](c *client, ctx context.Context, method, urlStr string, body json.RawMessage) (*T, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("shopify client unavailable")
	}
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, WrapContextErr(ctx.Err())
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, WrapContextErr(err)
		}

		out, resp, err := doOnce[T](c, ctx, method, urlStr, body)
		if err == nil {
			return out, nil
		}

		if !retryable(err) || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Shopify gateway request retrying",
			"url", urlStr,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, fmt.Errorf("unreachable retry loop")
}

func doOnce[T any](c *client, ctx context.Context, method, urlStr string, body json.RawMessage) (*T, *http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, urlStr, reader)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resp, WrapContextErr(ctx.Err())
		}
		return nil, resp, &PlatformError{Class: ClassTransient, Message: err.Error()}
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, &PlatformError{Class: ClassTransient, Message: readErr.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, classifyResponse(resp.StatusCode, raw)
	}

	var out T
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("shopify decode error: %w; raw=%s", err, truncate(string(raw), 2000))
	}
	return &out, resp, nil
}

func retryable(err error) bool {
	pe, ok := AsPlatformError(err)
	if !ok {
		return false
	}
	return pe.Retryable()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
