package proposer

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

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/ctxutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/envutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/httpx"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/logger"
	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// Generator is the AI proposal collaborator. The engine hands it a matched
// entity and gets back a concrete payload plus an impact estimate; how the
// payload was produced is not this service's business.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Proposal, error)
}

type GenerateRequest struct {
	StoreID     uuid.UUID       `json:"store_id"`
	ActionType  string          `json:"action_type"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	RuleName    string          `json:"rule_name,omitempty"`
	EntityState json.RawMessage `json:"entity_state,omitempty"`
}

type Proposal struct {
	Payload         json.RawMessage      `json:"payload"`
	EstimatedImpact types.ImpactEstimate `json:"estimated_impact"`
	Reasoning       string               `json:"reasoning,omitempty"`
}

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("PROPOSER_TIMEOUT_SECONDS", 60)
	maxRetries := envutil.Int("PROPOSER_MAX_RETRIES", 2)

	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("PROPOSER_BASE_URL")),
		Token:      strings.TrimSpace(os.Getenv("PROPOSER_TOKEN")),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

func NewFromEnv(log *logger.Logger) (Generator, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Generator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing PROPOSER_BASE_URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &client{
		log:        log.With("client", "ProposerClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "proposer: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("proposer http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) Generate(ctx context.Context, req GenerateRequest) (*Proposal, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("proposer client unavailable")
	}
	if req.StoreID == uuid.Nil {
		return nil, fmt.Errorf("proposer: store required")
	}
	if strings.TrimSpace(req.ActionType) == "" || strings.TrimSpace(req.EntityID) == "" {
		return nil, fmt.Errorf("proposer: action type and entity required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proposer encode: %w", err)
	}
	endpoint := c.cfg.BaseURL + "/proposals"

	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := c.doOnce(ctx, endpoint, body)
		if err == nil {
			if len(out.Payload) == 0 {
				return nil, fmt.Errorf("proposer returned empty payload")
			}
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("proposer request retrying",
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, endpoint string, body []byte) (*Proposal, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out Proposal
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("proposer decode error: %w", err)
	}
	return &out, resp, nil
}
