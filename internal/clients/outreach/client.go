package outreach

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

// Dispatcher delivers campaign and cart-recovery messages. Delivery is
// fire-once: the engine records the returned message id and never re-sends
// on its own.
type Dispatcher interface {
	Send(ctx context.Context, req SendRequest) (*Delivery, error)
}

type SendRequest struct {
	StoreID        uuid.UUID `json:"store_id"`
	Channel        string    `json:"channel"` // email|sms
	RecipientEmail string    `json:"recipient_email,omitempty"`
	RecipientPhone string    `json:"recipient_phone,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	DiscountCode   string    `json:"discount_code,omitempty"`
}

type Delivery struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status,omitempty"`
}

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("OUTREACH_TIMEOUT_SECONDS", 20)
	maxRetries := envutil.Int("OUTREACH_MAX_RETRIES", 2)

	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("OUTREACH_BASE_URL")),
		Token:      strings.TrimSpace(os.Getenv("OUTREACH_TOKEN")),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

func NewFromEnv(log *logger.Logger) (Dispatcher, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Dispatcher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing OUTREACH_BASE_URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &client{
		log:        log.With("client", "OutreachClient"),
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
		return "outreach: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("outreach http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) Send(ctx context.Context, req SendRequest) (*Delivery, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("outreach client unavailable")
	}
	if req.StoreID == uuid.Nil {
		return nil, fmt.Errorf("outreach: store required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("outreach: body required")
	}
	switch req.Channel {
	case types.ChannelEmail:
		if strings.TrimSpace(req.RecipientEmail) == "" {
			return nil, fmt.Errorf("outreach: recipient email required")
		}
	case types.ChannelSMS:
		if strings.TrimSpace(req.RecipientPhone) == "" {
			return nil, fmt.Errorf("outreach: recipient phone required")
		}
	default:
		return nil, fmt.Errorf("outreach: unknown channel %q", req.Channel)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("outreach encode: %w", err)
	}
	endpoint := c.cfg.BaseURL + "/messages"

	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := c.doOnce(ctx, endpoint, body)
		if err == nil {
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("outreach request retrying",
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

func (c *client) doOnce(ctx context.Context, endpoint string, body []byte) (*Delivery, *http.Response, error) {
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

	var out Delivery
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("outreach decode error: %w", err)
	}
	return &out, resp, nil
}
