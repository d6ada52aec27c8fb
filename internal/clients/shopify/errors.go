package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/httpx"
)

// Platform error classes. The lifecycle manager switches on these instead
// of matching error strings.
const (
	ClassAlreadyApplied = "already_applied"
	ClassNotFound       = "not_found"
	ClassThrottled      = "throttled"
	ClassTransient      = "transient"
	ClassPermanent      = "permanent"
	ClassTimeout        = "timeout"
)

// PlatformError is any non-2xx outcome from the gateway, carried with its
// classification so callers decide retry-vs-fail without parsing messages.
type PlatformError struct {
	Class      string
	StatusCode int
	Code       string
	Message    string
}

func (e *PlatformError) Error() string {
	if e == nil {
		return "shopify: <nil error>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "<empty body>"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("shopify %s (http %d): %s", e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("shopify %s: %s", e.Class, msg)
}

func (e *PlatformError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Retryable reports whether another attempt can change the outcome.
func (e *PlatformError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Class {
	case ClassThrottled, ClassTransient:
		return true
	}
	return false
}

// Benign reports whether the desired end state was already reached, so the
// caller should treat the call as a success rather than a failure.
func (e *PlatformError) Benign() bool {
	return e != nil && e.Class == ClassAlreadyApplied
}

func AsPlatformError(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrClass extracts the classification from any error returned by this
// package. Context expiry maps to timeout; everything unclassified is
// permanent, so an unknown failure is never silently retried.
func ErrClass(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := AsPlatformError(err); ok {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	return ClassPermanent
}

// WrapContextErr converts context expiry into a timeout-classified platform
// error; other errors pass through unchanged.
func WrapContextErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &PlatformError{Class: ClassTimeout, Message: err.Error()}
	}
	return err
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classifyResponse(status int, raw []byte) *PlatformError {
	var ae apiError
	_ = json.Unmarshal(raw, &ae)
	msg := strings.TrimSpace(ae.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}

	pe := &PlatformError{StatusCode: status, Code: ae.Code, Message: msg}
	switch {
	case status == 409 && ae.Code == ClassAlreadyApplied:
		pe.Class = ClassAlreadyApplied
	case status == 404:
		pe.Class = ClassNotFound
	case status == 429:
		pe.Class = ClassThrottled
	case httpx.IsRetryableHTTPStatus(status):
		pe.Class = ClassTransient
	default:
		pe.Class = ClassPermanent
	}
	return pe
}
