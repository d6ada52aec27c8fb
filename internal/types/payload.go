package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionPayload is the closed set of payload shapes, keyed by action type.
// The lifecycle manager decodes once and switches exhaustively instead of
// probing optional JSON fields.
type ActionPayload interface {
	PayloadType() string
	Validate() error
}

// ContentPayload rewrites a product's descriptive content.
type ContentPayload struct {
	Title    string   `json:"title,omitempty"`
	BodyHTML string   `json:"body_html,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (ContentPayload) PayloadType() string { return ActionTypeContentOptimize }

func (p ContentPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.BodyHTML) == "" && len(p.Tags) == 0 {
		return fmt.Errorf("content payload is empty")
	}
	return nil
}

// VariantPrice is one variant's new pricing.
type VariantPrice struct {
	VariantID      string  `json:"variant_id"`
	Price          float64 `json:"price"`
	CompareAtPrice float64 `json:"compare_at_price,omitempty"`
}

// PricePayload adjusts one or more variant prices on a product.
type PricePayload struct {
	Variants []VariantPrice `json:"variants"`
}

func (PricePayload) PayloadType() string { return ActionTypePriceAdjust }

func (p PricePayload) Validate() error {
	if len(p.Variants) == 0 {
		return fmt.Errorf("price payload has no variants")
	}
	for i, v := range p.Variants {
		if strings.TrimSpace(v.VariantID) == "" {
			return fmt.Errorf("price payload variant %d missing variant_id", i)
		}
		if v.Price <= 0 {
			return fmt.Errorf("price payload variant %d has non-positive price", i)
		}
	}
	return nil
}

// SEOPayload rewrites a product's search metadata.
type SEOPayload struct {
	MetaTitle       string `json:"meta_title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
}

func (SEOPayload) PayloadType() string { return ActionTypeSEOUpdate }

func (p SEOPayload) Validate() error {
	if strings.TrimSpace(p.MetaTitle) == "" && strings.TrimSpace(p.MetaDescription) == "" {
		return fmt.Errorf("seo payload is empty")
	}
	return nil
}

// CampaignPayload is an outbound marketing message to one recipient. The
// recipient address itself is resolved from the entity at send time so a
// stale proposal never mails an outdated address.
type CampaignPayload struct {
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
	DiscountCode string `json:"discount_code,omitempty"`
	Channel      string `json:"channel,omitempty"` // email|sms, defaults to email
}

func (CampaignPayload) PayloadType() string { return ActionTypeCampaignSend }

func (p CampaignPayload) Validate() error {
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("campaign payload missing body")
	}
	return validateChannel(p.Channel)
}

// RecoveryPayload is an abandoned-cart recovery message.
type RecoveryPayload struct {
	CartID       string `json:"cart_id,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
	DiscountCode string `json:"discount_code,omitempty"`
	Channel      string `json:"channel,omitempty"` // email|sms, defaults to email
}

func (RecoveryPayload) PayloadType() string { return ActionTypeCartRecovery }

func (p RecoveryPayload) Validate() error {
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("recovery payload missing body")
	}
	return validateChannel(p.Channel)
}

func validateChannel(channel string) error {
	switch channel {
	case "", ChannelEmail, ChannelSMS:
		return nil
	}
	return fmt.Errorf("unknown channel %q", channel)
}

// DecodePayload unmarshals raw into the variant for actionType. Unknown
// action types are an error, not a passthrough.
func DecodePayload(actionType string, raw []byte) (ActionPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload for action type %q", actionType)
	}
	switch actionType {
	case ActionTypeContentOptimize:
		var p ContentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode content payload: %w", err)
		}
		return p, nil
	case ActionTypePriceAdjust:
		var p PricePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode price payload: %w", err)
		}
		return p, nil
	case ActionTypeSEOUpdate:
		var p SEOPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode seo payload: %w", err)
		}
		return p, nil
	case ActionTypeCampaignSend:
		var p CampaignPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode campaign payload: %w", err)
		}
		return p, nil
	case ActionTypeCartRecovery:
		var p RecoveryPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode recovery payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
}
