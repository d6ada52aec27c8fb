package types

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// ImpactEstimate is the proposal generator's forecast for a candidate action.
// RevenueDelta is in the store currency and drives risk classification;
// CreditCost feeds the autonomous credit budget; Confidence is carried for
// audit and does not shift the risk tier.
type ImpactEstimate struct {
	RevenueDelta float64 `json:"revenue_delta"`
	CreditCost   float64 `json:"credit_cost"`
	Confidence   float64 `json:"confidence"`
	Summary      string  `json:"summary,omitempty"`
}

// Risk tiers derived from the absolute estimated revenue delta.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	riskMediumFloor = 100
	riskHighFloor   = 500
)

// RiskLevel classifies an estimate by |revenue delta|: low below 100, medium
// below 500, high at or above 500 (store currency).
func (e ImpactEstimate) RiskLevel() string {
	delta := e.RevenueDelta
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta < riskMediumFloor:
		return RiskLow
	case delta < riskHighFloor:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func (e ImpactEstimate) JSON() datatypes.JSON {
	raw, err := json.Marshal(e)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

func ImpactFromJSON(raw datatypes.JSON) ImpactEstimate {
	var e ImpactEstimate
	if len(raw) == 0 {
		return e
	}
	_ = json.Unmarshal(raw, &e)
	return e
}
