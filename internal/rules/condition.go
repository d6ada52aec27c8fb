package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Condition node types.
const (
	CondThreshold   = "threshold"
	CondTimeElapsed = "time_elapsed"
	CondAnd         = "and"
	CondOr          = "or"
	CondNot         = "not"
)

// Threshold operators.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
)

// maxConditionDepth bounds nesting so operator-authored rules cannot
// recurse unboundedly.
const maxConditionDepth = 8

// Condition is one node of a rule's match expression. Type selects the
// variant; the remaining fields belong to exactly one variant each.
type Condition struct {
	Type string `json:"type" yaml:"type"`

	// threshold: compare a numeric signal against Value.
	Field string  `json:"field,omitempty" yaml:"field,omitempty"`
	Op    string  `json:"op,omitempty" yaml:"op,omitempty"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`

	// time_elapsed: true once at least Seconds have passed since the
	// named timestamp signal.
	Since   string `json:"since,omitempty" yaml:"since,omitempty"`
	Seconds int64  `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// composites
	All  []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any  []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Cond *Condition  `json:"cond,omitempty" yaml:"cond,omitempty"`
}

// EntitySignals is the numeric and timestamp facts computed for one entity
// at evaluation time. Conditions only ever read signals; they never reach
// back to the platform.
type EntitySignals struct {
	Fields map[string]float64
	Times  map[string]time.Time
}

// ParseCondition decodes a stored rule condition.
func ParseCondition(raw datatypes.JSON) (Condition, error) {
	var c Condition
	if len(raw) == 0 {
		return c, fmt.Errorf("empty condition")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks the node tree for structural errors. It is called on
// rule create/update so a bad expression is rejected before it is stored,
// never discovered mid-evaluation.
func (c Condition) Validate() error {
	return c.validate(0)
}

func (c Condition) validate(depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("condition nesting exceeds %d levels", maxConditionDepth)
	}
	switch c.Type {
	case CondThreshold:
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("threshold condition missing field")
		}
		switch c.Op {
		case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		default:
			return fmt.Errorf("threshold condition has unknown op %q", c.Op)
		}
		return nil
	case CondTimeElapsed:
		if strings.TrimSpace(c.Since) == "" {
			return fmt.Errorf("time_elapsed condition missing since")
		}
		if c.Seconds <= 0 {
			return fmt.Errorf("time_elapsed condition needs positive seconds")
		}
		return nil
	case CondAnd:
		if len(c.All) == 0 {
			return fmt.Errorf("and condition needs at least one child")
		}
		for i, child := range c.All {
			if err := child.validate(depth + 1); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
		return nil
	case CondOr:
		if len(c.Any) == 0 {
			return fmt.Errorf("or condition needs at least one child")
		}
		for i, child := range c.Any {
			if err := child.validate(depth + 1); err != nil {
				return fmt.Errorf("or[%d]: %w", i, err)
			}
		}
		return nil
	case CondNot:
		if c.Cond == nil {
			return fmt.Errorf("not condition missing child")
		}
		if err := c.Cond.validate(depth + 1); err != nil {
			return fmt.Errorf("not: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// Eval evaluates the condition against sig at now.
//
// A threshold over a missing numeric signal is false: we will not act on a
// fact we could not compute. A time_elapsed over a missing timestamp is
// true: the event never happened, so any wait has passed.
func (c Condition) Eval(sig EntitySignals, now time.Time) bool {
	switch c.Type {
	case CondThreshold:
		v, ok := sig.Fields[c.Field]
		if !ok {
			return false
		}
		switch c.Op {
		case OpGT:
			return v > c.Value
		case OpGTE:
			return v >= c.Value
		case OpLT:
			return v < c.Value
		case OpLTE:
			return v <= c.Value
		case OpEQ:
			return v == c.Value
		}
		return false
	case CondTimeElapsed:
		ts, ok := sig.Times[c.Since]
		if !ok || ts.IsZero() {
			return true
		}
		return now.Sub(ts) >= time.Duration(c.Seconds)*time.Second
	case CondAnd:
		for _, child := range c.All {
			if !child.Eval(sig, now) {
				return false
			}
		}
		return len(c.All) > 0
	case CondOr:
		for _, child := range c.Any {
			if child.Eval(sig, now) {
				return true
			}
		}
		return false
	case CondNot:
		if c.Cond == nil {
			return false
		}
		return !c.Cond.Eval(sig, now)
	default:
		return false
	}
}

// JSON serializes the condition for storage.
func (c Condition) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode condition: %w", err)
	}
	return datatypes.JSON(raw), nil
}
