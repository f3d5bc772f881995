package harvest

import (
	"encoding/json"
	"time"
)

// Identity is one credentialed session slot. A worker owns exactly one
// Identity for its lifetime.
type Identity struct {
	Name     string `json:"name" mapstructure:"name"`
	Username string `json:"-" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
}

// RecordID uniquely names a source record.
type RecordID string

// Record is one extracted source record. Fields are opaque to the core and
// produced by the session collaborator.
type Record struct {
	ID          RecordID
	ExtractedAt time.Time
	OptionCount int
	Fields      map[string]any
}

// Valid reports whether the record is structurally usable: it must carry an
// identifier and at least one answer option.
func (r Record) Valid() bool {
	return r.ID != "" && r.OptionCount > 0
}

// MarshalJSON flattens Fields next to the identifier and completion time.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = string(r.ID)
	if !r.ExtractedAt.IsZero() {
		out["extracted_at"] = r.ExtractedAt.Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// ConditionClass is the coarse category of a blocking condition.
type ConditionClass string

// Supported condition classes.
const (
	ConditionNone         ConditionClass = "none"
	ConditionHardBlock    ConditionClass = "hard_block"
	ConditionLayoutChange ConditionClass = "layout_change"
	ConditionLoadingError ConditionClass = "loading_error"
)

// BlockKind refines a hard block.
type BlockKind string

// Hard block kinds.
const (
	KindCaptcha   BlockKind = "captcha"
	KindRateLimit BlockKind = "rate_limit"
)

// BlockCondition is the result of a single classification of the live
// session. It is never persisted.
type BlockCondition struct {
	Class  ConditionClass
	Kind   BlockKind
	Detail string
}

// NoBlock is the zero-risk classification.
var NoBlock = BlockCondition{Class: ConditionNone}

// HardBlock builds a hard block of the given kind.
func HardBlock(kind BlockKind, detail string) BlockCondition {
	return BlockCondition{Class: ConditionHardBlock, Kind: kind, Detail: detail}
}

// Blocked reports whether progress must stop until an operator intervenes.
func (c BlockCondition) Blocked() bool {
	return c.Class != "" && c.Class != ConditionNone
}

// Key returns a flat label used for operator instructions and metrics.
func (c BlockCondition) Key() string {
	switch c.Class {
	case ConditionHardBlock:
		if c.Kind == "" {
			return string(ConditionHardBlock)
		}
		return string(c.Kind)
	case "":
		return string(ConditionNone)
	default:
		return string(c.Class)
	}
}

// String implements fmt.Stringer.
func (c BlockCondition) String() string {
	if c.Detail == "" {
		return c.Key()
	}
	return c.Key() + ": " + c.Detail
}

// SkipProfile names a humanized timing profile used when passing over an
// already-seen record.
type SkipProfile string

// Supported skip profiles.
const (
	SkipQuick        SkipProfile = "quick"
	SkipScanThenSkip SkipProfile = "scan_then_skip"
	SkipHesitate     SkipProfile = "hesitate"
)

// Delta is a set of counter increments reported by one worker.
type Delta struct {
	New            int
	Skipped        int
	Delivered      int
	DeliveryFailed int
}

// IsZero reports whether the delta carries no increments.
func (d Delta) IsZero() bool {
	return d == Delta{}
}
