// Package targeting implements the rule/allocation/split/shard evaluation
// engine (§4.2–§4.4): it turns a (flag_key, subject_key, attributes) tuple
// into a typed variation, with optional detailed tracing.
package targeting

import (
	"encoding/json"
	"time"
)

// VariationType is the typed kind a flag's variations share.
type VariationType string

const (
	VariationString  VariationType = "STRING"
	VariationInteger VariationType = "INTEGER"
	VariationNumeric VariationType = "NUMERIC"
	VariationBoolean VariationType = "BOOLEAN"
	VariationJSON    VariationType = "JSON"
)

// Operator is a Condition's comparison operator (§3).
type Operator string

const (
	OpMatches    Operator = "MATCHES"
	OpNotMatches Operator = "NOT_MATCHES"
	OpGTE        Operator = "GTE"
	OpGT         Operator = "GT"
	OpLTE        Operator = "LTE"
	OpLT         Operator = "LT"
	OpOneOf      Operator = "ONE_OF"
	OpNotOneOf   Operator = "NOT_ONE_OF"
	OpIsNull     Operator = "IS_NULL"
)

// Condition reads attributes[Attribute] and applies Operator against
// Operand (§4.2).
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Operand   any      `json:"value"`
}

// Rule is a conjunction of Conditions: it matches iff every condition
// matches (§3).
type Rule struct {
	Conditions []Condition `json:"conditions"`
}

// ShardRange is an inclusive bound within [0, TotalShards).
type ShardRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Shard matches iff get_md5_shard([salt, "-", subject_key], total_shards)
// falls in any of Ranges (§3).
type Shard struct {
	Salt   string       `json:"salt"`
	Ranges []ShardRange `json:"shards"`
}

// Split is a variation arm matched by all of its Shards (§3).
type Split struct {
	VariationKey string            `json:"variationKey"`
	Shards       []Shard           `json:"shards"`
	ExtraLogging map[string]string `json:"extraLogging,omitempty"`
}

// Allocation is an ordered, time- and rule-gated bucket within a flag
// (§3). Allocations within a Flag are evaluated in declaration order;
// earlier allocations win.
type Allocation struct {
	Key     string     `json:"key"`
	Rules   []Rule     `json:"rules,omitempty"`
	Splits  []Split    `json:"splits"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`
	DoLog   bool       `json:"doLog"`
}

// Flag is a named, typed set of variations gated by an ordered sequence
// of allocations (§3).
type Flag struct {
	Key           string                     `json:"key"`
	Enabled       bool                       `json:"enabled"`
	VariationType VariationType              `json:"variationType"`
	Variations    map[string]json.RawMessage `json:"variations"`
	Allocations   []Allocation               `json:"allocations"`
	TotalShards   uint64                     `json:"totalShards"`
}

func (f Flag) totalShardsOrDefault() uint64 {
	if f.TotalShards == 0 {
		return 10000
	}
	return f.TotalShards
}

// RawFlag holds either a successfully decoded Flag or the error
// encountered decoding it. The fetcher decodes each flag in a
// configuration independently so that one malformed flag does not make
// the rest of the snapshot unusable (mirrors the original core's
// TryParse<Flag>).
type RawFlag struct {
	Flag Flag
	Err  error
}

// ParseFlag decodes a single flag's JSON payload, capturing a decode
// failure on the RawFlag rather than propagating it — the failure only
// becomes visible if and when that specific flag is evaluated.
func ParseFlag(raw json.RawMessage) RawFlag {
	var f Flag
	if err := json.Unmarshal(raw, &f); err != nil {
		return RawFlag{Err: err}
	}
	return RawFlag{Flag: f}
}

// Metadata carries the snapshot-level fields that accompany a configuration
// fetch (§3: environment_name, created_at, format_version).
type Metadata struct {
	EnvironmentName string    `json:"environmentName"`
	CreatedAt       time.Time `json:"createdAt"`
	FormatVersion   string    `json:"format"`
}

// AssignmentValue is the typed variant matching a flag's VariationType
// (§3).
type AssignmentValue struct {
	Type VariationType
	raw  json.RawMessage

	str  string
	i    int64
	num  float64
	b    bool
}

func (v AssignmentValue) String() string         { return v.str }
func (v AssignmentValue) Integer() int64         { return v.i }
func (v AssignmentValue) Numeric() float64       { return v.num }
func (v AssignmentValue) Boolean() bool          { return v.b }
func (v AssignmentValue) Raw() json.RawMessage   { return v.raw }

// coerceVariation decodes a flag's raw variation payload into an
// AssignmentValue of the expected type.
func coerceVariation(vt VariationType, raw json.RawMessage) (AssignmentValue, error) {
	v := AssignmentValue{Type: vt, raw: raw}
	switch vt {
	case VariationString:
		return v, json.Unmarshal(raw, &v.str)
	case VariationInteger:
		return v, unmarshalInto(raw, &v)
	case VariationNumeric:
		return v, json.Unmarshal(raw, &v.num)
	case VariationBoolean:
		return v, json.Unmarshal(raw, &v.b)
	case VariationJSON:
		return v, nil
	default:
		return v, nil
	}
}

func unmarshalInto(raw json.RawMessage, v *AssignmentValue) error {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	v.i = int64(f)
	return nil
}

// Assignment is the outcome of a successful evaluation (§3).
type Assignment struct {
	Value AssignmentValue
	Event *AssignmentEvent
}

// AssignmentEvent is the analytics event recorded for a logged allocation
// match (§3).
type AssignmentEvent struct {
	FeatureFlag       string            `json:"featureFlag"`
	Allocation        string            `json:"allocation"`
	Experiment        string            `json:"experiment"`
	Variation         string            `json:"variation"`
	Subject           string            `json:"subject"`
	SubjectAttributes map[string]any    `json:"subjectAttributes"`
	Timestamp         time.Time         `json:"timestamp"`
	MetaData          EventMetaData     `json:"metaData"`
	ExtraLogging      map[string]string `json:"extraLogging,omitempty"`
	EvaluationDetails *EvaluationDetails `json:"evaluationDetails,omitempty"`
}

// EventMetaData identifies the SDK that produced an event (§3).
type EventMetaData struct {
	SDKName     string `json:"sdkName"`
	SDKVersion  string `json:"sdkVersion"`
	CoreVersion string `json:"coreVersion"`
}

