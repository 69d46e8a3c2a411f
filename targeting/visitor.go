package targeting

import (
	"time"

	"github.com/alextanhongpin/flagcore/attr"
)

// AllocationOutcome is the per-allocation result code captured by the
// detail recorder (§4.4, §9 supplemented feature).
type AllocationOutcome string

const (
	OutcomeUnevaluated         AllocationOutcome = "UNEVALUATED"
	OutcomeMatch               AllocationOutcome = "MATCH"
	OutcomeBeforeStartTime     AllocationOutcome = "BEFORE_START_TIME"
	OutcomeAfterEndTime        AllocationOutcome = "AFTER_END_TIME"
	OutcomeFailingRule         AllocationOutcome = "FAILING_RULE"
	OutcomeTrafficExposureMiss AllocationOutcome = "TRAFFIC_EXPOSURE_MISS"
)

// AllocationDetail is one allocation's evaluation trace.
type AllocationDetail struct {
	Key     string
	Outcome AllocationOutcome
}

// EvaluationDetails covers the per-allocation outcome codes for a single
// flag evaluation, usable independently of whether the evaluation
// produced an assignment (§4.4, §9).
type EvaluationDetails struct {
	FlagKey           string
	SubjectKey        string
	Timestamp         time.Time
	Allocations       []AllocationDetail
	MatchedAllocation string
	MatchedVariation  string
}

// Observer exposes hooks invoked at each stage of evaluation. Hooks must
// not mutate evaluation outcome — they record only (§4.4). The zero value
// NoopObserver is used by default and is fully inlinable since every
// method is empty.
type Observer interface {
	OnFlag(flag Flag)
	OnAllocation(key string, outcome AllocationOutcome)
	OnRule(rule Rule, matched bool)
	OnCondition(c Condition, value attr.Value, matched bool)
	OnSplit(split Split, matched bool)
	OnShard(shard Shard, hash uint64, matched bool)
	OnVariation(key string)
	OnResult(assignment *Assignment, err error)
}

// NoopObserver implements Observer with empty hooks.
type NoopObserver struct{}

func (NoopObserver) OnFlag(Flag)                                  {}
func (NoopObserver) OnAllocation(string, AllocationOutcome)       {}
func (NoopObserver) OnRule(Rule, bool)                            {}
func (NoopObserver) OnCondition(Condition, attr.Value, bool)      {}
func (NoopObserver) OnSplit(Split, bool)                          {}
func (NoopObserver) OnShard(Shard, uint64, bool)                  {}
func (NoopObserver) OnVariation(string)                           {}
func (NoopObserver) OnResult(*Assignment, error)                  {}

// DetailRecorder is the detail-recording observer: it builds an
// EvaluationDetails covering every allocation visited during the walk.
type DetailRecorder struct {
	NoopObserver

	details EvaluationDetails
}

// NewDetailRecorder starts a recorder for the given flag/subject pair.
func NewDetailRecorder(flagKey, subjectKey string, now time.Time) *DetailRecorder {
	return &DetailRecorder{
		details: EvaluationDetails{
			FlagKey:    flagKey,
			SubjectKey: subjectKey,
			Timestamp:  now,
		},
	}
}

func (d *DetailRecorder) OnAllocation(key string, outcome AllocationOutcome) {
	d.details.Allocations = append(d.details.Allocations, AllocationDetail{Key: key, Outcome: outcome})
	if outcome == OutcomeMatch {
		d.details.MatchedAllocation = key
	}
}

func (d *DetailRecorder) OnVariation(key string) {
	d.details.MatchedVariation = key
}

// Details returns the accumulated evaluation details.
func (d *DetailRecorder) Details() EvaluationDetails {
	return d.details
}
