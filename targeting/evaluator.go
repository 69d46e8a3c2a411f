package targeting

import (
	"fmt"
	"time"

	"github.com/alextanhongpin/flagcore/attr"
	"github.com/alextanhongpin/flagcore/ferrors"
	"github.com/alextanhongpin/flagcore/sharding"
)

// Evaluate walks allocations -> rules -> splits -> shards for flagKey and
// returns the matched Assignment, or (nil, nil) for every "silent"
// non-match kind in §4.3's outcome table, or (nil, err) for the
// user-visible error kinds.
//
// flags is nil when no configuration snapshot has been fetched yet
// (ConfigurationMissing); callers typically pass configstore's current
// snapshot's Flags map directly. meta identifies the evaluating SDK and
// is copied verbatim onto any emitted AssignmentEvent (§3); the zero
// value is fine when the caller doesn't track SDK identity.
func Evaluate(
	flags map[string]RawFlag,
	flagKey, subjectKey string,
	subjectAttributes attr.Map,
	expectedType *VariationType,
	now time.Time,
	observer Observer,
	meta EventMetaData,
) (*Assignment, error) {
	if observer == nil {
		observer = NoopObserver{}
	}

	assignment, err := evaluate(flags, flagKey, subjectKey, subjectAttributes, expectedType, now, observer, meta)
	observer.OnResult(assignment, err)
	return assignment, err
}

func evaluate(
	flags map[string]RawFlag,
	flagKey, subjectKey string,
	subjectAttributes attr.Map,
	expectedType *VariationType,
	now time.Time,
	observer Observer,
	metadata EventMetaData,
) (*Assignment, error) {
	if flags == nil {
		// ConfigurationMissing: silent.
		return nil, nil
	}

	raw, ok := flags[flagKey]
	if !ok {
		// FlagUnrecognizedOrDisabled: silent.
		return nil, nil
	}
	if raw.Err != nil {
		return nil, ferrors.Get("flagcore.configuration_parse_error")
	}

	flag := raw.Flag
	observer.OnFlag(flag)

	if !flag.Enabled {
		// FlagUnrecognizedOrDisabled: silent.
		return nil, nil
	}

	if expectedType != nil && *expectedType != flag.VariationType {
		return nil, fmt.Errorf("%w: expected %s, found %s",
			ferrors.Get("flagcore.type_mismatch"), *expectedType, flag.VariationType)
	}

	// Step 1: augment attributes with the synthetic id, used by rule
	// evaluation only — never leaks into the emitted event (§8
	// Augmentation scope property).
	augmented := subjectAttributes.Clone()
	if _, present := augmented["id"]; !present {
		augmented["id"] = attr.Categorical(subjectKey)
	}

	re := newRegexCache()
	totalShards := flag.totalShardsOrDefault()

	for _, alloc := range flag.Allocations {
		split, outcome := matchAllocation(alloc, subjectKey, augmented, now, re, totalShards, observer)
		observer.OnAllocation(alloc.Key, outcome)
		if outcome != OutcomeMatch {
			continue
		}

		raw, ok := flag.Variations[split.VariationKey]
		if !ok {
			return nil, fmt.Errorf("%w: variation %q referenced by split not found in flag %q",
				ferrors.Get("flagcore.unexpected_configuration_error"), split.VariationKey, flagKey)
		}

		value, err := coerceVariation(flag.VariationType, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.configuration_parse_error"), err)
		}

		observer.OnVariation(split.VariationKey)

		assignment := &Assignment{Value: value}
		if alloc.DoLog {
			event := &AssignmentEvent{
				FeatureFlag:       flagKey,
				Allocation:        alloc.Key,
				Experiment:        fmt.Sprintf("%s-%s", flagKey, alloc.Key),
				Variation:         split.VariationKey,
				Subject:           subjectKey,
				SubjectAttributes: toAnyMap(subjectAttributes),
				Timestamp:         now,
				MetaData:          metadata,
				ExtraLogging:      split.ExtraLogging,
			}
			// When the caller passed a *DetailRecorder as observer (the
			// documented way to obtain EvaluationDetails, §4.4, §11), copy
			// what it recorded for this evaluation into the emitted event
			// so a downstream consumer doesn't need a second evaluation
			// pass to see why the assignment happened.
			if rec, ok := observer.(*DetailRecorder); ok {
				details := rec.Details()
				event.EvaluationDetails = &details
			}
			assignment.Event = event
		}
		return assignment, nil
	}

	// DefaultAllocationNull: silent.
	return nil, nil
}

// matchAllocation determines the first-match outcome for a single
// allocation (§4.3 step 2) and, on a match, returns the winning split.
func matchAllocation(
	alloc Allocation,
	subjectKey string,
	attrs attr.Map,
	now time.Time,
	re *regexCache,
	totalShards uint64,
	observer Observer,
) (Split, AllocationOutcome) {
	if alloc.StartAt != nil && now.Before(*alloc.StartAt) {
		return Split{}, OutcomeBeforeStartTime
	}
	if alloc.EndAt != nil && now.After(*alloc.EndAt) {
		return Split{}, OutcomeAfterEndTime
	}

	allowed := len(alloc.Rules) == 0
	for _, rule := range alloc.Rules {
		matched := ruleMatches(rule, attrs, re, observer)
		observer.OnRule(rule, matched)
		if matched {
			allowed = true
		}
	}
	if !allowed {
		return Split{}, OutcomeFailingRule
	}

	for _, split := range alloc.Splits {
		if splitMatches(split, subjectKey, totalShards, observer) {
			return split, OutcomeMatch
		}
	}
	return Split{}, OutcomeTrafficExposureMiss
}

func splitMatches(split Split, subjectKey string, totalShards uint64, observer Observer) bool {
	for _, shard := range split.Shards {
		hash := sharding.Shard([]string{shard.Salt, "-", subjectKey}, totalShards)
		matched := sharding.AnyContains(toShardRanges(shard.Ranges), hash)
		observer.OnShard(shard, hash, matched)
		if !matched {
			observer.OnSplit(split, false)
			return false
		}
	}
	observer.OnSplit(split, true)
	return true
}

func toShardRanges(ranges []ShardRange) []sharding.Range {
	out := make([]sharding.Range, len(ranges))
	for i, r := range ranges {
		out[i] = sharding.Range{Start: r.Start, End: r.End}
	}
	return out
}

func toAnyMap(m attr.Map) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.Kind() {
		case attr.KindNumeric:
			out[k] = v.Numeric()
		case attr.KindBoolean:
			out[k] = v.Boolean()
		case attr.KindNull:
			out[k] = nil
		default:
			out[k] = v.Categorical()
		}
	}
	return out
}
