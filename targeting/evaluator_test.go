package targeting_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alextanhongpin/flagcore/attr"
	"github.com/alextanhongpin/flagcore/sharding"
	"github.com/alextanhongpin/flagcore/targeting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func flagMap(t *testing.T, flags map[string]targeting.Flag) map[string]targeting.RawFlag {
	t.Helper()
	out := make(map[string]targeting.RawFlag, len(flags))
	for k, f := range flags {
		out[k] = targeting.ParseFlag(rawJSON(t, f))
	}
	return out
}

func TestDisabledFlag(t *testing.T) {
	// Concrete scenario 1.
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {Key: "f", Enabled: false, VariationType: targeting.VariationBoolean},
	})

	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, time.Now(), nil, targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNoAllocationMatch(t *testing.T) {
	// Concrete scenario 2.
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{
					Key:   "a1",
					Rules: []targeting.Rule{{Conditions: []targeting.Condition{{Attribute: "tier", Operator: targeting.OpOneOf, Operand: []string{"gold"}}}}},
					Splits: []targeting.Split{
						{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}},
					},
				},
			},
		},
	})

	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{"tier": attr.Categorical("silver")}, nil, time.Now(), nil, targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSplitExposure(t *testing.T) {
	// Concrete scenario 3: total_shards=10, range [0,4], salt "s".
	aliceShard := sharding.Shard([]string{"s", "-", "alice"}, 10)
	bobShard := sharding.Shard([]string{"s", "-", "bob"}, 10)
	t.Logf("alice shard=%d bob shard=%d", aliceShard, bobShard)

	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean, TotalShards: 10,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{
					Key: "a1",
					Splits: []targeting.Split{
						{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 4}}}}},
					},
				},
			},
		},
	})

	for _, subject := range []string{"alice", "bob"} {
		shard := sharding.Shard([]string{"s", "-", subject}, 10)
		a, err := targeting.Evaluate(flags, "f", subject, attr.Map{}, nil, time.Now(), nil, targeting.EventMetaData{})
		require.NoError(t, err)
		if shard <= 4 {
			require.NotNil(t, a, "subject %s shard %d expected to match", subject, shard)
			assert.True(t, a.Value.Boolean())
		} else {
			assert.Nil(t, a, "subject %s shard %d expected traffic exposure miss", subject, shard)
		}
	}
}

func TestTimeWindow(t *testing.T) {
	// Concrete scenario 4.
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{
					Key:     "a1",
					StartAt: &start,
					DoLog:   true,
					Splits: []targeting.Split{
						{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}},
					},
				},
			},
		},
	})

	before := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, before, nil, targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Nil(t, a)

	after := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	a, err = targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, after, nil, targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.Event)
	assert.Equal(t, "f-a1", a.Event.Experiment)
}

func TestAllocationOrderFirstWins(t *testing.T) {
	// Allocation order property: earlier allocation wins when both match.
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationString,
			Variations: map[string]json.RawMessage{
				"a": rawJSON(t, "A"),
				"b": rawJSON(t, "B"),
			},
			Allocations: []targeting.Allocation{
				{Key: "first", Splits: []targeting.Split{{VariationKey: "a", Shards: []targeting.Shard{{Salt: "s1", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
				{Key: "second", Splits: []targeting.Split{{VariationKey: "b", Shards: []targeting.Shard{{Salt: "s2", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
			},
		},
	})

	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, time.Now(), nil, targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "A", a.Value.String())
}

func TestTypeMismatch(t *testing.T) {
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {Key: "f", Enabled: true, VariationType: targeting.VariationBoolean},
	})

	expected := targeting.VariationString
	_, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, &expected, time.Now(), nil, targeting.EventMetaData{})
	require.Error(t, err)
}

func TestAugmentationScope(t *testing.T) {
	// §8 Augmentation scope property: rule sees synthetic id, but the
	// emitted event's subject_attributes does not contain it.
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{
					Key:   "a1",
					DoLog: true,
					Rules: []targeting.Rule{{Conditions: []targeting.Condition{{Attribute: "id", Operator: targeting.OpOneOf, Operand: []string{"alice"}}}}},
					Splits: []targeting.Split{
						{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}},
					},
				},
			},
		},
	})

	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, time.Now(), nil, targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.Event)
	_, hasID := a.Event.SubjectAttributes["id"]
	assert.False(t, hasID)
}

func TestMissingAttributeOperators(t *testing.T) {
	re := attr.Map{}
	cond := targeting.Condition{Attribute: "missing", Operator: targeting.OpMatches, Operand: ".*"}
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{Key: "a1", Rules: []targeting.Rule{{Conditions: []targeting.Condition{cond}}},
					Splits: []targeting.Split{{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
			},
		},
	})

	a, err := targeting.Evaluate(flags, "f", "alice", re, nil, time.Now(), nil, targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Nil(t, a, "MATCHES on a missing attribute must fail")
}

func TestEventMetaDataPropagation(t *testing.T) {
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{Key: "a1", DoLog: true, Splits: []targeting.Split{{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
			},
		},
	})

	meta := targeting.EventMetaData{SDKName: "flagcore-go", SDKVersion: "1.2.3", CoreVersion: "0.1.0"}
	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, time.Now(), nil, meta)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.Event)
	assert.Equal(t, meta, a.Event.MetaData)
}

// observerSpy records OnCondition calls so the test can assert it fires
// once per condition, with the resolved attribute value (§4.4).
type observerSpy struct {
	targeting.NoopObserver
	conditions []targeting.Condition
	values     []attr.Value
}

func (o *observerSpy) OnCondition(c targeting.Condition, v attr.Value, matched bool) {
	o.conditions = append(o.conditions, c)
	o.values = append(o.values, v)
}

func TestObserverOnConditionFiresPerCondition(t *testing.T) {
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{
					Key: "a1",
					Rules: []targeting.Rule{{Conditions: []targeting.Condition{
						{Attribute: "tier", Operator: targeting.OpOneOf, Operand: []string{"gold"}},
						{Attribute: "age", Operator: targeting.OpGTE, Operand: float64(18)},
					}}},
					Splits: []targeting.Split{{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}},
				},
			},
		},
	})

	spy := &observerSpy{}
	attrs := attr.Map{"tier": attr.Categorical("silver"), "age": attr.Numeric(21)}
	a, err := targeting.Evaluate(flags, "f", "alice", attrs, nil, time.Now(), spy, targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Nil(t, a, "rule fails because tier is not gold")
	require.Len(t, spy.conditions, 2, "OnCondition must fire once per condition, not short-circuit")
	assert.Equal(t, "silver", spy.values[0].String())
	assert.Equal(t, float64(21), spy.values[1].Numeric())
}

func TestDetailRecorderCopiedIntoEvent(t *testing.T) {
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{Key: "a1", DoLog: true, Splits: []targeting.Split{{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
			},
		},
	})

	now := time.Now()
	recorder := targeting.NewDetailRecorder("f", "alice", now)
	a, err := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, now, recorder, targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.Event)
	require.NotNil(t, a.Event.EvaluationDetails)
	assert.Equal(t, "a1", a.Event.EvaluationDetails.MatchedAllocation)
	assert.Equal(t, "on", a.Event.EvaluationDetails.MatchedVariation)

	// Details() reflects the same recording, independent of the event.
	details := recorder.Details()
	assert.Equal(t, "a1", details.MatchedAllocation)
}

func TestDeterminism(t *testing.T) {
	flags := flagMap(t, map[string]targeting.Flag{
		"f": {
			Key: "f", Enabled: true, VariationType: targeting.VariationBoolean,
			Variations: map[string]json.RawMessage{"on": rawJSON(t, true)},
			Allocations: []targeting.Allocation{
				{Key: "a1", Splits: []targeting.Split{{VariationKey: "on", Shards: []targeting.Shard{{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}}}}}},
			},
		},
	})

	now := time.Now()
	a1, err1 := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, now, nil, targeting.EventMetaData{})
	a2, err2 := targeting.Evaluate(flags, "f", "alice", attr.Map{}, nil, now.Add(time.Hour), nil, targeting.EventMetaData{})
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NotNil(t, a1)
	require.NotNil(t, a2)
	assert.Equal(t, a1.Value.Boolean(), a2.Value.Boolean())
}
