package bandit_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alextanhongpin/flagcore/attr"
	"github.com/alextanhongpin/flagcore/bandit"
	"github.com/alextanhongpin/flagcore/targeting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFlag(t *testing.T, f targeting.Flag) map[string]targeting.RawFlag {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	return map[string]targeting.RawFlag{f.Key: targeting.ParseFlag(b)}
}

func rawStr(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func banditFlag(t *testing.T) map[string]targeting.RawFlag {
	return mustFlag(t, targeting.Flag{
		Key:           "checkout-bandit",
		Enabled:       true,
		VariationType: targeting.VariationString,
		Variations: map[string]json.RawMessage{
			"bandit-variation": rawStr(t, "bandit-variation"),
		},
		Allocations: []targeting.Allocation{
			{
				Key: "a1",
				Splits: []targeting.Split{
					{VariationKey: "bandit-variation", Shards: []targeting.Shard{
						{Salt: "s", Ranges: []targeting.ShardRange{{Start: 0, End: 9999}}},
					}},
				},
			},
		},
	})
}

func TestEvaluate_NonBanditVariation(t *testing.T) {
	flags := mustFlag(t, targeting.Flag{Key: "f", Enabled: false, VariationType: targeting.VariationString})

	result, err := bandit.Evaluate(flags, nil, nil, "f", "alice", attr.ContextAttributes{}, nil, "control", time.Now(), targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Equal(t, "control", result.Variation)
	assert.Nil(t, result.Action)
}

func TestEvaluate_NoAssociation(t *testing.T) {
	flags := banditFlag(t)

	result, err := bandit.Evaluate(flags, nil, bandit.Associations{}, "checkout-bandit", "alice", attr.ContextAttributes{}, nil, "control", time.Now(), targeting.EventMetaData{})
	require.NoError(t, err)
	assert.Equal(t, "bandit-variation", result.Variation)
	assert.Nil(t, result.Action)
}

func TestEvaluate_MissingModel(t *testing.T) {
	flags := banditFlag(t)
	assoc := bandit.Associations{"checkout-bandit": {"bandit-variation": "model-1"}}

	result, err := bandit.Evaluate(flags, nil, assoc, "checkout-bandit", "alice", attr.ContextAttributes{}, nil, "control", time.Now(), targeting.EventMetaData{})
	require.Error(t, err)
	assert.Equal(t, "bandit-variation", result.Variation)
	assert.Nil(t, result.Action)
}

func TestEvaluate_NoActionsSupplied(t *testing.T) {
	flags := banditFlag(t)
	assoc := bandit.Associations{"checkout-bandit": {"bandit-variation": "model-1"}}
	models := map[string]bandit.Model{"model-1": {ModelVersion: "v1", Gamma: 1, ActionProbabilityFloor: 0.1}}

	result, err := bandit.Evaluate(flags, models, assoc, "checkout-bandit", "alice", attr.ContextAttributes{}, map[string]attr.ContextAttributes{}, "control", time.Now(), targeting.EventMetaData{})
	require.Error(t, err)
	assert.Equal(t, "bandit-variation", result.Variation)
	assert.Nil(t, result.Action)
}

func TestEvaluate_SelectsBestAction(t *testing.T) {
	flags := banditFlag(t)
	assoc := bandit.Associations{"checkout-bandit": {"bandit-variation": "model-1"}}
	models := map[string]bandit.Model{
		"model-1": {
			ModelVersion:           "v1",
			Gamma:                  1,
			DefaultActionScore:     0,
			ActionProbabilityFloor: 0.0,
			Coefficients: map[string]bandit.ActionCoefficients{
				"red": {ActionKey: "red", Intercept: 10},
				"blue": {ActionKey: "blue", Intercept: -10},
			},
		},
	}
	actions := map[string]attr.ContextAttributes{
		"red":  {},
		"blue": {},
	}

	result, err := bandit.Evaluate(flags, models, assoc, "checkout-bandit", "alice", attr.ContextAttributes{}, actions, "control", time.Now(), targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, result.Action)
	require.NotNil(t, result.BanditEvent)
	assert.Equal(t, "model-1", result.BanditEvent.BanditKey)
	// red's intercept dominates; with zero floor and high gamma gap, red should
	// carry effectively all probability mass, so it wins regardless of hash.
	assert.Equal(t, "red", *result.Action)
}

func TestEvaluate_Deterministic(t *testing.T) {
	flags := banditFlag(t)
	assoc := bandit.Associations{"checkout-bandit": {"bandit-variation": "model-1"}}
	models := map[string]bandit.Model{
		"model-1": {ModelVersion: "v1", Gamma: 1, ActionProbabilityFloor: 0.1},
	}
	actions := map[string]attr.ContextAttributes{
		"red":  {},
		"blue": {},
		"green": {},
	}

	now := time.Now()
	r1, err1 := bandit.Evaluate(flags, models, assoc, "checkout-bandit", "alice", attr.ContextAttributes{}, actions, "control", now, targeting.EventMetaData{})
	r2, err2 := bandit.Evaluate(flags, models, assoc, "checkout-bandit", "alice", attr.ContextAttributes{}, actions, "control", now.Add(time.Hour), targeting.EventMetaData{})
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NotNil(t, r1.Action)
	require.NotNil(t, r2.Action)
	assert.Equal(t, *r1.Action, *r2.Action)
}

func TestWeightsConserveProbabilityMass(t *testing.T) {
	models := map[string]bandit.Model{
		"model-1": {
			Gamma:                  2,
			ActionProbabilityFloor: 0.1,
			Coefficients: map[string]bandit.ActionCoefficients{
				"a": {Intercept: 5},
				"b": {Intercept: 3},
				"c": {Intercept: 1},
			},
		},
	}
	actions := map[string]attr.ContextAttributes{"a": {}, "b": {}, "c": {}}
	flags := banditFlag(t)
	assoc := bandit.Associations{"checkout-bandit": {"bandit-variation": "model-1"}}

	result, err := bandit.Evaluate(flags, models, assoc, "checkout-bandit", "subject-xyz", attr.ContextAttributes{}, actions, "control", time.Now(), targeting.EventMetaData{})
	require.NoError(t, err)
	require.NotNil(t, result.Action)
	assert.GreaterOrEqual(t, result.BanditEvent.ActionProbability, 0.0)
	assert.LessOrEqual(t, result.BanditEvent.ActionProbability, 1.0)
}
