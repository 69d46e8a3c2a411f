package bandit

import (
	"fmt"
	"sort"
	"time"

	"github.com/alextanhongpin/flagcore/attr"
	"github.com/alextanhongpin/flagcore/ferrors"
	"github.com/alextanhongpin/flagcore/sharding"
	"github.com/alextanhongpin/flagcore/targeting"
)

const totalShards = 10000

// Associations maps a flag key to its variation-key -> bandit-key table
// (§3: flag_to_bandit_associations). A flag/variation pair absent from the
// table is not a bandit variation.
type Associations map[string]map[string]string

// Lookup returns the bandit key bound to flagKey's variation, if any.
func (a Associations) Lookup(flagKey, variation string) (string, bool) {
	byVariation, ok := a[flagKey]
	if !ok {
		return "", false
	}
	key, ok := byVariation[variation]
	return key, ok
}

// Result is the outcome of evaluating a bandit-backed flag: the plain flag
// variation, the selected action (nil when the variation wasn't a bandit or
// evaluation couldn't proceed), and the events to forward to the ingestion
// pipeline.
type Result struct {
	Variation       string
	Action          *string
	AssignmentEvent *targeting.AssignmentEvent
	BanditEvent     *BanditEvent
}

// BanditEvent is the analytics event recorded for a bandit action selection
// (§3).
type BanditEvent struct {
	FlagKey                      string                     `json:"flagKey"`
	BanditKey                    string                     `json:"banditKey"`
	Subject                      string                     `json:"subject"`
	Action                       string                     `json:"action"`
	ActionProbability            float64                    `json:"actionProbability"`
	OptimalityGap                float64                    `json:"optimalityGap"`
	ModelVersion                 string                     `json:"modelVersion"`
	Timestamp                    time.Time                  `json:"timestamp"`
	SubjectNumericAttributes     map[string]float64         `json:"subjectNumericAttributes"`
	SubjectCategoricalAttributes map[string]string          `json:"subjectCategoricalAttributes"`
	ActionNumericAttributes      map[string]float64         `json:"actionNumericAttributes"`
	ActionCategoricalAttributes  map[string]string          `json:"actionCategoricalAttributes"`
	MetaData                     targeting.EventMetaData    `json:"metaData"`
}

// Evaluate resolves flagKey's string variation for subjectKey and, if that
// variation is bound to a bandit, scores actions and deterministically
// selects one (§4.5). The returned Result always carries a usable
// Variation/Action pair: a non-nil error reports why bandit-specific
// processing stopped short (the flag's own variation is still honored),
// it is not a hard failure the caller must abort on. meta identifies the
// evaluating SDK and is copied onto both the assignment and bandit events
// (§3).
func Evaluate(
	flags map[string]targeting.RawFlag,
	models map[string]Model,
	associations Associations,
	flagKey, subjectKey string,
	subjectAttributes attr.ContextAttributes,
	actions map[string]attr.ContextAttributes,
	defaultVariation string,
	now time.Time,
	meta targeting.EventMetaData,
) (Result, error) {
	stringType := targeting.VariationString
	assignment, err := targeting.Evaluate(flags, flagKey, subjectKey, subjectAttributes.ToMap(), &stringType, now, nil, meta)
	if err != nil {
		return Result{Variation: defaultVariation}, err
	}

	variation := defaultVariation
	var assignmentEvent *targeting.AssignmentEvent
	if assignment != nil {
		variation = assignment.Value.String()
		assignmentEvent = assignment.Event
	}

	banditKey, ok := associations.Lookup(flagKey, variation)
	if !ok {
		return Result{Variation: variation, AssignmentEvent: assignmentEvent}, nil
	}

	model, ok := models[banditKey]
	if !ok {
		return Result{Variation: variation, AssignmentEvent: assignmentEvent},
			fmt.Errorf("%w: bandit %q referenced by flag %q has no model loaded",
				ferrors.Get("flagcore.unexpected_configuration_error"), banditKey, flagKey)
	}

	if len(actions) == 0 {
		return Result{Variation: variation, AssignmentEvent: assignmentEvent},
			ferrors.Get("flagcore.no_actions_supplied_for_bandit")
	}

	selection, err := model.score(flagKey, subjectKey, subjectAttributes, actions)
	if err != nil {
		return Result{Variation: variation, AssignmentEvent: assignmentEvent}, err
	}

	actionAttrs := actions[selection.actionKey]
	event := &BanditEvent{
		FlagKey:                      flagKey,
		BanditKey:                    banditKey,
		Subject:                      subjectKey,
		Action:                       selection.actionKey,
		ActionProbability:            selection.weight,
		OptimalityGap:                selection.optimalityGap,
		ModelVersion:                 model.ModelVersion,
		Timestamp:                    now,
		SubjectNumericAttributes:     subjectAttributes.Numeric,
		SubjectCategoricalAttributes: subjectAttributes.Categorical,
		ActionNumericAttributes:      actionAttrs.Numeric,
		ActionCategoricalAttributes:  actionAttrs.Categorical,
		MetaData:                     meta,
	}

	action := selection.actionKey
	return Result{
		Variation:       variation,
		Action:          &action,
		AssignmentEvent: assignmentEvent,
		BanditEvent:     event,
	}, nil
}

type selection struct {
	actionKey      string
	weight         float64
	optimalityGap  float64
}

// score scores every action, weighs them relative to the best-scoring
// action, and deterministically picks one via a pseudo-random shard-derived
// selection hash (§4.5 steps 2-5).
func (m Model) score(flagKey, subjectKey string, subjectAttributes attr.ContextAttributes, actions map[string]attr.ContextAttributes) (selection, error) {
	scores := make(map[string]float64, len(actions))
	for key, attrs := range actions {
		scores[key] = m.scoreAction(key, attrs, subjectAttributes)
	}

	bestKey, bestScore := argmaxLexicographic(scores)
	weights := m.weighActions(scores, bestKey, bestScore)

	shuffled := make([]string, 0, len(actions))
	for key := range actions {
		shuffled = append(shuffled, key)
	}
	type ordered struct {
		key  string
		hash uint64
	}
	withHash := make([]ordered, len(shuffled))
	for i, key := range shuffled {
		withHash[i] = ordered{key: key, hash: sharding.Shard([]string{flagKey, "-", subjectKey, "-", key}, totalShards)}
	}
	sort.Slice(withHash, func(i, j int) bool {
		if withHash[i].hash != withHash[j].hash {
			return withHash[i].hash < withHash[j].hash
		}
		return withHash[i].key < withHash[j].key
	})

	selectionHash := float64(sharding.Shard([]string{flagKey, "-", subjectKey}, totalShards)) / float64(totalShards)

	cumulative := 0.0
	chosen := withHash[len(withHash)-1].key
	for _, item := range withHash {
		cumulative += weights[item.key]
		if cumulative > selectionHash {
			chosen = item.key
			break
		}
	}

	return selection{
		actionKey:     chosen,
		weight:        weights[chosen],
		optimalityGap: bestScore - scores[chosen],
	}, nil
}

func (m Model) scoreAction(actionKey string, actionAttrs, subjectAttrs attr.ContextAttributes) float64 {
	coef, ok := m.Coefficients[actionKey]
	if !ok {
		return m.DefaultActionScore
	}

	return coef.Intercept +
		scoreAttributes(actionAttrs, coef.ActionNumericCoefficients, coef.ActionCategoricalCoefficients) +
		scoreAttributes(subjectAttrs, coef.SubjectNumericCoefficients, coef.SubjectCategoricalCoefficients)
}

func scoreAttributes(attrs attr.ContextAttributes, numeric []NumericCoefficient, categorical []CategoricalCoefficient) float64 {
	total := 0.0
	for _, c := range numeric {
		value, ok := attrs.Numeric[c.AttributeKey]
		if !ok || isInfOrNaN(value) {
			total += c.MissingValueCoefficient
			continue
		}
		total += value * c.Coefficient
	}
	for _, c := range categorical {
		value, ok := attrs.Categorical[c.AttributeKey]
		if !ok {
			total += c.MissingValueCoefficient
			continue
		}
		weight, ok := c.ValueCoefficients[value]
		if !ok {
			total += c.MissingValueCoefficient
			continue
		}
		total += weight
	}
	return total
}

func isInfOrNaN(f float64) bool {
	return f != f || f > 1.7976931348623157e+308 || f < -1.7976931348623157e+308
}

// argmaxLexicographic finds the highest-scoring action, breaking ties by
// lexicographically smaller key (§4.5 step 2, matching the original's
// f64::total_cmp-then-key-compare ordering).
func argmaxLexicographic(scores map[string]float64) (string, float64) {
	var bestKey string
	var bestScore float64
	first := true
	for key, score := range scores {
		if first || score > bestScore || (score == bestScore && key < bestKey) {
			bestKey, bestScore = key, score
			first = false
		}
	}
	return bestKey, bestScore
}

// weighActions distributes probability mass: every non-best action gets at
// least ActionProbabilityFloor/n_actions, scaled down further the more it
// trails the best score by Gamma; the best action absorbs the remainder so
// weights always sum to 1 (§4.5 step 3).
func (m Model) weighActions(scores map[string]float64, bestKey string, bestScore float64) map[string]float64 {
	weights := make(map[string]float64, len(scores))
	nActions := float64(len(scores))
	remainder := 1.0

	for key, score := range scores {
		if key == bestKey {
			continue
		}
		floor := m.ActionProbabilityFloor / nActions
		weight := floor
		if denom := nActions + m.Gamma*(bestScore-score); 1.0/denom > floor {
			weight = 1.0 / denom
		}
		weights[key] = weight
		remainder -= weight
	}

	if remainder < 0 {
		remainder = 0
	}
	weights[bestKey] = remainder
	return weights
}
