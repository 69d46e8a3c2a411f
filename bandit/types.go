// Package bandit implements contextual multi-armed bandit action scoring
// layered on top of a string flag assignment (§4.5): given the variation a
// subject was assigned by the targeting engine, and a bandit model bound to
// that variation, it scores the caller-supplied actions and deterministically
// selects one.
package bandit

// NumericCoefficient weighs a numeric subject or action attribute.
type NumericCoefficient struct {
	AttributeKey            string  `json:"attributeKey"`
	Coefficient              float64 `json:"coefficient"`
	MissingValueCoefficient float64 `json:"missingValueCoefficient"`
}

// CategoricalCoefficient weighs a categorical subject or action attribute;
// only the values present in ValueCoefficients have an explicit weight, any
// other observed value (or a missing attribute) falls back to
// MissingValueCoefficient.
type CategoricalCoefficient struct {
	AttributeKey            string             `json:"attributeKey"`
	ValueCoefficients       map[string]float64 `json:"valueCoefficients"`
	MissingValueCoefficient float64            `json:"missingValueCoefficient"`
}

// ActionCoefficients is one action's linear scoring model: an intercept
// plus per-attribute coefficients split by numeric/categorical and by
// subject-side/action-side attribute.
type ActionCoefficients struct {
	ActionKey                      string                   `json:"actionKey"`
	Intercept                      float64                  `json:"intercept"`
	SubjectNumericCoefficients     []NumericCoefficient     `json:"subjectNumericCoefficients"`
	SubjectCategoricalCoefficients []CategoricalCoefficient `json:"subjectCategoricalCoefficients"`
	ActionNumericCoefficients      []NumericCoefficient     `json:"actionNumericCoefficients"`
	ActionCategoricalCoefficients  []CategoricalCoefficient `json:"actionCategoricalCoefficients"`
}

// Model is one bandit's scoring configuration (§3). Gamma controls how
// aggressively non-best actions lose probability mass as their score falls
// behind the best score; ActionProbabilityFloor guarantees every action
// retains at least floor/n_actions probability so exploration never fully
// stops.
type Model struct {
	BanditKey              string                        `json:"banditKey"`
	ModelName              string                        `json:"modelName"`
	ModelVersion           string                        `json:"modelVersion"`
	Gamma                  float64                       `json:"gamma"`
	DefaultActionScore     float64                       `json:"defaultActionScore"`
	ActionProbabilityFloor float64                       `json:"actionProbabilityFloor"`
	Coefficients           map[string]ActionCoefficients `json:"coefficients"`
}
