package active

// State is a belief snapshot attached to one planning node.
//
// A State is computed once when the node is created and is immutable
// afterward. The expected free energy is the unweighted sum of the epistemic
// term (Uncertainty) and the pragmatic term (GoalDivergence); the unweighted
// form keeps path EFE a simple monotone sum and avoids a free
// hyperparameter.
type State struct {
	// Beliefs is the validated probability distribution over hypotheses.
	Beliefs Distribution `json:"beliefs"`

	// Uncertainty is the normalized entropy of Beliefs (0-1).
	Uncertainty float64 `json:"uncertainty"`

	// GoalDivergence is the normalized cosine distance from the goal
	// vector (0-1).
	GoalDivergence float64 `json:"goal_divergence"`

	// PredictionError tracks the pragmatic mismatch with the goal (>= 0).
	PredictionError float64 `json:"prediction_error"`

	// FreeEnergy is the expected free energy: Uncertainty + GoalDivergence.
	FreeEnergy float64 `json:"free_energy"`

	// Surprise is the normalized entropy of the belief distribution (>= 0).
	Surprise float64 `json:"surprise"`

	// Precision is an inverse-variance-like confidence weight (> 0).
	Precision float64 `json:"precision"`

	// ReasoningLevel is the meta-reasoning depth (0 = object level).
	ReasoningLevel int `json:"reasoning_level"`
}

// NewState scores a belief distribution against a goal vector.
// The distribution must already be validated; see NewDistribution.
func NewState(beliefs Distribution, goal map[string]float64, reasoningLevel int) State {
	uncertainty := beliefs.Uncertainty()
	divergence := beliefs.Divergence(goal)

	precision := 1.0
	if uncertainty > 0 {
		precision = 1.0 / uncertainty
	}

	return State{
		Beliefs:         beliefs,
		Uncertainty:     uncertainty,
		GoalDivergence:  divergence,
		PredictionError: divergence,
		FreeEnergy:      uncertainty + divergence,
		Surprise:        uncertainty,
		Precision:       precision,
		ReasoningLevel:  reasoningLevel,
	}
}

// EFE returns the expected free energy. Lower is better.
func (s State) EFE() float64 {
	return s.FreeEnergy
}

// Score returns the search objective for this state: the negated EFE, so
// that maximizing score minimizes free energy.
func (s State) Score() float64 {
	return -s.FreeEnergy
}
