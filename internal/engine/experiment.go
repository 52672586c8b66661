package engine

import (
	"strconv"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/rollout"
	"github.com/TimurManjosov/flagkit/internal/sticky"
)

// Run assigns the current user to a variation of exp. Users who are not
// bucketed get variation 0 with InExperiment=false.
func (e *Evaluator) Run(exp *Experiment) *ExperimentResult {
	return e.runExperiment(e.newState(), exp, "")
}

// runExperiment walks the assignment pipeline. Each early return leaves the
// user out of the experiment; only a fresh hash assignment reports HashUsed.
func (e *Evaluator) runExperiment(st *evalState, exp *Experiment, featureID string) *ExperimentResult {
	log := e.log.With().Str("experiment", exp.Key).Logger()
	notIn := func(reason string) *ExperimentResult {
		log.Debug().Str("reason", reason).Msg("not in experiment")
		return e.result(st, exp, -1, false, false, featureID, nil, false)
	}

	if len(exp.Variations) < 2 {
		return notIn("fewer than two variations")
	}
	if st.ctx.Disabled {
		return notIn("context disabled")
	}

	if forced, ok := st.ctx.ForcedVariations[exp.Key]; ok {
		log.Debug().Int("variation", forced).Msg("forced variation")
		return e.result(st, exp, forced, false, false, featureID, nil, false)
	}

	if !exp.IsActive() {
		return notIn("inactive")
	}

	fallback := st.fallbackFor(exp.FallbackAttribute, exp.DisableStickyBucketing)
	hashAttr, hashValue := st.hashAttribute(exp.HashAttribute, fallback)
	if hashValue == "" {
		return notIn("missing hash attribute")
	}

	stickyOn := st.stickyEnabled(exp.DisableStickyBucketing)
	assigned, blocked := -1, false
	if stickyOn {
		assigned, blocked = e.stickyVariation(st, exp)
	}
	foundSticky := assigned >= 0

	if !foundSticky {
		if len(exp.Filters) > 0 && e.isFilteredOut(st, exp.Filters) {
			return notIn("filtered out")
		}
		if exp.Namespace != nil && exp.Namespace.Valid() && !rollout.InNamespace(hashValue, *exp.Namespace) {
			return notIn("outside namespace")
		}

		if exp.Condition.Exists() && !condition.Eval(st.attrs, exp.Condition, st.ctx.SavedGroups) {
			return notIn("condition")
		}

		for _, parent := range exp.ParentConditions {
			parentRes := e.evalFeature(st, parent.ID)
			if parentRes.Source == SourceCyclicPrerequisite {
				return notIn("cyclic prerequisite")
			}
			if !condition.Eval(parentValue(parentRes.Value), parent.Condition, st.ctx.SavedGroups) {
				return notIn("prerequisite")
			}
		}
	}

	seed := exp.Seed
	if seed == "" {
		seed = exp.Key
	}
	hashVersion := exp.HashVersion
	if hashVersion == 0 {
		hashVersion = 1
	}
	n, ok := rollout.Hash(seed, hashValue, hashVersion)
	if !ok {
		return notIn("unsupported hash version")
	}

	if !foundSticky {
		ranges := exp.Ranges
		if len(ranges) == 0 {
			coverage := 1.0
			if exp.Coverage != nil {
				coverage = *exp.Coverage
			}
			ranges = rollout.BucketRanges(len(exp.Variations), coverage, exp.Weights)
		}
		assigned = rollout.ChooseVariation(n, ranges)
	}

	if blocked {
		log.Debug().Msg("sticky bucket version blocked")
		return e.result(st, exp, -1, false, false, featureID, nil, true)
	}
	if assigned < 0 {
		return notIn("outside coverage")
	}
	if exp.Force != nil {
		return e.result(st, exp, *exp.Force, false, false, featureID, nil, false)
	}
	if st.ctx.QAMode {
		return notIn("qa mode")
	}

	res := e.result(st, exp, assigned, true, !foundSticky, featureID, &n, foundSticky)

	if stickyOn {
		e.saveStickyAssignment(st, exp, hashAttr, hashValue, res.Key)
	}
	e.track(st, exp, res)
	return res
}

// result builds an ExperimentResult. An out-of-range variation falls back
// to index 0 and leaves the user out of the experiment.
func (e *Evaluator) result(st *evalState, exp *Experiment, variation int, inExperiment, hashUsed bool, featureID string, bucket *float64, stickyUsed bool) *ExperimentResult {
	if variation < 0 || variation >= len(exp.Variations) {
		variation = 0
		inExperiment = false
	}

	hashAttr, hashValue := st.hashAttribute(exp.HashAttribute, st.fallbackFor(exp.FallbackAttribute, exp.DisableStickyBucketing))
	res := &ExperimentResult{
		InExperiment:     inExperiment,
		VariationID:      variation,
		HashUsed:         hashUsed,
		HashAttribute:    hashAttr,
		HashValue:        hashValue,
		FeatureID:        featureID,
		Key:              variationKey(exp, variation),
		Bucket:           bucket,
		StickyBucketUsed: stickyUsed,
	}
	if variation < len(exp.Variations) {
		res.Value = exp.Variations[variation]
	}
	if variation < len(exp.Meta) {
		res.Name = exp.Meta[variation].Name
		res.Passthrough = exp.Meta[variation].Passthrough
	}
	return res
}

// variationKey is the meta key of a variation, or its index as a string.
func variationKey(exp *Experiment, variation int) string {
	if variation < len(exp.Meta) && exp.Meta[variation].Key != "" {
		return exp.Meta[variation].Key
	}
	return strconv.Itoa(variation)
}

func variationKeys(exp *Experiment) []string {
	keys := make([]string, len(exp.Variations))
	for i := range keys {
		keys[i] = variationKey(exp, i)
	}
	return keys
}

// stickyDocKeys returns the document keys holding assignments for exp.
func (st *evalState) stickyDocKeys(exp *Experiment) (hashKey, fallbackKey string) {
	attr, hv := st.hashAttribute(exp.HashAttribute, "")
	if hv != "" {
		hashKey = sticky.DocKey(attr, hv)
	}
	if exp.FallbackAttribute != "" {
		if fv := hashString(st.lookup(exp.FallbackAttribute)); fv != "" {
			fallbackKey = sticky.DocKey(exp.FallbackAttribute, fv)
		}
	}
	return hashKey, fallbackKey
}
