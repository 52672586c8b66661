package engine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/sticky"
	"github.com/TimurManjosov/flagkit/internal/value"
)

// Evaluator evaluates features and experiments for one user context. It is
// safe for concurrent use. Setters replace maps rather than mutating them,
// so an evaluation in flight keeps a consistent view.
type Evaluator struct {
	mu  sync.RWMutex
	ctx Context // guarded by mu

	log      zerolog.Logger
	observer Observer
	tracked  *lru.Cache[string, struct{}]
}

// NewEvaluator creates an evaluator for ctx.
func NewEvaluator(ctx Context, opts Options) *Evaluator {
	size := opts.TrackingCacheSize
	if size <= 0 {
		size = DefaultTrackingCacheSize
	}
	// lru.New only fails for a non-positive size.
	tracked, _ := lru.New[string, struct{}](size)

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "engine").Logger()
	}
	return &Evaluator{
		ctx:      ctx,
		log:      log,
		observer: opts.Observer,
		tracked:  tracked,
	}
}

// WithAttributes returns an evaluator for another user. It shares features,
// callbacks, the sticky bucket service and the tracking cache with e, and
// starts with no sticky bucket documents loaded.
func (e *Evaluator) WithAttributes(attrs Attributes) *Evaluator {
	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()

	ctx.Attributes = attrs
	ctx.AttributeOverrides = nil
	ctx.StickyBucketAssignmentDocs = nil
	return &Evaluator{
		ctx:      ctx,
		log:      e.log,
		observer: e.observer,
		tracked:  e.tracked,
	}
}

// Context returns a shallow copy of the current context.
func (e *Evaluator) Context() Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx
}

func (e *Evaluator) SetAttributes(attrs Attributes) {
	attrs = attrs.clone()
	e.mu.Lock()
	e.ctx.Attributes = attrs
	e.mu.Unlock()
}

func (e *Evaluator) SetAttributeOverrides(overrides Attributes) {
	overrides = overrides.clone()
	e.mu.Lock()
	e.ctx.AttributeOverrides = overrides
	e.mu.Unlock()
}

// SetFeatures swaps the feature set. Callers must not mutate features afterwards.
func (e *Evaluator) SetFeatures(features Features, groups condition.SavedGroups) {
	e.mu.Lock()
	e.ctx.Features = features
	e.ctx.SavedGroups = groups
	e.mu.Unlock()
}

func (e *Evaluator) SetForcedVariations(forced map[string]int) {
	copied := make(map[string]int, len(forced))
	for k, v := range forced {
		copied[k] = v
	}
	e.mu.Lock()
	e.ctx.ForcedVariations = copied
	e.mu.Unlock()
}

// SetForcedVariation forces one experiment to a variation index.
func (e *Evaluator) SetForcedVariation(experimentKey string, variation int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied := make(map[string]int, len(e.ctx.ForcedVariations)+1)
	for k, v := range e.ctx.ForcedVariations {
		copied[k] = v
	}
	copied[experimentKey] = variation
	e.ctx.ForcedVariations = copied
}

func (e *Evaluator) SetForcedFeatures(forced map[string]value.Value) {
	copied := make(map[string]value.Value, len(forced))
	for k, v := range forced {
		copied[k] = v
	}
	e.mu.Lock()
	e.ctx.ForcedFeatures = copied
	e.mu.Unlock()
}

// StickyBucketDocs returns the sticky bucket documents currently cached.
func (e *Evaluator) StickyBucketDocs() sticky.Docs {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(sticky.Docs, len(e.ctx.StickyBucketAssignmentDocs))
	for k, v := range e.ctx.StickyBucketAssignmentDocs {
		out[k] = v
	}
	return out
}

// evalState is the view of one top-level evaluation. stack holds the
// feature keys currently being evaluated, for cycle detection.
type evalState struct {
	ctx   Context
	attrs value.Value
	stack map[string]struct{}
}

func (e *Evaluator) newState() *evalState {
	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()
	return &evalState{
		ctx:   ctx,
		attrs: mergedAttributes(ctx.Attributes, ctx.AttributeOverrides),
		stack: make(map[string]struct{}),
	}
}

// EvalFeature evaluates a feature for the current user. It never fails:
// unknown keys, malformed rules and cycles are reported through Source.
func (e *Evaluator) EvalFeature(key string) *FeatureResult {
	st := e.newState()
	res := e.evalFeature(st, key)

	if e.observer != nil {
		e.observer.FeatureEvaluated(key, res.Source)
	}
	if cb := st.ctx.FeatureUsageCallback; cb != nil {
		e.safeCall("feature usage callback", func() { cb(key, res) })
	}
	return res
}

// IsOn reports whether the feature's value is truthy.
func (e *Evaluator) IsOn(key string) bool {
	return e.EvalFeature(key).On
}

// IsOff reports whether the feature's value is falsy or absent.
func (e *Evaluator) IsOff(key string) bool {
	return e.EvalFeature(key).Off
}

// FeatureValue returns the feature's value, or fallback when it is absent.
func (e *Evaluator) FeatureValue(key string, fallback value.Value) value.Value {
	v := e.EvalFeature(key).Value
	if v.IsUnknown() {
		return fallback
	}
	return v
}

func (e *Evaluator) evalFeature(st *evalState, key string) *FeatureResult {
	if _, inProgress := st.stack[key]; inProgress {
		e.log.Warn().Str("feature", key).Msg("cyclic prerequisite")
		return newFeatureResult(value.Unknown(), SourceCyclicPrerequisite, "", nil, nil)
	}
	if forced, ok := st.ctx.ForcedFeatures[key]; ok {
		return newFeatureResult(forced, SourceOverride, "", nil, nil)
	}
	feature := st.ctx.Features[key]
	if feature == nil {
		e.log.Debug().Str("feature", key).Msg("unknown feature")
		return newFeatureResult(value.Unknown(), SourceUnknownFeature, "", nil, nil)
	}

	st.stack[key] = struct{}{}
	defer delete(st.stack, key)

rules:
	for i := range feature.Rules {
		rule := &feature.Rules[i]

		if rule.Condition.Exists() && !condition.Eval(st.attrs, rule.Condition, st.ctx.SavedGroups) {
			e.log.Debug().Str("feature", key).Str("rule", rule.ID).Msg("skip rule: condition")
			continue
		}

		for _, parent := range rule.ParentConditions {
			parentRes := e.evalFeature(st, parent.ID)
			if parentRes.Source == SourceCyclicPrerequisite {
				return newFeatureResult(value.Unknown(), SourceCyclicPrerequisite, rule.ID, nil, nil)
			}
			if !condition.Eval(parentValue(parentRes.Value), parent.Condition, st.ctx.SavedGroups) {
				if parent.Gate {
					e.log.Debug().Str("feature", key).Str("parent", parent.ID).Msg("blocked by prerequisite")
					return newFeatureResult(value.Unknown(), SourcePrerequisite, rule.ID, nil, nil)
				}
				continue rules
			}
		}

		if !rule.Force.IsUnknown() {
			if len(rule.Filters) > 0 && e.isFilteredOut(st, rule.Filters) {
				continue
			}
			seed := rule.Seed
			if seed == "" {
				seed = key
			}
			_, hashValue := st.hashAttribute(rule.HashAttribute, st.fallbackFor(rule.FallbackAttribute, rule.DisableStickyBucketing))
			if !includedInRollout(seed, hashValue, rule) {
				e.log.Debug().Str("feature", key).Str("rule", rule.ID).Msg("skip rule: rollout")
				continue
			}
			for _, t := range rule.Tracks {
				e.track(st, t.Experiment, t.Result)
			}
			return newFeatureResult(rule.Force, SourceForce, rule.ID, nil, nil)
		}

		if rule.Variations == nil {
			continue
		}

		exp := experimentFromRule(key, rule)
		res := e.runExperiment(st, exp, key)
		if res.InExperiment && !res.Passthrough {
			return newFeatureResult(res.Value, SourceExperiment, rule.ID, exp, res)
		}
	}

	return newFeatureResult(feature.DefaultValue, SourceDefaultValue, "", nil, nil)
}

// parentValue exposes a prerequisite's value as the attribute "value".
func parentValue(v value.Value) value.Value {
	return value.NewObjectBuilder(1).Set("value", v).Build()
}

func newFeatureResult(v value.Value, source FeatureSource, ruleID string, exp *Experiment, res *ExperimentResult) *FeatureResult {
	on := v.Truthy()
	return &FeatureResult{
		Value:            v,
		On:               on,
		Off:              !on,
		Source:           source,
		RuleID:           ruleID,
		Experiment:       exp,
		ExperimentResult: res,
	}
}

// experimentFromRule copies the bucketing fields of an experiment rule.
// Parent conditions are already checked by the rule loop.
func experimentFromRule(featureKey string, rule *Rule) *Experiment {
	key := rule.Key
	if key == "" {
		key = featureKey
	}
	return &Experiment{
		Key:                    key,
		Variations:             rule.Variations,
		Weights:                rule.Weights,
		Coverage:               rule.Coverage,
		Ranges:                 rule.Ranges,
		Condition:              rule.Condition,
		Namespace:              rule.Namespace,
		HashAttribute:          rule.HashAttribute,
		FallbackAttribute:      rule.FallbackAttribute,
		HashVersion:            rule.HashVersion,
		Seed:                   rule.Seed,
		Filters:                rule.Filters,
		Meta:                   rule.Meta,
		Name:                   rule.Name,
		Phase:                  rule.Phase,
		DisableStickyBucketing: rule.DisableStickyBucketing,
		BucketVersion:          rule.BucketVersion,
		MinBucketVersion:       rule.MinBucketVersion,
	}
}

// safeCall runs a host callback, logging instead of propagating panics.
func (e *Evaluator) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Interface("panic", r).Msgf("%s panicked", name)
		}
	}()
	fn()
}
