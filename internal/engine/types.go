package engine

import (
	"github.com/TimurManjosov/flagkit/internal/rollout"
	"github.com/TimurManjosov/flagkit/internal/value"
)

// FeatureSource explains where a feature's value came from.
type FeatureSource string

const (
	SourceUnknownFeature     FeatureSource = "unknownFeature"
	SourceDefaultValue       FeatureSource = "defaultValue"
	SourceForce              FeatureSource = "force"
	SourceExperiment         FeatureSource = "experiment"
	SourceOverride           FeatureSource = "override"
	SourcePrerequisite       FeatureSource = "prerequisite"
	SourceCyclicPrerequisite FeatureSource = "cyclicPrerequisite"
)

// Attributes are the user's targeting attributes keyed by name.
type Attributes map[string]value.Value

// Features maps feature keys to definitions.
type Features map[string]*Feature

// Feature is a flag definition: a default value and ordered rules.
type Feature struct {
	DefaultValue value.Value `json:"defaultValue,omitzero"`
	Rules        []Rule      `json:"rules,omitempty"`
}

// Rule is either a force rule (Force set) or an experiment rule
// (Variations set). Rules without either are ignored.
type Rule struct {
	ID                     string                `json:"id,omitempty"`
	Condition              value.Value           `json:"condition,omitzero"`
	ParentConditions       []ParentCondition     `json:"parentConditions,omitempty"`
	Force                  value.Value           `json:"force,omitzero"`
	Variations             []value.Value         `json:"variations,omitempty"`
	Weights                []float64             `json:"weights,omitempty"`
	Coverage               *float64              `json:"coverage,omitempty"`
	Key                    string                `json:"key,omitempty"`
	HashAttribute          string                `json:"hashAttribute,omitempty"`
	FallbackAttribute      string                `json:"fallbackAttribute,omitempty"`
	HashVersion            int                   `json:"hashVersion,omitempty"`
	Seed                   string                `json:"seed,omitempty"`
	Range                  *rollout.BucketRange  `json:"range,omitempty"`
	Ranges                 []rollout.BucketRange `json:"ranges,omitempty"`
	Namespace              *rollout.Namespace    `json:"namespace,omitempty"`
	Filters                []rollout.Filter      `json:"filters,omitempty"`
	Meta                   []VariationMeta       `json:"meta,omitempty"`
	Name                   string                `json:"name,omitempty"`
	Phase                  string                `json:"phase,omitempty"`
	DisableStickyBucketing bool                  `json:"disableStickyBucketing,omitempty"`
	BucketVersion          int                   `json:"bucketVersion,omitempty"`
	MinBucketVersion       int                   `json:"minBucketVersion,omitempty"`
	Tracks                 []TrackData           `json:"tracks,omitempty"`
}

// ParentCondition makes a rule depend on another feature's value. The
// parent's value is exposed to Condition under the attribute "value".
// A failing gate blocks the whole feature instead of skipping the rule.
type ParentCondition struct {
	ID        string      `json:"id"`
	Condition value.Value `json:"condition"`
	Gate      bool        `json:"gate,omitempty"`
}

// VariationMeta carries per-variation metadata.
type VariationMeta struct {
	Key         string `json:"key,omitempty"`
	Name        string `json:"name,omitempty"`
	Passthrough bool   `json:"passthrough,omitempty"`
}

// TrackData is an exposure reported when a force rule fires.
type TrackData struct {
	Experiment *Experiment       `json:"experiment"`
	Result     *ExperimentResult `json:"result"`
}

// Experiment is a standalone experiment or one built from a feature rule.
type Experiment struct {
	Key                    string                `json:"key"`
	Variations             []value.Value         `json:"variations"`
	Weights                []float64             `json:"weights,omitempty"`
	Active                 *bool                 `json:"active,omitempty"`
	Coverage               *float64              `json:"coverage,omitempty"`
	Ranges                 []rollout.BucketRange `json:"ranges,omitempty"`
	Condition              value.Value           `json:"condition,omitzero"`
	ParentConditions       []ParentCondition     `json:"parentConditions,omitempty"`
	Namespace              *rollout.Namespace    `json:"namespace,omitempty"`
	Force                  *int                  `json:"force,omitempty"`
	HashAttribute          string                `json:"hashAttribute,omitempty"`
	FallbackAttribute      string                `json:"fallbackAttribute,omitempty"`
	HashVersion            int                   `json:"hashVersion,omitempty"`
	Seed                   string                `json:"seed,omitempty"`
	Filters                []rollout.Filter      `json:"filters,omitempty"`
	Meta                   []VariationMeta       `json:"meta,omitempty"`
	Name                   string                `json:"name,omitempty"`
	Phase                  string                `json:"phase,omitempty"`
	DisableStickyBucketing bool                  `json:"disableStickyBucketing,omitempty"`
	BucketVersion          int                   `json:"bucketVersion,omitempty"`
	MinBucketVersion       int                   `json:"minBucketVersion,omitempty"`
}

// IsActive reports whether the experiment is running. Unset means active.
func (e *Experiment) IsActive() bool {
	return e.Active == nil || *e.Active
}

// ExperimentResult is the outcome of running an experiment for one user.
type ExperimentResult struct {
	InExperiment     bool        `json:"inExperiment"`
	VariationID      int         `json:"variationId"`
	Value            value.Value `json:"value"`
	HashUsed         bool        `json:"hashUsed"`
	HashAttribute    string      `json:"hashAttribute"`
	HashValue        string      `json:"hashValue"`
	FeatureID        string      `json:"featureId,omitempty"`
	Key              string      `json:"key"`
	Name             string      `json:"name,omitempty"`
	Bucket           *float64    `json:"bucket,omitempty"`
	Passthrough      bool        `json:"passthrough,omitempty"`
	StickyBucketUsed bool        `json:"stickyBucketUsed"`
}

// FeatureResult is the deterministic output of EvalFeature.
type FeatureResult struct {
	Value            value.Value       `json:"value"`
	On               bool              `json:"on"`
	Off              bool              `json:"off"`
	Source           FeatureSource     `json:"source"`
	RuleID           string            `json:"ruleId,omitempty"`
	Experiment       *Experiment       `json:"experiment,omitempty"`
	ExperimentResult *ExperimentResult `json:"experimentResult,omitempty"`
}

// TrackingCallback receives each new exposure. It is called at most once
// per (hash attribute, hash value, experiment key, variation) per
// evaluator, as far as the tracking cache remembers.
type TrackingCallback func(exp *Experiment, result *ExperimentResult)

// FeatureUsageCallback is called after every top-level feature evaluation.
type FeatureUsageCallback func(key string, result *FeatureResult)

// Observer receives evaluation events for metrics. All methods must be
// safe for concurrent use.
type Observer interface {
	FeatureEvaluated(key string, source FeatureSource)
	ExperimentExposed(experimentKey string, variationID int)
	StickyBucketSaved(err error)
}
