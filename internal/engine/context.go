package engine

import (
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/sticky"
	"github.com/TimurManjosov/flagkit/internal/value"
)

// DefaultTrackingCacheSize bounds the exposure dedup cache.
const DefaultTrackingCacheSize = 10000

// Context is the per-user evaluation state. The zero value is a usable,
// enabled context with no features.
type Context struct {
	Disabled           bool                   // everything evaluates to defaults, no experiments run
	QAMode             bool                   // experiments never assign a variation from the hash
	Attributes         Attributes             // targeting attributes
	AttributeOverrides Attributes             // take precedence over Attributes
	Features           Features               // feature definitions
	SavedGroups        condition.SavedGroups  // groups for $inGroup / $notInGroup
	ForcedVariations   map[string]int         // experiment key -> variation index
	ForcedFeatures     map[string]value.Value // feature key -> value

	StickyBucketService        sticky.Service // nil disables sticky bucketing
	StickyBucketAssignmentDocs sticky.Docs    // in-memory cache loaded by RefreshStickyBuckets

	TrackingCallback     TrackingCallback
	FeatureUsageCallback FeatureUsageCallback
}

// Options configure an Evaluator beyond the per-user Context.
type Options struct {
	// Logger receives debug traces of evaluation decisions and warnings for
	// failed sticky saves or panicking callbacks. Nil means no logging.
	Logger *zerolog.Logger

	// TrackingCacheSize bounds exposure dedup. Defaults to DefaultTrackingCacheSize.
	TrackingCacheSize int

	// Observer receives metrics events. Optional.
	Observer Observer
}

func (a Attributes) clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// merged returns attributes with overrides applied, as an object value for
// condition evaluation.
func mergedAttributes(attrs, overrides Attributes) value.Value {
	m := make(map[string]value.Value, len(attrs)+len(overrides))
	for k, v := range attrs {
		m[k] = v
	}
	for k, v := range overrides {
		m[k] = v
	}
	return value.Object(m)
}
