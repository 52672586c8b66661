package engine

import (
	"github.com/TimurManjosov/flagkit/internal/rollout"
	"github.com/TimurManjosov/flagkit/internal/value"
)

// lookup returns the raw attribute, overrides first.
func (st *evalState) lookup(name string) value.Value {
	if v, ok := st.ctx.AttributeOverrides[name]; ok && hashString(v) != "" {
		return v
	}
	return st.ctx.Attributes[name]
}

// hashAttribute resolves the attribute used for bucketing. name defaults to
// "id". When it has no usable value and a fallback is given, the fallback
// attribute is used instead and its name is returned.
func (st *evalState) hashAttribute(name, fallback string) (attr, hashValue string) {
	if name == "" {
		name = "id"
	}
	hv := hashString(st.lookup(name))
	if hv == "" && fallback != "" {
		if fv := hashString(st.lookup(fallback)); fv != "" {
			return fallback, fv
		}
	}
	return name, hv
}

// fallbackFor returns the fallback attribute only when sticky bucketing is
// in effect for the experiment.
func (st *evalState) fallbackFor(fallback string, disableSticky bool) string {
	if st.ctx.StickyBucketService == nil || disableSticky {
		return ""
	}
	return fallback
}

func (st *evalState) stickyEnabled(disableSticky bool) bool {
	return st.ctx.StickyBucketService != nil && !disableSticky
}

// hashString treats Null, Unknown and the literal "null" as missing.
func hashString(v value.Value) string {
	s := v.HashString()
	if s == "null" {
		return ""
	}
	return s
}

func (e *Evaluator) isFilteredOut(st *evalState, filters []rollout.Filter) bool {
	return rollout.IsFilteredOut(filters, func(name string) (string, bool) {
		v := st.lookup(name)
		if !v.Exists() || !v.IsScalar() {
			return "", false
		}
		hv := hashString(v)
		return hv, hv != ""
	})
}

func includedInRollout(seed, hashValue string, rule *Rule) bool {
	return rollout.IsIncludedInRollout(seed, hashValue, rule.Range, rule.Coverage, rule.HashVersion)
}
