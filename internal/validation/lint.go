package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/rollout"
	"github.com/TimurManjosov/flagkit/internal/value"
)

var validTypeNames = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"array": true, "object": true, "null": true, "unknown": true,
}

// LintFeatures reports semantic problems the evaluator would silently fold
// to false or ignore: unknown operators, regexes that do not compile,
// version literals that are not versions, references to missing saved
// groups or parent features, and inconsistent bucketing parameters.
func LintFeatures(features engine.Features, groups condition.SavedGroups) *ValidationResult {
	result := NewValidationResult()

	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field := "features." + key
		result.Merge(ValidateKey(field, key))

		f := features[key]
		if f == nil {
			result.AddError(field, "Feature definition must be an object")
			continue
		}
		for i := range f.Rules {
			lintRule(result, fmt.Sprintf("%s.rules[%d]", field, i), key, &f.Rules[i], features, groups)
		}
	}
	return result
}

func lintRule(result *ValidationResult, field, featureKey string, r *engine.Rule, features engine.Features, groups condition.SavedGroups) {
	if r.Condition.Exists() {
		lintCondition(result, field+".condition", r.Condition, groups)
	}

	for i, p := range r.ParentConditions {
		pf := fmt.Sprintf("%s.parentConditions[%d]", field, i)
		switch {
		case p.ID == featureKey:
			result.AddError(pf, "Feature cannot depend on itself")
		case features[p.ID] == nil:
			result.AddError(pf, "Unknown parent feature: "+p.ID)
		}
		lintCondition(result, pf+".condition", p.Condition, groups)
	}

	if r.Force.IsUnknown() && r.Variations == nil {
		result.AddError(field, "Rule must set force or variations")
	}

	if r.Variations != nil {
		if len(r.Variations) < 2 {
			result.AddError(field+".variations", "Experiment rules need at least two variations")
		}
		result.Merge(ValidateWeights(field+".weights", r.Weights, len(r.Variations)))
		if len(r.Meta) > 0 && len(r.Meta) != len(r.Variations) {
			result.AddError(field+".meta", "Meta must have one entry per variation")
		}
		if len(r.Ranges) > 0 && len(r.Ranges) != len(r.Variations) {
			result.AddError(field+".ranges", "Ranges must have one entry per variation")
		}
	}

	result.Merge(ValidateCoverage(field+".coverage", r.Coverage))

	if ns := r.Namespace; ns != nil && (!ns.Valid() || ns.Start < 0 || ns.End > 1 || ns.Start > ns.End) {
		result.AddError(field+".namespace", "Namespace must be [id, start, end] with 0 <= start <= end <= 1")
	}
	if r.HashVersion != 0 && r.HashVersion != 1 && r.HashVersion != 2 {
		result.AddError(field+".hashVersion", "Hash version must be 1 or 2")
	}
	if r.MinBucketVersion > r.BucketVersion {
		result.AddError(field+".minBucketVersion", "Minimum bucket version must not exceed bucket version")
	}
	if r.Range != nil {
		lintRanges(result, field+".range", []rollout.BucketRange{*r.Range})
	}
	lintRanges(result, field+".ranges", r.Ranges)
	for i, flt := range r.Filters {
		lintRanges(result, fmt.Sprintf("%s.filters[%d].ranges", field, i), flt.Ranges)
	}
}

func lintRanges(result *ValidationResult, field string, ranges []rollout.BucketRange) {
	for _, rng := range ranges {
		if rng.Start < 0 || rng.End > 1 || rng.Start > rng.End {
			result.AddError(field, "Ranges must satisfy 0 <= start <= end <= 1")
			return
		}
	}
}

// lintCondition walks a condition document the same way condition.Eval
// does and checks every operator operand it can check statically.
func lintCondition(result *ValidationResult, field string, cond value.Value, groups condition.SavedGroups) {
	if cond.Kind() != value.KindObject {
		result.AddError(field, "Condition must be an object")
		return
	}
	for _, k := range cond.Keys() {
		operand, _ := cond.Get(k)
		switch k {
		case "$or", "$nor", "$and":
			if operand.Kind() != value.KindArray {
				result.AddError(field+"."+k, "Operand must be an array of conditions")
				continue
			}
			for i, item := range operand.Items() {
				lintCondition(result, fmt.Sprintf("%s.%s[%d]", field, k, i), item, groups)
			}
		case "$not":
			lintCondition(result, field+".$not", operand, groups)
		default:
			if strings.HasPrefix(k, "$") {
				result.AddError(field+"."+k, "Unknown top-level operator")
				continue
			}
			if isOperatorObject(operand) {
				lintOperators(result, field+"."+k, operand, groups)
			}
		}
	}
}

func isOperatorObject(v value.Value) bool {
	keys := v.Keys()
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func lintOperators(result *ValidationResult, field string, ops value.Value, groups condition.SavedGroups) {
	for _, op := range ops.Keys() {
		operand, _ := ops.Get(op)
		of := field + "." + op
		if !condition.IsOperator(op) {
			result.AddError(of, "Unknown operator")
			continue
		}
		switch op {
		case "$regex":
			pattern, ok := operand.AsString()
			if !ok {
				result.AddError(of, "Operand must be a string")
			} else if _, err := regexp.Compile(pattern); err != nil {
				result.AddError(of, "Invalid regular expression: "+err.Error())
			}
		case "$veq", "$vne", "$vgt", "$vgte", "$vlt", "$vlte":
			v, ok := operand.AsString()
			if !ok {
				result.AddError(of, "Operand must be a version string")
			} else if _, err := semver.NewVersion(v); err != nil {
				result.AddError(of, "Invalid version: "+v)
			}
		case "$in", "$nin", "$all":
			if operand.Kind() != value.KindArray {
				result.AddError(of, "Operand must be an array")
			}
		case "$inGroup", "$notInGroup":
			name, ok := operand.AsString()
			if !ok {
				result.AddError(of, "Operand must be a saved group id")
			} else if _, exists := groups[name]; !exists {
				result.AddError(of, "Unknown saved group: "+name)
			}
		case "$type":
			name, _ := operand.AsString()
			if !validTypeNames[name] {
				result.AddError(of, "Unknown type name")
			}
		case "$elemMatch":
			if isOperatorObject(operand) {
				lintOperators(result, of, operand, groups)
			} else {
				lintCondition(result, of, operand, groups)
			}
		case "$not":
			if isOperatorObject(operand) {
				lintOperators(result, of, operand, groups)
			}
		case "$size":
			if isOperatorObject(operand) {
				lintOperators(result, of, operand, groups)
			}
		}
	}
}
