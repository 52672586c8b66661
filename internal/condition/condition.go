// Package condition evaluates MongoDB-style targeting conditions against a
// user's attributes.
//
// A condition is a JSON object. Top-level "$or", "$nor", "$and" and "$not"
// combine nested conditions; every other key is a dotted attribute path
// whose value is either a literal to compare against or an operator object
// such as {"$gt": 10, "$lt": 20}. Evaluation is total: malformed input never
// panics, it simply fails to match.
package condition

import (
	"strings"

	"github.com/TimurManjosov/flagkit/internal/value"
)

// SavedGroups maps a group id to the array of member values used by
// $inGroup and $notInGroup.
type SavedGroups map[string]value.Value

// Eval reports whether attributes satisfy cond.
//
// Logical keys are checked in priority order $or, $nor, $and, $not; the
// first one present decides the result. A condition that is not an object
// (including a top-level array) never matches.
func Eval(attributes, cond value.Value, groups SavedGroups) bool {
	if cond.Kind() != value.KindObject {
		return false
	}

	if or, ok := cond.Get("$or"); ok && or.Kind() == value.KindArray {
		return evalOr(attributes, or, groups)
	}
	if nor, ok := cond.Get("$nor"); ok && nor.Kind() == value.KindArray {
		return !evalOr(attributes, nor, groups)
	}
	if and, ok := cond.Get("$and"); ok && and.Kind() == value.KindArray {
		return evalAnd(attributes, and, groups)
	}
	if not, ok := cond.Get("$not"); ok {
		return !Eval(attributes, not, groups)
	}

	for _, path := range cond.Keys() {
		expected, _ := cond.Get(path)
		if !EvalValue(expected, attributes.Path(path), groups) {
			return false
		}
	}
	return true
}

// An empty $or matches.
func evalOr(attributes, conds value.Value, groups SavedGroups) bool {
	items := conds.Items()
	if len(items) == 0 {
		return true
	}
	for _, c := range items {
		if Eval(attributes, c, groups) {
			return true
		}
	}
	return false
}

func evalAnd(attributes, conds value.Value, groups SavedGroups) bool {
	for _, c := range conds.Items() {
		if !Eval(attributes, c, groups) {
			return false
		}
	}
	return true
}

// EvalValue compares one attribute value against a condition value.
//
//   - operator object: every operator must pass; an absent attribute fails
//     unless the object asks for {"$exists": false}
//   - any other object or array: deep equality
//   - scalar: equality within the same kind, so 10 and "10" differ
func EvalValue(cond, attr value.Value, groups SavedGroups) bool {
	if isOperatorObject(cond) {
		if attr.IsUnknown() && !expectsMissing(cond) {
			return false
		}
		for _, op := range cond.Keys() {
			operand, _ := cond.Get(op)
			if !evalOperator(op, attr, operand, groups) {
				return false
			}
		}
		return true
	}
	if attr.IsUnknown() {
		return false
	}
	return value.Equal(cond, attr)
}

// isOperatorObject reports whether v is a non-empty object whose keys all
// start with "$".
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

func expectsMissing(cond value.Value) bool {
	exists, ok := cond.Get("$exists")
	return ok && !exists.Truthy()
}

// IsOperator reports whether name is a supported condition operator,
// including the logical ones.
func IsOperator(name string) bool {
	switch name {
	case "$or", "$nor", "$and", "$not":
		return true
	}
	_, ok := operatorHandlers[name]
	return ok
}

func evalOperator(op string, attr, operand value.Value, groups SavedGroups) bool {
	h, ok := operatorHandlers[op]
	if !ok {
		return false
	}
	return h.Check(attr, operand, groups)
}
