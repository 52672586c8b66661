package condition

import (
	"regexp"
	"strings"
	"sync"

	"github.com/TimurManjosov/flagkit/internal/value"
)

// OperatorHandler evaluates one condition operator. attr is the resolved
// attribute (possibly Unknown), operand is the operator's argument.
type OperatorHandler interface {
	Check(attr, operand value.Value, groups SavedGroups) bool
}

var (
	// populated in init: several handlers recurse into EvalValue.
	operatorHandlers map[string]OperatorHandler

	// regexCache keeps compiled regex by pattern for the hot evaluation path.
	// Expected value type is *regexp.Regexp.
	regexCache sync.Map
)

func init() {
	operatorHandlers = map[string]OperatorHandler{
		"$type":       typeHandler{},
		"$not":        notHandler{},
		"$exists":     existsHandler{},
		"$in":         inHandler{},
		"$nin":        notHandler{inner: inHandler{}},
		"$all":        allHandler{},
		"$elemMatch":  elemMatchHandler{},
		"$size":       sizeHandler{},
		"$eq":         compareHandler{cmp: func(c int) bool { return c == 0 }},
		"$ne":         compareHandler{cmp: func(c int) bool { return c != 0 }},
		"$lt":         compareHandler{cmp: func(c int) bool { return c < 0 }},
		"$lte":        compareHandler{cmp: func(c int) bool { return c <= 0 }},
		"$gt":         compareHandler{cmp: func(c int) bool { return c > 0 }},
		"$gte":        compareHandler{cmp: func(c int) bool { return c >= 0 }},
		"$regex":      regexHandler{},
		"$veq":        versionCompareHandler{cmp: func(c int) bool { return c == 0 }},
		"$vne":        versionCompareHandler{cmp: func(c int) bool { return c != 0 }},
		"$vlt":        versionCompareHandler{cmp: func(c int) bool { return c < 0 }},
		"$vlte":       versionCompareHandler{cmp: func(c int) bool { return c <= 0 }},
		"$vgt":        versionCompareHandler{cmp: func(c int) bool { return c > 0 }},
		"$vgte":       versionCompareHandler{cmp: func(c int) bool { return c >= 0 }},
		"$inGroup":    groupHandler{},
		"$notInGroup": notHandler{inner: groupHandler{}},
	}
}

type typeHandler struct{}

func (typeHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	name, ok := operand.AsString()
	return ok && attr.TypeName() == name
}

// notHandler negates inner, or negates EvalValue(operand, attr) when inner
// is nil, which is the $not operator itself.
type notHandler struct {
	inner OperatorHandler
}

func (h notHandler) Check(attr, operand value.Value, groups SavedGroups) bool {
	if h.inner != nil {
		return !h.inner.Check(attr, operand, groups)
	}
	return !EvalValue(operand, attr, groups)
}

// existsHandler counts an explicit null as present; only an absent
// attribute is missing.
type existsHandler struct{}

func (existsHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	if operand.Truthy() {
		return !attr.IsUnknown()
	}
	return attr.IsUnknown()
}

type inHandler struct{}

func (inHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	if operand.Kind() != value.KindArray {
		return false
	}
	return isIn(attr, operand.Items())
}

// isIn matches attr against list by scalar equality. For an array attribute
// any one matching element is enough.
func isIn(attr value.Value, list []value.Value) bool {
	if attr.Kind() == value.KindArray {
		for _, item := range attr.Items() {
			if item.IsScalar() && containsScalar(list, item) {
				return true
			}
		}
		return false
	}
	return attr.IsScalar() && containsScalar(list, attr)
}

func containsScalar(list []value.Value, v value.Value) bool {
	for _, item := range list {
		if item.IsScalar() && value.Equal(item, v) {
			return true
		}
	}
	return false
}

// allHandler requires every operand element to match some attribute element.
type allHandler struct{}

func (allHandler) Check(attr, operand value.Value, groups SavedGroups) bool {
	if attr.Kind() != value.KindArray || operand.Kind() != value.KindArray {
		return false
	}
	for _, cond := range operand.Items() {
		matched := false
		for _, item := range attr.Items() {
			if EvalValue(cond, item, groups) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

type elemMatchHandler struct{}

func (elemMatchHandler) Check(attr, operand value.Value, groups SavedGroups) bool {
	if attr.Kind() != value.KindArray {
		return false
	}
	operatorForm := isOperatorObject(operand)
	for _, item := range attr.Items() {
		if operatorForm {
			if EvalValue(operand, item, groups) {
				return true
			}
		} else if Eval(item, operand, groups) {
			return true
		}
	}
	return false
}

type sizeHandler struct{}

func (sizeHandler) Check(attr, operand value.Value, groups SavedGroups) bool {
	if attr.Kind() != value.KindArray {
		return false
	}
	return EvalValue(operand, value.Int(attr.Len()), groups)
}

// compareHandler compares numerically when both sides parse as numbers and
// falls back to comparing their string forms.
type compareHandler struct {
	cmp func(c int) bool
}

func (h compareHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	if !attr.IsScalar() || !operand.IsScalar() {
		return false
	}
	a, aok := attr.Float()
	b, bok := operand.Float()
	if aok && bok {
		switch {
		case a < b:
			return h.cmp(-1)
		case a > b:
			return h.cmp(1)
		case a == b:
			return h.cmp(0)
		}
		// NaN is unordered and only ever "not equal".
		return h.cmp(-1) && h.cmp(1)
	}
	return h.cmp(strings.Compare(attr.Content(), operand.Content()))
}

// regexHandler matches when the pattern is found anywhere in the attribute.
type regexHandler struct{}

func (regexHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	if !attr.IsScalar() {
		return false
	}
	pattern, ok := operand.AsString()
	if !ok {
		return false
	}
	rx, ok := getCompiledRegex(pattern)
	if !ok {
		return false
	}
	return rx.MatchString(attr.Content())
}

type versionCompareHandler struct {
	cmp func(c int) bool
}

func (h versionCompareHandler) Check(attr, operand value.Value, _ SavedGroups) bool {
	if !attr.IsScalar() || !operand.IsScalar() {
		return false
	}
	return h.cmp(strings.Compare(PaddedVersion(attr.Content()), PaddedVersion(operand.Content())))
}

// groupHandler checks membership in a saved group. Unknown groups are empty.
type groupHandler struct{}

func (groupHandler) Check(attr, operand value.Value, groups SavedGroups) bool {
	id, ok := operand.AsString()
	if !ok {
		return false
	}
	return isIn(attr, groups[id].Items())
}

func getCompiledRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Load(pattern); ok {
		rx, ok := cached.(*regexp.Regexp)
		return rx, ok
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	regexCache.Store(pattern, rx)
	return rx, true
}
