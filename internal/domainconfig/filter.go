package domainconfig

import (
	"strconv"
	"strings"
)

// FilterInput is what the save-filter chain looks at.
type FilterInput struct {
	Path       string
	Query      string
	Scenario   string
	Method     string
	StatusCode int
}

func (in FilterInput) field(loc FilterLocation) []string {
	status := strconv.Itoa(in.StatusCode)
	switch loc {
	case LocationPath:
		return []string{in.Path}
	case LocationQuery:
		return []string{in.Query}
	case LocationScenario:
		return []string{in.Scenario}
	case LocationMethod:
		return []string{in.Method}
	case LocationStatusCode:
		return []string{status}
	default:
		return []string{in.Path, in.Query, in.Scenario, in.Method, status}
	}
}

// ShouldSave evaluates the chain left to right. The first predicate seeds the
// accumulator; every later rule folds its predicate in with its own logic type,
// a terminal rule folding with AND. DO_NOT_MOCK negates the final value.
// An empty chain always saves.
func ShouldSave(rules []SaveFilterRule, in FilterInput) bool {
	if len(rules) == 0 {
		return true
	}

	acc := false
	for i, r := range rules {
		p := r.evaluate(in)
		if i == 0 {
			acc = p
			continue
		}
		if r.LogicType == LogicOr {
			acc = acc || p
		} else {
			acc = acc && p
		}
	}

	if rules[len(rules)-1].LogicType == LogicDoNotMock {
		return !acc
	}
	return acc
}

func (r SaveFilterRule) evaluate(in FilterInput) bool {
	fields := in.field(r.Location)
	switch r.Comparison {
	case CompareNotContains:
		return !anyField(fields, r.InputText, strings.Contains)
	case CompareNotEqual:
		return !anyField(fields, r.InputText, func(a, b string) bool { return a == b })
	case CompareContains:
		return anyField(fields, r.InputText, strings.Contains)
	case CompareStartsWith:
		return anyField(fields, r.InputText, strings.HasPrefix)
	case CompareEndsWith:
		return anyField(fields, r.InputText, strings.HasSuffix)
	case CompareEqual:
		return anyField(fields, r.InputText, func(a, b string) bool { return a == b })
	default:
		return false
	}
}

func anyField(fields []string, text string, cmp func(field, text string) bool) bool {
	for _, f := range fields {
		if cmp(f, text) {
			return true
		}
	}
	return false
}
