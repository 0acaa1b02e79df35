package decider

import (
	"github.com/snapp-incubator/mokzi/internal/domainconfig"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

// named reports whether any applicable rule names the pair.
func named(rules []domainconfig.KeyRule, key, value string) bool {
	for _, r := range rules {
		if r.Matches(key, value) {
			return true
		}
	}
	return false
}

// querySet keeps, under IgnoreAll, only items named by a rule and, under
// MatchAll, every item except those.
func querySet(items []mock.QueryItem, rules []domainconfig.QueryRule, style domainconfig.ExecuteStyle) map[mock.QueryItem]int {
	keep := style == domainconfig.IgnoreAll
	out := make(map[mock.QueryItem]int)
	for _, it := range items {
		if named(rules, it.Key, it.Value) == keep {
			out[it]++
		}
	}
	return out
}

// sameQuerySet compares query sets as multisets; item order is not significant.
func sameQuerySet(a, b map[mock.QueryItem]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, n := range a {
		if b[k] != n {
			return false
		}
	}
	return true
}

func headerSet(headers map[string]string, rules []domainconfig.HeaderRule, style domainconfig.ExecuteStyle) map[string]string {
	keep := style == domainconfig.IgnoreAll
	out := make(map[string]string)
	for k, v := range headers {
		if named(rules, k, v) == keep {
			out[k] = v
		}
	}
	return out
}

func sameHeaderSet(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
