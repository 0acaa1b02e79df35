// Package domainconfig holds the per-domain matching configuration: path, query
// and header rules, app-wide defaults and the save-filter chain.
package domainconfig

import (
	"strings"
)

// ExecuteStyle decides which query items or headers take part in matching.
type ExecuteStyle string

const (
	// IgnoreAll: only keys named by an applicable rule are compared.
	IgnoreAll ExecuteStyle = "ignoreAll"
	// MatchAll: every key is compared except those named by an applicable rule.
	MatchAll ExecuteStyle = "matchAll"
)

// Valid reports whether s is a known style.
func (s ExecuteStyle) Valid() bool {
	return s == IgnoreAll || s == MatchAll
}

// PathRule configures matching for requests whose path matches Path.
type PathRule struct {
	Path               string       `json:"path"`
	QueryExecuteStyle  ExecuteStyle `json:"queryExecuteStyle"`
	HeaderExecuteStyle ExecuteStyle `json:"headerExecuteStyle"`
}

// Identity is the rule key used for de-duplication.
func (r PathRule) Identity() string {
	return r.Path + string(r.QueryExecuteStyle) + string(r.HeaderExecuteStyle)
}

// HasWildcard reports whether the rule path contains a "*" segment.
func (r PathRule) HasWildcard() bool {
	for _, seg := range strings.Split(r.Path, "/") {
		if seg == "*" {
			return true
		}
	}
	return false
}

// KeyRule names a query item or header. A nil Value means any value.
// Empty Paths makes the rule global.
type KeyRule struct {
	Paths []string `json:"paths"`
	Key   string   `json:"key"`
	Value *string  `json:"value,omitempty"`
}

// QueryRule is a KeyRule over query items.
type QueryRule = KeyRule

// HeaderRule is a KeyRule over request headers.
type HeaderRule = KeyRule

// Identity is the rule key used for de-duplication.
func (r KeyRule) Identity() string {
	v := ""
	if r.Value != nil {
		v = *r.Value
	}
	return strings.Join(r.Paths, "") + r.Key + v
}

// Matches reports whether a key/value pair is named by the rule.
func (r KeyRule) Matches(key, value string) bool {
	if r.Key != key {
		return false
	}
	return r.Value == nil || *r.Value == value
}

// FilterLocation selects the request field a save filter inspects.
type FilterLocation string

const (
	LocationAll        FilterLocation = "all"
	LocationPath       FilterLocation = "path"
	LocationQuery      FilterLocation = "query"
	LocationScenario   FilterLocation = "scenario"
	LocationMethod     FilterLocation = "method"
	LocationStatusCode FilterLocation = "statusCode"
)

// FilterComparison is the string predicate of a save filter.
type FilterComparison string

const (
	CompareContains    FilterComparison = "contains"
	CompareNotContains FilterComparison = "notContains"
	CompareStartsWith  FilterComparison = "startsWith"
	CompareEndsWith    FilterComparison = "endsWith"
	CompareEqual       FilterComparison = "equal"
	CompareNotEqual    FilterComparison = "notEqual"
)

// LogicType joins a save filter to the chain or terminates it.
type LogicType string

const (
	LogicAnd       LogicType = "AND"
	LogicOr        LogicType = "OR"
	LogicMock      LogicType = "MOCK"
	LogicDoNotMock LogicType = "DO_NOT_MOCK"
)

// Terminal reports whether the logic type ends the chain.
func (l LogicType) Terminal() bool {
	return l == LogicMock || l == LogicDoNotMock
}

// SaveFilterRule is one link of the save-filter chain.
type SaveFilterRule struct {
	Location   FilterLocation   `json:"location"`
	Comparison FilterComparison `json:"comparison"`
	InputText  string           `json:"inputText"`
	LogicType  LogicType        `json:"logicType"`
}

// AppConfig holds the domain-wide defaults.
type AppConfig struct {
	DefaultQueryExecuteStyle  ExecuteStyle `json:"defaultQueryExecuteStyle"`
	DefaultHeaderExecuteStyle ExecuteStyle `json:"defaultHeaderExecuteStyle"`
	PathMatchingRatio         float64      `json:"pathMatchingRatio"`
	// Domains the configuration applies to; empty means every domain.
	Domains []string `json:"domains"`
}

// DefaultAppConfig is used when a domain has no configuration yet.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		DefaultQueryExecuteStyle:  MatchAll,
		DefaultHeaderExecuteStyle: IgnoreAll,
		PathMatchingRatio:         1,
		Domains:                   []string{},
	}
}

// Configuration is everything configured for one mock domain.
type Configuration struct {
	PathRules   []PathRule
	QueryRules  []QueryRule
	HeaderRules []HeaderRule
	SaveFilters []SaveFilterRule
	App         AppConfig
}

// Default returns an empty configuration with default app settings.
func Default() *Configuration {
	return &Configuration{App: DefaultAppConfig()}
}

// AllowsHost reports whether host belongs to the configured domain allow-list.
// "a.b.com" is tried as "a.b.com" then "b.com".
func (a AppConfig) AllowsHost(host string) bool {
	if len(a.Domains) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(a.Domains))
	for _, d := range a.Domains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	labels := strings.Split(strings.ToLower(host), ".")
	for i := 0; i < len(labels)-1; i++ {
		if _, ok := allowed[strings.Join(labels[i:], ".")]; ok {
			return true
		}
	}
	// single-label hosts such as "localhost"
	if len(labels) == 1 {
		_, ok := allowed[labels[0]]
		return ok
	}
	return false
}
