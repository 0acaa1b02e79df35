package domainconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type filePathRule struct {
	Path               string       `json:"path"`
	QueryExecuteStyle  ExecuteStyle `json:"queryExecuteStyle,omitempty"`
	HeaderExecuteStyle ExecuteStyle `json:"headerExecuteStyle,omitempty"`

	// Legacy fields for backward compatibility
	ExecuteAllQueries json.RawMessage `json:"executeAllQueries,omitempty"`
	ExecuteAllHeaders json.RawMessage `json:"executeAllHeaders,omitempty"`
}

type fileAppConfig struct {
	DefaultQueryExecuteStyle  ExecuteStyle `json:"defaultQueryExecuteStyle,omitempty"`
	DefaultHeaderExecuteStyle ExecuteStyle `json:"defaultHeaderExecuteStyle,omitempty"`
	PathMatchingRatio         *float64     `json:"pathMatchingRatio,omitempty"`
	Domains                   []string     `json:"domains"`

	// Legacy fields for backward compatibility
	ExecuteAllQueries json.RawMessage `json:"executeAllQueries,omitempty"`
	ExecuteAllHeaders json.RawMessage `json:"executeAllHeaders,omitempty"`
}

type fileConfiguration struct {
	PathConfigs       []filePathRule   `json:"pathConfigs"`
	QueryConfigs      []QueryRule      `json:"queryConfigs"`
	HeaderConfigs     []HeaderRule     `json:"headerConfigs"`
	MockFilterConfigs []SaveFilterRule `json:"mockFilterConfigs"`
	AppFilterConfigs  *fileAppConfig   `json:"appFilterConfigs,omitempty"`
}

// Decode parses a configs.json document, migrating legacy fields.
// An empty document yields the default configuration.
func Decode(data []byte) (*Configuration, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Default(), nil
	}

	var fc fileConfiguration
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("error in decoding the domain configuration: %w", err)
	}

	c := Default()
	if fc.AppFilterConfigs != nil {
		c.App = fc.AppFilterConfigs.migrate()
	}

	c.PathRules = make([]PathRule, 0, len(fc.PathConfigs))
	for _, p := range fc.PathConfigs {
		c.PathRules = append(c.PathRules, p.migrate())
	}
	c.QueryRules = nonNilRules(fc.QueryConfigs)
	c.HeaderRules = nonNilRules(fc.HeaderConfigs)
	c.SaveFilters = fc.MockFilterConfigs
	if c.SaveFilters == nil {
		c.SaveFilters = []SaveFilterRule{}
	}
	return c, nil
}

// Encode writes a configuration in the current schema; legacy fields are never written.
func Encode(c *Configuration) ([]byte, error) {
	ratio := c.App.PathMatchingRatio
	fc := fileConfiguration{
		PathConfigs:       make([]filePathRule, 0, len(c.PathRules)),
		QueryConfigs:      nonNilRules(c.QueryRules),
		HeaderConfigs:     nonNilRules(c.HeaderRules),
		MockFilterConfigs: c.SaveFilters,
		AppFilterConfigs: &fileAppConfig{
			DefaultQueryExecuteStyle:  c.App.DefaultQueryExecuteStyle,
			DefaultHeaderExecuteStyle: c.App.DefaultHeaderExecuteStyle,
			PathMatchingRatio:         &ratio,
			Domains:                   c.App.Domains,
		},
	}
	if fc.MockFilterConfigs == nil {
		fc.MockFilterConfigs = []SaveFilterRule{}
	}
	if fc.AppFilterConfigs.Domains == nil {
		fc.AppFilterConfigs.Domains = []string{}
	}
	for _, p := range c.PathRules {
		fc.PathConfigs = append(fc.PathConfigs, filePathRule{
			Path:               p.Path,
			QueryExecuteStyle:  p.QueryExecuteStyle,
			HeaderExecuteStyle: p.HeaderExecuteStyle,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return nil, fmt.Errorf("error in encoding the domain configuration: %w", err)
	}
	return buf.Bytes(), nil
}

func (p filePathRule) migrate() PathRule {
	return PathRule{
		Path:               p.Path,
		QueryExecuteStyle:  migrateStyle(p.QueryExecuteStyle, p.ExecuteAllQueries, ""),
		HeaderExecuteStyle: migrateStyle(p.HeaderExecuteStyle, p.ExecuteAllHeaders, ""),
	}
}

func (a fileAppConfig) migrate() AppConfig {
	def := DefaultAppConfig()
	out := AppConfig{
		DefaultQueryExecuteStyle:  migrateStyle(a.DefaultQueryExecuteStyle, a.ExecuteAllQueries, def.DefaultQueryExecuteStyle),
		DefaultHeaderExecuteStyle: migrateStyle(a.DefaultHeaderExecuteStyle, a.ExecuteAllHeaders, def.DefaultHeaderExecuteStyle),
		PathMatchingRatio:         def.PathMatchingRatio,
		Domains:                   a.Domains,
	}
	if a.PathMatchingRatio != nil {
		out.PathMatchingRatio = clampRatio(*a.PathMatchingRatio)
	}
	if out.Domains == nil {
		out.Domains = []string{}
	}
	return out
}

// migrateStyle prefers the current field, then the legacy executeAll* boolean,
// then fallback. Unreadable legacy values degrade to fallback.
func migrateStyle(current ExecuteStyle, legacy json.RawMessage, fallback ExecuteStyle) ExecuteStyle {
	if current.Valid() {
		return current
	}
	if len(legacy) == 0 {
		return fallback
	}
	executeAll, ok := parseLegacyBool(legacy)
	if !ok {
		return fallback
	}
	if executeAll {
		return MatchAll
	}
	return IgnoreAll
}

func parseLegacyBool(raw json.RawMessage) (value, ok bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

func nonNilRules(rules []KeyRule) []KeyRule {
	if rules == nil {
		return []KeyRule{}
	}
	for i := range rules {
		if rules[i].Paths == nil {
			rules[i].Paths = []string{}
		}
	}
	return rules
}
