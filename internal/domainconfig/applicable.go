package domainconfig

import (
	"net/url"

	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

// Applicable is the subset of a configuration that applies to one request.
type Applicable struct {
	PathRules   []PathRule
	QueryRules  []QueryRule
	HeaderRules []HeaderRule
}

// Applicable filters c down to the rules relevant for u and headers.
func (c *Configuration) Applicable(u *url.URL, headers map[string]string) Applicable {
	return Applicable{
		PathRules:   ProperPathRules(u, c.PathRules, c.App.PathMatchingRatio),
		QueryRules:  ProperQueryRules(u, c.QueryRules, c.App),
		HeaderRules: ProperHeaderRules(u, headers, c.HeaderRules, c.App),
	}
}

// QueryStyle is the first applicable path rule's query style, else the app default.
func (a Applicable) QueryStyle(app AppConfig) ExecuteStyle {
	for _, p := range a.PathRules {
		if p.QueryExecuteStyle.Valid() {
			return p.QueryExecuteStyle
		}
	}
	return styleOrDefault(app.DefaultQueryExecuteStyle, DefaultAppConfig().DefaultQueryExecuteStyle)
}

// HeaderStyle is the first applicable path rule's header style, else the app default.
func (a Applicable) HeaderStyle(app AppConfig) ExecuteStyle {
	for _, p := range a.PathRules {
		if p.HeaderExecuteStyle.Valid() {
			return p.HeaderExecuteStyle
		}
	}
	return styleOrDefault(app.DefaultHeaderExecuteStyle, DefaultAppConfig().DefaultHeaderExecuteStyle)
}

func styleOrDefault(s, def ExecuteStyle) ExecuteStyle {
	if s.Valid() {
		return s
	}
	return def
}

// ProperPathRules keeps the rules whose path matches the request path.
func ProperPathRules(u *url.URL, rules []PathRule, ratio float64) []PathRule {
	var out []PathRule
	for _, r := range rules {
		if fileurl.IsPathMatched(u.Path, r.Path, ratio) {
			out = append(out, r)
		}
	}
	return out
}

// ProperQueryRules keeps the rules whose key (and value, when set) is carried
// by the request query and whose path scope matches.
func ProperQueryRules(u *url.URL, rules []QueryRule, app AppConfig) []QueryRule {
	items := mock.ParseQueryItems(u.RawQuery)
	var out []QueryRule
	for _, r := range rules {
		if !inScope(u.Path, r.Paths, app.PathMatchingRatio) {
			continue
		}
		for _, it := range items {
			if r.Matches(it.Key, it.Value) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// ProperHeaderRules is ProperQueryRules over request headers.
func ProperHeaderRules(u *url.URL, headers map[string]string, rules []HeaderRule, app AppConfig) []HeaderRule {
	var out []HeaderRule
	for _, r := range rules {
		if !inScope(u.Path, r.Paths, app.PathMatchingRatio) {
			continue
		}
		if v, ok := headers[r.Key]; ok && r.Matches(r.Key, v) {
			out = append(out, r)
		}
	}
	return out
}

func inScope(path string, scope []string, ratio float64) bool {
	if len(scope) == 0 {
		return true
	}
	for _, p := range scope {
		if fileurl.IsPathMatched(path, p, ratio) {
			return true
		}
	}
	return false
}
