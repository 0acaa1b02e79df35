package engine

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const redactedValue = "[REDACTED]"

// redactor masks configured JSON paths in bodies and configured headers before
// they are recorded.
type redactor struct {
	jsonPaths []string
	headerSet map[string]struct{}
}

func newRedactor(jsonPaths, headers []string) redactor {
	r := redactor{headerSet: make(map[string]struct{}, len(headers))}
	for _, p := range jsonPaths {
		if p = strings.TrimSpace(p); p != "" {
			r.jsonPaths = append(r.jsonPaths, p)
		}
	}
	for _, h := range headers {
		r.headerSet[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return r
}

// body masks the configured paths that exist in a JSON body. Other bodies are
// returned unchanged.
func (r redactor) body(b []byte) []byte {
	if len(r.jsonPaths) == 0 || !gjson.ValidBytes(b) {
		return b
	}

	out := b
	for _, p := range r.jsonPaths {
		if !gjson.GetBytes(out, p).Exists() {
			continue
		}
		masked, err := sjson.SetBytes(out, p, redactedValue)
		if err != nil {
			continue
		}
		out = masked
	}
	return out
}

func (r redactor) headers(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := r.headerSet[strings.ToLower(k)]; ok {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}
