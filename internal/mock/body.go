package mock

import (
	"bytes"
	"encoding/json"
	"strings"
)

// BodyType is the tag of a Body.
type BodyType string

const (
	BodyNull    BodyType = "null"
	BodyJSON    BodyType = "json"
	BodyHTML    BodyType = "html"
	BodyXML     BodyType = "xml"
	BodyGraphQL BodyType = "graphql"
	BodyText    BodyType = "text"
)

// Body is a request or response payload classified once at parse time.
// JSON bodies are kept in compact form so that the text survives a write/read cycle.
type Body struct {
	kind BodyType
	text string
}

// NullBody returns the empty body.
func NullBody() Body {
	return Body{kind: BodyNull}
}

// NewBody classifies raw payload bytes.
func NewBody(raw []byte) Body {
	return ParseBody(string(raw))
}

// classifier reports whether a trimmed payload belongs to a kind. Order matters:
// a JSON-parseable payload must never reach the GraphQL heuristic.
type classifier struct {
	kind  BodyType
	match func(trimmed string) bool
}

var classifiers = []classifier{
	{kind: BodyNull, match: func(s string) bool { return s == "" }},
	{kind: BodyJSON, match: func(s string) bool { return json.Valid([]byte(s)) }},
	{kind: BodyHTML, match: func(s string) bool { return isMarkup(s) && hasHTMLMarker(s) }},
	{kind: BodyXML, match: isMarkup},
	{kind: BodyGraphQL, match: isGraphQL},
}

// ParseBody classifies a textual payload.
func ParseBody(s string) Body {
	trimmed := strings.TrimSpace(s)
	for _, c := range classifiers {
		if !c.match(trimmed) {
			continue
		}
		switch c.kind {
		case BodyNull:
			return NullBody()
		case BodyJSON:
			return Body{kind: BodyJSON, text: compactJSON(s)}
		default:
			return Body{kind: c.kind, text: s}
		}
	}
	return Body{kind: BodyText, text: s}
}

// Type returns the body tag.
func (b Body) Type() BodyType {
	if b.kind == "" {
		return BodyNull
	}
	return b.kind
}

// Description projects the body back to text.
func (b Body) Description() string {
	return b.text
}

// Bytes is Description as a byte slice.
func (b Body) Bytes() []byte {
	if b.Type() == BodyNull {
		return nil
	}
	return []byte(b.text)
}

// IsNull reports whether the body is empty.
func (b Body) IsNull() bool {
	return b.Type() == BodyNull
}

// MarshalJSON writes JSON bodies inline and every other kind as a string.
func (b Body) MarshalJSON() ([]byte, error) {
	switch b.Type() {
	case BodyNull:
		return []byte("null"), nil
	case BodyJSON:
		return []byte(b.text), nil
	default:
		return json.Marshal(b.text)
	}
}

// UnmarshalJSON re-classifies a stored body.
func (b *Body) UnmarshalJSON(data []byte) error {
	*b = bodyFromRaw(data)
	return nil
}

// bodyFromRaw turns a raw JSON value back into a Body: strings are re-sniffed,
// everything else is a JSON document.
func bodyFromRaw(data []byte) Body {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NullBody()
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return ParseBody(s)
		}
	}
	return Body{kind: BodyJSON, text: compactJSON(string(trimmed))}
}

func compactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

func isMarkup(s string) bool {
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}

var htmlMarkers = []string{"<!doctype html", "<html", "<head", "<body"}

func hasHTMLMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range htmlMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isGraphQL(s string) bool {
	if !strings.Contains(s, "query") && !strings.Contains(s, "mutation") && !strings.Contains(s, "subscription") {
		return false
	}
	return strings.ContainsAny(s, "{(")
}
