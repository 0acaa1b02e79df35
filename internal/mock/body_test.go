package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBodyClassification(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want BodyType
	}{
		{"empty", "", BodyNull},
		{"whitespace", "  \n", BodyNull},
		{"json object", `{"a":1}`, BodyJSON},
		{"json array", `[1,2]`, BodyJSON},
		{"json graphql envelope stays json", `{"query":"query { me { id } }"}`, BodyJSON},
		{"html", "<!DOCTYPE html><html><body>hi</body></html>", BodyHTML},
		{"html fragment with body", "<body><p>x</p></body>", BodyHTML},
		{"xml", `<?xml version="1.0"?><note><to>a</to></note>`, BodyXML},
		{"graphql", "query GetUser { user(id: 1) { name } }", BodyGraphQL},
		{"mutation", "mutation { like(id: 2) }", BodyGraphQL},
		{"keyword without braces is text", "query the database", BodyText},
		{"text", "hello world", BodyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBody(tt.in).Type())
		})
	}
}

func TestJSONBodyIsCompacted(t *testing.T) {
	b := ParseBody("{\n  \"a\": [1, 2],\n  \"b\": \"<x>\"\n}")
	assert.Equal(t, BodyJSON, b.Type())
	assert.Equal(t, `{"a":[1,2],"b":"<x>"}`, b.Description())
}

func TestBodyOutline(t *testing.T) {
	assert.Equal(t, "id,name", ParseBody(`{"id":1,"name":"x"}`).Outline())
	assert.Equal(t, "note", ParseBody(`<note><to>a</to></note>`).Outline())
	assert.Equal(t, "Home", ParseBody(`<html><head><title> Home </title></head><body></body></html>`).Outline())
	assert.Equal(t, "query GetUser", ParseBody(`query GetUser { user(id: 1) { name } }`).Outline())
	assert.Equal(t, "", ParseBody("plain").Outline())
	assert.Equal(t, "", NullBody().Outline())
}

func TestZeroBodyIsNull(t *testing.T) {
	var b Body
	assert.True(t, b.IsNull())
	assert.Nil(t, b.Bytes())
}
