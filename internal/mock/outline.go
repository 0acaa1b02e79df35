package mock

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/tidwall/gjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"golang.org/x/net/html"
)

const maxOutlineKeys = 8

// Outline returns a short label describing the body, used by catalog search.
// It never fails: an unparseable body yields an empty outline.
func (b Body) Outline() string {
	switch b.Type() {
	case BodyJSON:
		return jsonOutline(b.text)
	case BodyXML:
		return xmlOutline(b.text)
	case BodyHTML:
		return htmlOutline(b.text)
	case BodyGraphQL:
		return graphQLOutline(b.text)
	default:
		return ""
	}
}

// jsonOutline lists the top-level keys of an object body.
func jsonOutline(s string) string {
	res := gjson.Parse(s)
	if !res.IsObject() {
		return ""
	}
	var keys []string
	res.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return len(keys) < maxOutlineKeys
	})
	return strings.Join(keys, ",")
}

func xmlOutline(s string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	return root.FullTag()
}

func htmlOutline(s string) string {
	node, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}
	return findTitle(node)
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// graphQLOutline lists "operation name" pairs, e.g. "query GetUser".
func graphQLOutline(s string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: s})
	if err != nil || doc == nil {
		return ""
	}
	parts := make([]string, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		label := string(op.Operation)
		if op.Name != "" {
			label += " " + op.Name
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ",")
}
