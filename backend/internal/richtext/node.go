// Package richtext models the editor's JSON document tree and the positional
// steps clients submit against it.
package richtext

import (
	"encoding/json"
	"strings"
)

const (
	TypeDoc         = "doc"
	TypeParagraph   = "paragraph"
	TypeText        = "text"
	TypeHeading     = "heading"
	TypeBulletList  = "bullet_list"
	TypeOrderedList = "ordered_list"
)

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Node is one element of the document tree: {type, attrs?, content?, text?, marks?}.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// IntAttr reads a numeric attribute, falling back to def when it is absent or
// not a number. JSON numbers decode as float64.
func (n Node) IntAttr(name string, def int) int {
	switch v := n.Attrs[name].(type) {
	case float64:
		if v == 0 {
			return def
		}
		return int(v)
	case int:
		if v == 0 {
			return def
		}
		return v
	}
	return def
}

func (n Node) IsList() bool {
	return n.Type == TypeBulletList || n.Type == TypeOrderedList
}

// EmptyDocument is the seed used for a session with no stored content.
func EmptyDocument() Node {
	return Node{Type: TypeDoc, Content: []Node{{Type: TypeParagraph}}}
}

// EmptyDocumentJSON is EmptyDocument encoded, `{"type":"doc","content":[{"type":"paragraph"}]}`.
func EmptyDocumentJSON() json.RawMessage {
	b, _ := json.Marshal(EmptyDocument())
	return b
}

// ParagraphDocument wraps text as the only paragraph of a document.
func ParagraphDocument(text string) Node {
	p := Node{Type: TypeParagraph}
	if text != "" {
		p.Content = []Node{{Type: TypeText, Text: text}}
	}
	return Node{Type: TypeDoc, Content: []Node{p}}
}

// IsEmptyJSON reports whether raw carries no value at all.
func IsEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// PlainText flattens the text children of the document's top-level blocks.
// Deeper nesting (list items, quotes) is not visited.
func PlainText(doc Node) string {
	var b strings.Builder
	for _, block := range doc.Content {
		for _, child := range block.Content {
			if child.Type == TypeText {
				b.WriteString(child.Text)
			}
		}
	}
	return b.String()
}
