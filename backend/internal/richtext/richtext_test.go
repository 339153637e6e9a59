package richtext

import (
	"encoding/json"
	"testing"
)

func TestEmptyDocumentJSON(t *testing.T) {
	want := `{"type":"doc","content":[{"type":"paragraph"}]}`
	if got := string(EmptyDocumentJSON()); got != want {
		t.Fatalf("EmptyDocumentJSON() = %s, want %s", got, want)
	}
}

func TestPlainText_TopLevelBlocks(t *testing.T) {
	raw := `{"type":"doc","content":[
		{"type":"paragraph","content":[{"type":"text","text":"Hello "},{"type":"text","text":"world","marks":[{"type":"bold"}]}]},
		{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"!"}]}
	]}`
	doc, err := DecodeDocument(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	if got := PlainText(doc); got != "Hello world!" {
		t.Fatalf("PlainText() = %q, want %q", got, "Hello world!")
	}
}

func TestParseOperation_Malformed(t *testing.T) {
	op, err := ParseOperation(json.RawMessage(`{"steps":"nope"}`))
	if err == nil {
		t.Fatalf("ParseOperation() expected error")
	}
	if len(op.Steps) != 0 {
		t.Fatalf("ParseOperation() steps = %d, want 0", len(op.Steps))
	}
}

func TestStep_InsertedText(t *testing.T) {
	raw := `{"steps":[{"stepType":"replace","from":3,"to":3,"slice":{"content":[
		{"type":"text","text":"ab"},
		{"type":"paragraph","content":[{"type":"text","text":"cd"}]}
	]}}],"clientID":42}`
	op, err := ParseOperation(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseOperation() error = %v", err)
	}
	if len(op.Steps) != 1 || !op.Steps[0].IsReplace() {
		t.Fatalf("unexpected steps: %+v", op.Steps)
	}
	if got := op.Steps[0].InsertedText(); got != "abcd" {
		t.Fatalf("InsertedText() = %q, want %q", got, "abcd")
	}
}

func TestIntAttr(t *testing.T) {
	n := Node{Type: TypeHeading, Attrs: map[string]any{"level": float64(3)}}
	if got := n.IntAttr("level", 1); got != 3 {
		t.Fatalf("IntAttr() = %d, want 3", got)
	}
	if got := (Node{Type: TypeHeading}).IntAttr("level", 1); got != 1 {
		t.Fatalf("IntAttr() default = %d, want 1", got)
	}
}
