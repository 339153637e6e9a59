// Package delta is the retain/insert/delete vocabulary used to replay plain
// text edits against a buffer.
package delta

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind   `json:"kind"`
	Count int    `json:"count,omitempty"` // retain/delete length in runes
	Text  string `json:"text,omitempty"`  // insert payload
}

type Delta []Op

// Splice builds the delta that removes deleteCount runes at position at and
// inserts text there. Empty parts are left out.
func Splice(at, deleteCount int, text string) Delta {
	var d Delta
	if at > 0 {
		d = append(d, Op{Kind: KindRetain, Count: at})
	}
	if deleteCount > 0 {
		d = append(d, Op{Kind: KindDelete, Count: deleteCount})
	}
	if text != "" {
		d = append(d, Op{Kind: KindInsert, Text: text})
	}
	return d
}
