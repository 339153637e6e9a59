package richtext

import (
	"encoding/json"
	"strings"
)

const StepReplace = "replace"

type Slice struct {
	Content   []Node `json:"content,omitempty"`
	OpenStart int    `json:"openStart,omitempty"`
	OpenEnd   int    `json:"openEnd,omitempty"`
}

// Step is a positional edit. A replace step removes [From, To) and inserts
// Slice at From.
type Step struct {
	StepType string `json:"stepType"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	Slice    *Slice `json:"slice,omitempty"`
}

type Operation struct {
	Steps    []Step          `json:"steps"`
	ClientID json.RawMessage `json:"clientID,omitempty"`
}

// ParseOperation decodes a client operation. A payload that does not decode
// yields an operation with no steps together with the decode error.
func ParseOperation(raw json.RawMessage) (Operation, error) {
	var op Operation
	if IsEmptyJSON(raw) {
		return op, nil
	}
	if err := json.Unmarshal(raw, &op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

func (s Step) IsReplace() bool { return s.StepType == StepReplace }

// InsertedText collects the text carried by the step's slice, either as direct
// text nodes or as the text children of block nodes.
func (s Step) InsertedText() string {
	if s.Slice == nil {
		return ""
	}
	var b strings.Builder
	for _, node := range s.Slice.Content {
		if len(node.Content) > 0 {
			for _, child := range node.Content {
				if child.Type == TypeText {
					b.WriteString(child.Text)
				}
			}
			continue
		}
		if node.Type == TypeText {
			b.WriteString(node.Text)
		}
	}
	return b.String()
}

// DecodeDocument parses stored or submitted content. An empty payload decodes
// to EmptyDocument.
func DecodeDocument(raw json.RawMessage) (Node, error) {
	if IsEmptyJSON(raw) {
		return EmptyDocument(), nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}
