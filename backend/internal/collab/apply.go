package collab

import (
	"encoding/json"

	"neodocs/backend/internal/ot/delta"
	"neodocs/backend/internal/richtext"
)

// replaySteps is the lossy fallback used when an operation arrives without a
// full content snapshot. The flattened text of content is spliced once per
// replace step at [from-1, to-1), positions clamped to the text, and the
// result is rewrapped as a single paragraph. Formatting does not survive.
// An operation without steps leaves content untouched.
func replaySteps(content json.RawMessage, steps []richtext.Step) (json.RawMessage, error) {
	if len(steps) == 0 {
		return content, nil
	}
	doc, err := richtext.DecodeDocument(content)
	if err != nil {
		return nil, err
	}

	buf := NewPieceTable(richtext.PlainText(doc))
	for _, step := range steps {
		if !step.IsReplace() {
			continue
		}
		n := buf.Len()
		from := clamp(step.From-1, 0, n)
		to := clamp(step.To-1, from, n)
		if err := buf.Apply(delta.Splice(from, to-from, step.InsertedText())); err != nil {
			return nil, err
		}
	}
	return json.Marshal(richtext.ParagraphDocument(buf.String()))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

