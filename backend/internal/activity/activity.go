// Package activity classifies edit steps into human-meaningful activity
// records for the history sidebar.
package activity

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"neodocs/backend/internal/richtext"
)

type Type string

const (
	DocumentOpened  Type = "document_opened"
	TextInserted    Type = "text_inserted"
	TextAdded       Type = "text_added"
	TextDeleted     Type = "text_deleted"
	TextFormatted   Type = "text_formatted"
	HeadingAdded    Type = "heading_added"
	ListCreated     Type = "list_created"
	UserJoined      Type = "user_joined"
	UserLeft        Type = "user_left"
	DocumentCreated Type = "document_created"
	DocumentUpdated Type = "document_updated"
)

const (
	shortInsertLen = 3
	previewLen     = 50
)

type Metadata struct {
	Text       string `json:"text,omitempty"`
	TextLength int    `json:"textLength,omitempty"`
	Position   *int   `json:"position,omitempty"`
	Format     string `json:"format,omitempty"`
	NodeType   string `json:"nodeType,omitempty"`
	Level      int    `json:"level,omitempty"`
	SocketID   string `json:"socketId,omitempty"`
}

type Activity struct {
	Type        Type     `json:"type"`
	Description string   `json:"description"`
	Metadata    Metadata `json:"metadata"`
}

// Derive returns one activity per classifiable replace step, in step order.
// Steps that match no rule are dropped.
func Derive(steps []richtext.Step, userID string) []Activity {
	var out []Activity
	for _, step := range steps {
		if !step.IsReplace() {
			continue
		}
		if a, ok := classify(step); ok {
			out = append(out, a)
		}
	}
	return out
}

// Presence builds the join/leave activity the gateway broadcasts itself.
func Presence(t Type, socketID string) Activity {
	desc := "joined the document"
	if t == UserLeft {
		desc = "left the document"
	}
	return Activity{Type: t, Description: desc, Metadata: Metadata{SocketID: socketID}}
}

func classify(step richtext.Step) (Activity, bool) {
	from, to := step.From, step.To
	pos := from

	var (
		text       strings.Builder
		formatting bool
		format     string
	)
	collect := func(n richtext.Node) {
		if n.Type != richtext.TypeText {
			return
		}
		text.WriteString(n.Text)
		if n.Marks != nil {
			formatting = true
			format = "unknown"
			if len(n.Marks) > 0 && n.Marks[0].Type != "" {
				format = n.Marks[0].Type
			}
		}
	}

	if step.Slice != nil {
		for _, node := range step.Slice.Content {
			if len(node.Content) > 0 {
				for _, child := range node.Content {
					collect(child)
				}
			} else {
				collect(node)
			}

			switch {
			case node.Type == richtext.TypeHeading:
				level := node.IntAttr("level", 1)
				return Activity{
					Type:        HeadingAdded,
					Description: fmt.Sprintf("Added heading level %d", level),
					Metadata:    Metadata{NodeType: "heading", Level: level, Text: text.String(), Position: &pos},
				}, true
			case node.IsList():
				return Activity{
					Type:        ListCreated,
					Description: "Created " + strings.Replace(node.Type, "_", " ", 1),
					Metadata:    Metadata{NodeType: "list", Text: text.String(), Position: &pos},
				}, true
			}
		}
	}

	inserted := text.String()
	n := utf8.RuneCountInString(inserted)

	switch {
	case formatting:
		return Activity{
			Type:        TextFormatted,
			Description: fmt.Sprintf("Applied %s formatting", format),
			Metadata:    Metadata{Format: format, Text: inserted, Position: &pos, TextLength: n},
		}, true
	case to > from && inserted == "":
		deleted := to - from
		return Activity{
			Type:        TextDeleted,
			Description: fmt.Sprintf("Deleted %d %s", deleted, plural(deleted)),
			Metadata:    Metadata{Position: &pos, TextLength: deleted},
		}, true
	case inserted != "" && to == from:
		if n <= shortInsertLen {
			return Activity{
				Type:        TextInserted,
				Description: fmt.Sprintf("Inserted text: \"%s\"", inserted),
				Metadata:    Metadata{Text: inserted, Position: &pos, TextLength: n},
			}, true
		}
		return Activity{
			Type:        TextAdded,
			Description: fmt.Sprintf("Added %d characters of text", n),
			Metadata:    Metadata{Text: Preview(inserted, previewLen), Position: &pos, TextLength: n},
		}, true
	case inserted != "" && to > from:
		deleted := to - from
		return Activity{
			Type:        TextInserted,
			Description: fmt.Sprintf("Replaced %d %s with \"%s\"", deleted, plural(deleted), inserted),
			Metadata:    Metadata{Text: inserted, Position: &pos, TextLength: n},
		}, true
	}
	return Activity{}, false
}

// Preview cuts s to max runes, marking the cut with "...".
func Preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

func plural(n int) string {
	if n > 1 {
		return "characters"
	}
	return "character"
}
