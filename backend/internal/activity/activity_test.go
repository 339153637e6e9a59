package activity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neodocs/backend/internal/richtext"
)

func replace(from, to int, nodes ...richtext.Node) richtext.Step {
	s := richtext.Step{StepType: richtext.StepReplace, From: from, To: to}
	if len(nodes) > 0 {
		s.Slice = &richtext.Slice{Content: nodes}
	}
	return s
}

func text(s string, marks ...string) richtext.Node {
	n := richtext.Node{Type: richtext.TypeText, Text: s}
	for _, m := range marks {
		n.Marks = append(n.Marks, richtext.Mark{Type: m})
	}
	return n
}

func TestDerive_Rules(t *testing.T) {
	long := strings.Repeat("abcdefghij", 6)

	tests := []struct {
		name     string
		step     richtext.Step
		wantType Type
		wantDesc string
		check    func(t *testing.T, m Metadata)
	}{
		{
			name:     "short insert",
			step:     replace(4, 4, text("h")),
			wantType: TextInserted,
			wantDesc: `Inserted text: "h"`,
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, "h", m.Text)
				assert.Equal(t, 1, m.TextLength)
				require.NotNil(t, m.Position)
				assert.Equal(t, 4, *m.Position)
			},
		},
		{
			name:     "long insert",
			step:     replace(1, 1, richtext.Node{Type: richtext.TypeParagraph, Content: []richtext.Node{text(long)}}),
			wantType: TextAdded,
			wantDesc: "Added 60 characters of text",
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, long[:50]+"...", m.Text)
				assert.Equal(t, 60, m.TextLength)
			},
		},
		{
			name:     "delete",
			step:     replace(3, 8),
			wantType: TextDeleted,
			wantDesc: "Deleted 5 characters",
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, 5, m.TextLength)
			},
		},
		{
			name:     "delete one",
			step:     replace(3, 4),
			wantType: TextDeleted,
			wantDesc: "Deleted 1 character",
		},
		{
			name: "heading wins over long text",
			step: replace(1, 1, richtext.Node{
				Type:    richtext.TypeHeading,
				Attrs:   map[string]any{"level": float64(2)},
				Content: []richtext.Node{text(long)},
			}),
			wantType: HeadingAdded,
			wantDesc: "Added heading level 2",
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, 2, m.Level)
				assert.Equal(t, "heading", m.NodeType)
				assert.Equal(t, long, m.Text)
			},
		},
		{
			name:     "heading default level",
			step:     replace(1, 1, richtext.Node{Type: richtext.TypeHeading}),
			wantType: HeadingAdded,
			wantDesc: "Added heading level 1",
		},
		{
			name:     "list",
			step:     replace(1, 1, richtext.Node{Type: richtext.TypeBulletList}),
			wantType: ListCreated,
			wantDesc: "Created bullet list",
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, "list", m.NodeType)
			},
		},
		{
			name:     "formatted",
			step:     replace(2, 5, text("bold", "strong", "em")),
			wantType: TextFormatted,
			wantDesc: "Applied strong formatting",
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, "strong", m.Format)
				assert.Equal(t, 4, m.TextLength)
			},
		},
		{
			name:     "replace",
			step:     replace(2, 5, text("yo")),
			wantType: TextInserted,
			wantDesc: `Replaced 3 characters with "yo"`,
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, "yo", m.Text)
				assert.Equal(t, 2, m.TextLength)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive([]richtext.Step{tc.step}, "u1")
			require.Len(t, got, 1)
			assert.Equal(t, tc.wantType, got[0].Type)
			assert.Equal(t, tc.wantDesc, got[0].Description)
			if tc.check != nil {
				tc.check(t, got[0].Metadata)
			}
		})
	}
}

func TestDerive_DropsUnclassifiable(t *testing.T) {
	steps := []richtext.Step{
		replace(3, 3),
		{StepType: "addMark", From: 1, To: 4},
		replace(3, 3, richtext.Node{Type: richtext.TypeParagraph}),
		replace(1, 1, text("ok")),
	}
	got := Derive(steps, "u1")
	require.Len(t, got, 1)
	assert.Equal(t, TextInserted, got[0].Type)
}

func TestDerive_NoSteps(t *testing.T) {
	assert.Empty(t, Derive(nil, "u1"))
}

func TestPresence(t *testing.T) {
	a := Presence(UserLeft, "sock-1")
	assert.Equal(t, UserLeft, a.Type)
	assert.Equal(t, "left the document", a.Description)
	assert.Equal(t, "sock-1", a.Metadata.SocketID)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("abc", 5))
	assert.Equal(t, "ééé...", Preview("éééé", 3))
}
