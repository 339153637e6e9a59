package collab

import (
	"neodocs/backend/internal/ot/delta"
)

// Buffer is the plain-text buffer the step-replay fallback edits.
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}

/*
Piece table layout

Starting text "Hello world":

- original buffer: "Hello world"
- add buffer:      ""
- pieces:

[ (orig, offset=0, length=11) ]

Inserting " collaborative" at 5 appends to the add buffer and splits the piece:

[
  (orig, offset=0, length=5),   // "Hello"
  (add,  offset=0, length=14),  // " collaborative"
  (orig, offset=5, length=6),   // " world"
]
*/
