package collab

import (
	"fmt"
	"strings"

	"neodocs/backend/internal/ot/delta"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable is a rune-indexed Buffer. Edits never copy the original text.
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var b strings.Builder
	for _, p := range pt.pieces {
		b.WriteString(string(pt.runes(p)))
	}
	return b.String()
}

func (pt *PieceTable) runes(p piece) []rune {
	if p.buf == bufAdd {
		return pt.add[p.offset : p.offset+p.length]
	}
	return pt.original[p.offset : p.offset+p.length]
}

// Apply walks d from position 0. Retains past the end clamp to the end,
// deletes past the end stop at the end.
func (pt *PieceTable) Apply(d delta.Delta) error {
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			if op.Count < 0 {
				return fmt.Errorf("negative retain %d", op.Count)
			}
			pos += op.Count
			if n := pt.Len(); pos > n {
				pos = n
			}
		case delta.KindInsert:
			pos += pt.insert(pos, op.Text)
		case delta.KindDelete:
			if op.Count < 0 {
				return fmt.Errorf("negative delete %d", op.Count)
			}
			pt.delete(pos, op.Count)
		default:
			return fmt.Errorf("unknown delta op %q", op.Kind)
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text string) int {
	r := []rune(text)
	if len(r) == 0 {
		return 0
	}
	added := piece{buf: bufAdd, offset: len(pt.add), length: len(r)}
	pt.add = append(pt.add, r...)

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, added)
		return len(r)
	}

	cur := pt.pieces[idx]
	next := make([]piece, 0, len(pt.pieces)+2)
	next = append(next, pt.pieces[:idx]...)
	if offset > 0 {
		next = append(next, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	next = append(next, added)
	if rest := cur.length - offset; rest > 0 {
		next = append(next, piece{buf: cur.buf, offset: cur.offset + offset, length: rest})
	}
	next = append(next, pt.pieces[idx+1:]...)
	pt.pieces = next
	return len(r)
}

func (pt *PieceTable) delete(pos, count int) {
	remain := count
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		take := cur.length - offset
		if take > remain {
			take = remain
		}

		var replacement []piece
		if offset > 0 {
			replacement = append(replacement, piece{buf: cur.buf, offset: cur.offset, length: offset})
		}
		if rest := cur.length - offset - take; rest > 0 {
			replacement = append(replacement, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rest})
		}

		next := make([]piece, 0, len(pt.pieces)+1)
		next = append(next, pt.pieces[:idx]...)
		next = append(next, replacement...)
		next = append(next, pt.pieces[idx+1:]...)
		pt.pieces = next

		remain -= take
		// the left remainder, if any, stays in front of the cursor
		if offset > 0 {
			idx++
		}
		offset = 0
	}
}

// locate maps a logical position to a piece index and the offset inside it.
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
