// Package textpos converts between byte offsets and LSP positions, whose
// character column counts UTF-16 code units.
package textpos

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"go.lsp.dev/protocol"
)

// Mapper performs offset and position conversions for one immutable snapshot
// of document content. Build a new Mapper per document version.
type Mapper struct {
	content   []byte
	lineStart []int // byte offset of the start of each 0-based line
	nonASCII  bool
}

// NewMapper indexes content for conversions.
func NewMapper(content []byte) *Mapper {
	m := &Mapper{content: content, lineStart: []int{0}}
	for offset, b := range content {
		if b == '\n' {
			m.lineStart = append(m.lineStart, offset+1)
		}
		if b >= utf8.RuneSelf {
			m.nonASCII = true
		}
	}
	return m
}

// PositionOffset converts an LSP position to a byte offset.
func (m *Mapper) PositionOffset(p protocol.Position) (int, error) {
	if int(p.Line) >= len(m.lineStart) {
		if int(p.Line) == len(m.lineStart) && p.Character == 0 {
			return len(m.content), nil
		}
		return 0, fmt.Errorf("line %d out of range 0-%d", p.Line, len(m.lineStart)-1)
	}

	offset := m.lineStart[p.Line]
	rest := m.content[offset:]
	col8 := 0
	for col16 := 0; col16 < int(p.Character); col16++ {
		r, size := utf8.DecodeRune(rest)
		if size == 0 || r == '\n' {
			return 0, fmt.Errorf("character %d is beyond end of line %d", p.Character, p.Line)
		}
		if r >= 0x10000 {
			// Encoded as a surrogate pair in UTF-16.
			col16++
			if col16 == int(p.Character) {
				break
			}
		}
		col8 += size
		rest = rest[size:]
	}
	return offset + col8, nil
}

// OffsetPosition converts a byte offset to an LSP position.
func (m *Mapper) OffsetPosition(offset int) (protocol.Position, error) {
	if offset < 0 || offset > len(m.content) {
		return protocol.Position{}, fmt.Errorf("offset %d out of range 0-%d", offset, len(m.content))
	}

	// First line whose start is past the offset, minus one.
	line := sort.Search(len(m.lineStart), func(i int) bool {
		return offset < m.lineStart[i]
	}) - 1

	start := m.lineStart[line]
	col16 := offset - start
	if m.nonASCII {
		col16 = utf16Len(m.content[start:offset])
	}
	return protocol.Position{Line: uint32(line), Character: uint32(col16)}, nil
}

func utf16Len(b []byte) int {
	n := 0
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		n++
		if r >= 0x10000 {
			n++
		}
		b = b[size:]
	}
	return n
}
