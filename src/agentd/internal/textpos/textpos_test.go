package textpos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func TestRoundTrip(t *testing.T) {
	content := "package a\n\nfunc b() {}\n"
	m := NewMapper([]byte(content))

	tests := []struct {
		name   string
		offset int
		want   protocol.Position
	}{
		{name: "start of file", offset: 0, want: protocol.Position{Line: 0, Character: 0}},
		{name: "mid first line", offset: 8, want: protocol.Position{Line: 0, Character: 8}},
		{name: "empty line", offset: 10, want: protocol.Position{Line: 1, Character: 0}},
		{name: "third line", offset: 16, want: protocol.Position{Line: 2, Character: 5}},
		{name: "end of file", offset: len(content), want: protocol.Position{Line: 3, Character: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := m.OffsetPosition(tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pos)

			back, err := m.PositionOffset(pos)
			require.NoError(t, err)
			assert.Equal(t, tt.offset, back)
		})
	}
}

func TestUTF16Columns(t *testing.T) {
	// "😀" is a surrogate pair in UTF-16 (2 code units, 4 UTF-8 bytes).
	m := NewMapper([]byte("a😀b\n"))

	pos, err := m.OffsetPosition(5) // offset of 'b'
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 0, Character: 3}, pos)

	offset, err := m.PositionOffset(pos)
	require.NoError(t, err)
	assert.Equal(t, 5, offset)
}

func TestOutOfRange(t *testing.T) {
	m := NewMapper([]byte("one\ntwo\n"))

	_, err := m.OffsetPosition(100)
	assert.Error(t, err)

	_, err = m.PositionOffset(protocol.Position{Line: 9, Character: 0})
	assert.Error(t, err)

	_, err = m.PositionOffset(protocol.Position{Line: 0, Character: 50})
	assert.Error(t, err)
}
