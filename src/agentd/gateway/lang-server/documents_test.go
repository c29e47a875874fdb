package langserver

import (
	"bytes"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/internal/textpos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// applyContentChanges replays change events the way a server would, each
// range interpreted against the document state after the previous change.
func applyContentChanges(t *testing.T, text string, changes []protocol.TextDocumentContentChangeEvent) string {
	t.Helper()
	content := []byte(text)
	for _, change := range changes {
		require.NotNil(t, change.Range)
		m := textpos.NewMapper(content)
		start, err := m.PositionOffset(change.Range.Start)
		require.NoError(t, err)
		end, err := m.PositionOffset(change.Range.End)
		require.NoError(t, err)

		var buf bytes.Buffer
		buf.Write(content[:start])
		buf.WriteString(change.Text)
		buf.Write(content[end:])
		content = buf.Bytes()
	}
	return string(content)
}

func TestContentChanges(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
	}{
		{
			name:    "append at end",
			oldText: "package main\n",
			newText: "package main\n\nfunc main() {}\n",
		},
		{
			name:    "insert in middle",
			oldText: "func main() {}\n",
			newText: "func main() { run() }\n",
		},
		{
			name:    "delete lines",
			oldText: "a\nb\nc\nd\n",
			newText: "a\nd\n",
		},
		{
			name:    "delete then insert later",
			oldText: "alpha\nbeta\ngamma\n",
			newText: "alpha\ngamma\ndelta\n",
		},
		{
			name:    "replace everything",
			oldText: "old content\n",
			newText: "completely different\n",
		},
		{
			name:    "multibyte text",
			oldText: "greeting := \"hello\"\n",
			newText: "greeting := \"héllo 😀\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := contentChanges(tt.oldText, tt.newText)
			require.NoError(t, err)
			require.NotEmpty(t, changes)
			assert.Equal(t, tt.newText, applyContentChanges(t, tt.oldText, changes))
		})
	}
}
