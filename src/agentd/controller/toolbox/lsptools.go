package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlaslab/agentd/src/agentd/entity"
	langserver "github.com/atlaslab/agentd/src/agentd/gateway/lang-server"
	"github.com/atlaslab/agentd/src/agentd/internal/fs"
	"github.com/atlaslab/agentd/src/agentd/repository/session"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// positionSchema is shared by the document-position tools.
const positionSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path of the source file."},
		"line": {"type": "integer", "description": "Zero-based line number."},
		"character": {"type": "integer", "description": "Zero-based character offset."},
		"language": {"type": "string", "description": "Language identifier, e.g. \"go\"."},
		"workspace_root": {"type": "string", "description": "Workspace root directory. Defaults to the daemon's working directory."}
	},
	"required": ["path", "line", "character", "language"]
}`

// lspTool carries the dependencies shared by the language intelligence tools.
type lspTool struct {
	sessions session.Repository
	fs       fs.AgentFS
}

// query resolves the target session and makes sure the requested document is
// open with current file content.
func (t *lspTool) query(ctx context.Context, args map[string]interface{}) (*langserver.Session, uri.URI, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, "", err
	}
	language, err := stringArg(args, "language")
	if err != nil {
		return nil, "", err
	}
	workspaceRoot, err := optionalStringArg(args, "workspace_root", "")
	if err != nil {
		return nil, "", err
	}
	if workspaceRoot == "" {
		if workspaceRoot, err = os.Getwd(); err != nil {
			return nil, "", err
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}

	sess, err := t.sessions.GetOrCreate(ctx, workspaceRoot, protocol.LanguageIdentifier(language))
	if err != nil {
		return nil, "", err
	}

	content, err := t.fs.ReadFile(absPath)
	if err != nil {
		return nil, "", err
	}

	docURI := uri.File(absPath)
	if sess.IsDocumentOpen(docURI) {
		err = sess.UpdateDocument(ctx, docURI, string(content))
	} else {
		err = sess.OpenDocument(ctx, docURI, string(content))
	}
	if err != nil {
		return nil, "", err
	}
	return sess, docURI, nil
}

func positionArg(args map[string]interface{}) (protocol.Position, error) {
	line, err := intArg(args, "line")
	if err != nil {
		return protocol.Position{}, err
	}
	character, err := intArg(args, "character")
	if err != nil {
		return protocol.Position{}, err
	}
	return protocol.Position{Line: uint32(line), Character: uint32(character)}, nil
}

// formatLocations renders locations as file:line:character, one per line,
// with one-based coordinates.
func formatLocations(locations []protocol.Location) string {
	if len(locations) == 0 {
		return "no results"
	}
	var b strings.Builder
	for _, loc := range locations {
		fmt.Fprintf(&b, "%s:%d:%d\n", loc.URI.Filename(), loc.Range.Start.Line+1, loc.Range.Start.Character+1)
	}
	return b.String()
}

type hoverTool struct {
	lspTool
}

// NewHoverTool returns the hover tool.
func NewHoverTool(sessions session.Repository, agentFS fs.AgentFS) entity.Tool {
	return &hoverTool{lspTool{sessions: sessions, fs: agentFS}}
}

func (t *hoverTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "hover",
		Description: "Show documentation and type information for the symbol at a position.",
		InputSchema: json.RawMessage(positionSchema),
	}
}

func (t *hoverTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	sess, docURI, err := t.query(ctx, args)
	if err != nil {
		return "", err
	}
	pos, err := positionArg(args)
	if err != nil {
		return "", err
	}
	hover, err := sess.Hover(ctx, docURI, pos)
	if err != nil {
		return "", err
	}
	if hover == nil || hover.Contents.Value == "" {
		return "no hover information", nil
	}
	return hover.Contents.Value, nil
}

type definitionTool struct {
	lspTool
}

// NewDefinitionTool returns the definition tool.
func NewDefinitionTool(sessions session.Repository, agentFS fs.AgentFS) entity.Tool {
	return &definitionTool{lspTool{sessions: sessions, fs: agentFS}}
}

func (t *definitionTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "definition",
		Description: "Find where the symbol at a position is defined.",
		InputSchema: json.RawMessage(positionSchema),
	}
}

func (t *definitionTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	sess, docURI, err := t.query(ctx, args)
	if err != nil {
		return "", err
	}
	pos, err := positionArg(args)
	if err != nil {
		return "", err
	}
	locations, err := sess.Definition(ctx, docURI, pos)
	if err != nil {
		return "", err
	}
	return formatLocations(locations), nil
}

type referencesTool struct {
	lspTool
}

// NewReferencesTool returns the references tool.
func NewReferencesTool(sessions session.Repository, agentFS fs.AgentFS) entity.Tool {
	return &referencesTool{lspTool{sessions: sessions, fs: agentFS}}
}

func (t *referencesTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "references",
		Description: "List all references to the symbol at a position.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path of the source file."},
				"line": {"type": "integer", "description": "Zero-based line number."},
				"character": {"type": "integer", "description": "Zero-based character offset."},
				"language": {"type": "string", "description": "Language identifier, e.g. \"go\"."},
				"workspace_root": {"type": "string", "description": "Workspace root directory. Defaults to the daemon's working directory."},
				"include_declaration": {"type": "boolean", "description": "Include the declaration itself. Defaults to true."}
			},
			"required": ["path", "line", "character", "language"]
		}`),
	}
}

func (t *referencesTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	sess, docURI, err := t.query(ctx, args)
	if err != nil {
		return "", err
	}
	pos, err := positionArg(args)
	if err != nil {
		return "", err
	}
	includeDeclaration, err := boolArg(args, "include_declaration", true)
	if err != nil {
		return "", err
	}
	locations, err := sess.References(ctx, docURI, pos, includeDeclaration)
	if err != nil {
		return "", err
	}
	return formatLocations(locations), nil
}

type documentSymbolsTool struct {
	lspTool
}

// NewDocumentSymbolsTool returns the document_symbols tool.
func NewDocumentSymbolsTool(sessions session.Repository, agentFS fs.AgentFS) entity.Tool {
	return &documentSymbolsTool{lspTool{sessions: sessions, fs: agentFS}}
}

func (t *documentSymbolsTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "document_symbols",
		Description: "Outline the symbols declared in a source file.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path of the source file."},
				"language": {"type": "string", "description": "Language identifier, e.g. \"go\"."},
				"workspace_root": {"type": "string", "description": "Workspace root directory. Defaults to the daemon's working directory."}
			},
			"required": ["path", "language"]
		}`),
	}
}

func (t *documentSymbolsTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	sess, docURI, err := t.query(ctx, args)
	if err != nil {
		return "", err
	}
	symbols, err := sess.DocumentSymbols(ctx, docURI)
	if err != nil {
		return "", err
	}
	if len(symbols) == 0 {
		return "no symbols", nil
	}
	var b strings.Builder
	writeSymbols(&b, symbols, 0)
	return b.String(), nil
}

func writeSymbols(b *strings.Builder, symbols []protocol.DocumentSymbol, depth int) {
	for _, sym := range symbols {
		fmt.Fprintf(b, "%s%s [%s] %d:%d\n",
			strings.Repeat("  ", depth),
			sym.Name,
			symbolKindName(sym.Kind),
			sym.SelectionRange.Start.Line+1,
			sym.SelectionRange.Start.Character+1,
		)
		writeSymbols(b, sym.Children, depth+1)
	}
}

var _symbolKindNames = map[protocol.SymbolKind]string{
	protocol.SymbolKindFile:          "file",
	protocol.SymbolKindModule:        "module",
	protocol.SymbolKindNamespace:     "namespace",
	protocol.SymbolKindPackage:       "package",
	protocol.SymbolKindClass:         "class",
	protocol.SymbolKindMethod:        "method",
	protocol.SymbolKindProperty:      "property",
	protocol.SymbolKindField:         "field",
	protocol.SymbolKindConstructor:   "constructor",
	protocol.SymbolKindEnum:          "enum",
	protocol.SymbolKindInterface:     "interface",
	protocol.SymbolKindFunction:      "function",
	protocol.SymbolKindVariable:      "variable",
	protocol.SymbolKindConstant:      "constant",
	protocol.SymbolKindString:        "string",
	protocol.SymbolKindNumber:        "number",
	protocol.SymbolKindBoolean:       "boolean",
	protocol.SymbolKindArray:         "array",
	protocol.SymbolKindObject:        "object",
	protocol.SymbolKindKey:           "key",
	protocol.SymbolKindNull:          "null",
	protocol.SymbolKindEnumMember:    "enum member",
	protocol.SymbolKindStruct:        "struct",
	protocol.SymbolKindEvent:         "event",
	protocol.SymbolKindOperator:      "operator",
	protocol.SymbolKindTypeParameter: "type parameter",
}

func symbolKindName(kind protocol.SymbolKind) string {
	if name, ok := _symbolKindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind-%d", int(kind))
}
