package langserver

import (
	"bytes"
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Hover returns hover content at a position, or nil when the server has
// nothing to show.
func (s *Session) Hover(ctx context.Context, docURI uri.URI, pos protocol.Position) (*protocol.Hover, error) {
	if err := s.requireOpen(docURI); err != nil {
		return nil, err
	}

	params := protocol.HoverParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}
	var result *protocol.Hover
	if err := s.conn.Call(ctx, protocol.MethodTextDocumentHover, &params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Definition resolves the definition locations for the symbol at a position.
// A null response decodes to an empty slice.
func (s *Session) Definition(ctx context.Context, docURI uri.URI, pos protocol.Position) ([]protocol.Location, error) {
	if err := s.requireOpen(docURI); err != nil {
		return nil, err
	}

	params := protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}
	var result []protocol.Location
	if err := s.conn.Call(ctx, protocol.MethodTextDocumentDefinition, &params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// References lists all references to the symbol at a position.
func (s *Session) References(ctx context.Context, docURI uri.URI, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	if err := s.requireOpen(docURI); err != nil {
		return nil, err
	}

	params := protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
		Context: protocol.ReferenceContext{
			IncludeDeclaration: includeDeclaration,
		},
	}
	var result []protocol.Location
	if err := s.conn.Call(ctx, protocol.MethodTextDocumentReferences, &params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentSymbols returns the symbol outline of a document. Servers honoring
// the hierarchical capability reply with DocumentSymbol values; flat
// SymbolInformation replies are converted to top-level entries.
func (s *Session) DocumentSymbols(ctx context.Context, docURI uri.URI) ([]protocol.DocumentSymbol, error) {
	if err := s.requireOpen(docURI); err != nil {
		return nil, err
	}

	params := protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	var raw json.RawMessage
	if err := s.conn.Call(ctx, protocol.MethodTextDocumentDocumentSymbol, &params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var symbols []protocol.DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err == nil {
		return symbols, nil
	}

	var flat []protocol.SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	symbols = make([]protocol.DocumentSymbol, 0, len(flat))
	for _, info := range flat {
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           info.Name,
			Kind:           info.Kind,
			Range:          info.Location.Range,
			SelectionRange: info.Location.Range,
		})
	}
	return symbols, nil
}

// WorkspaceSymbols searches symbols across the workspace.
func (s *Session) WorkspaceSymbols(ctx context.Context, query string) ([]protocol.SymbolInformation, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	params := protocol.WorkspaceSymbolParams{Query: query}
	var result []protocol.SymbolInformation
	if err := s.conn.Call(ctx, protocol.MethodWorkspaceSymbol, &params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Completion returns completion proposals at a position. List and bare-array
// server replies both decode into a CompletionList.
func (s *Session) Completion(ctx context.Context, docURI uri.URI, pos protocol.Position) (*protocol.CompletionList, error) {
	if err := s.requireOpen(docURI); err != nil {
		return nil, err
	}

	params := protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}
	var raw json.RawMessage
	if err := s.conn.Call(ctx, protocol.MethodTextDocumentCompletion, &params, &raw); err != nil {
		return nil, err
	}

	list := &protocol.CompletionList{}
	if len(raw) == 0 {
		return list, nil
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &list.Items); err != nil {
			return nil, err
		}
		return list, nil
	}
	if err := json.Unmarshal(raw, list); err != nil {
		return nil, err
	}
	return list, nil
}

func positionParams(docURI uri.URI, pos protocol.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Position:     pos,
	}
}
