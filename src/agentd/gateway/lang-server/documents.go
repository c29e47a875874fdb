package langserver

import (
	"context"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/textpos"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// OpenDocument announces a document to the server at version 1.
func (s *Session) OpenDocument(ctx context.Context, docURI uri.URI, text string) error {
	s.mu.Lock()
	if s.state != entity.StateReady {
		state := s.state
		s.mu.Unlock()
		return &ierrors.NotReadyError{State: state}
	}
	if _, ok := s.docs[docURI]; ok {
		s.mu.Unlock()
		return &ierrors.DocumentAlreadyOpenError{URI: docURI}
	}
	s.docs[docURI] = &document{version: 1, text: text}
	s.mu.Unlock()

	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        docURI,
			LanguageID: s.language,
			Version:    1,
			Text:       text,
		},
	}
	if err := s.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, &params); err != nil {
		s.mu.Lock()
		delete(s.docs, docURI)
		s.mu.Unlock()
		return err
	}
	return nil
}

// CloseDocument retracts a document and drops its cached diagnostics.
func (s *Session) CloseDocument(ctx context.Context, docURI uri.URI) error {
	if err := s.requireOpen(docURI); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, docURI)
	delete(s.diagnostics, docURI)
	s.mu.Unlock()

	params := protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	return s.conn.Notify(ctx, protocol.MethodTextDocumentDidClose, &params)
}

// IsDocumentOpen reports whether the document is currently open.
func (s *Session) IsDocumentOpen(docURI uri.URI) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[docURI]
	return ok
}

// DocumentText returns the tracked content of an open document.
func (s *Session) DocumentText(docURI uri.URI) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docURI]
	if !ok {
		return "", &ierrors.DocumentNotOpenError{URI: docURI}
	}
	return doc.text, nil
}

// UpdateDocument replaces a document's content, sending the server an
// incremental didChange computed by diffing the old and new text. The
// version increments once per update.
func (s *Session) UpdateDocument(ctx context.Context, docURI uri.URI, newText string) error {
	if err := s.requireOpen(docURI); err != nil {
		return err
	}

	s.mu.Lock()
	doc := s.docs[docURI]
	oldText := doc.text
	doc.text = newText
	doc.version++
	version := doc.version
	s.mu.Unlock()

	if oldText == newText {
		return nil
	}

	changes, err := contentChanges(oldText, newText)
	if err != nil {
		return err
	}

	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
			Version:                version,
		},
		ContentChanges: changes,
	}
	return s.conn.Notify(ctx, protocol.MethodTextDocumentDidChange, &params)
}

// contentChanges converts a text diff into LSP content change events. Edit
// ranges are computed against the old text and emitted last-to-first, so
// applying them in order never invalidates a later range.
func contentChanges(oldText, newText string) ([]protocol.TextDocumentContentChangeEvent, error) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)

	mapper := textpos.NewMapper([]byte(oldText))

	type edit struct {
		start, end int
		text       string
	}
	edits := make([]edit, 0, len(diffs))
	offset := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += len(d.Text)
		case diffmatchpatch.DiffDelete:
			edits = append(edits, edit{start: offset, end: offset + len(d.Text)})
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			// A delete immediately followed by an insert is a replacement of
			// the same old-text range; folding them keeps edit starts strictly
			// increasing so the reverse emission below stays safe.
			if n := len(edits); n > 0 && edits[n-1].end == offset && edits[n-1].text == "" {
				edits[n-1].text = d.Text
			} else {
				edits = append(edits, edit{start: offset, end: offset, text: d.Text})
			}
		}
	}

	changes := make([]protocol.TextDocumentContentChangeEvent, 0, len(edits))
	for i := len(edits) - 1; i >= 0; i-- {
		start, err := mapper.OffsetPosition(edits[i].start)
		if err != nil {
			return nil, err
		}
		end, err := mapper.OffsetPosition(edits[i].end)
		if err != nil {
			return nil, err
		}
		changes = append(changes, protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{Start: start, End: end},
			Text:  edits[i].text,
		})
	}
	return changes, nil
}
