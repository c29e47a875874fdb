package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"strings"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
)

// Reader reads one decoded Message per call from an underlying stream.
// A closed stream is reported as errors.TransportClosedError.
type Reader interface {
	Read() (Message, error)
}

// Writer writes one Message per call. Writers are not safe for concurrent
// use; callers serialize writes so that frames never interleave.
type Writer interface {
	Write(Message) error
}

// Framer pairs a Reader and Writer for one framing discipline.
type Framer interface {
	Reader(r io.Reader) Reader
	Writer(w io.Writer) Writer
}

const headerContentLength = "Content-Length"

// ContentLengthFramer frames messages the way LSP does over stdio: a block
// of HTTP-like headers terminated by an empty line, with a mandatory
// Content-Length giving the byte length of the UTF-8 JSON body.
type ContentLengthFramer struct{}

// Reader implements Framer.
func (ContentLengthFramer) Reader(r io.Reader) Reader {
	return &contentLengthReader{in: bufio.NewReader(r)}
}

// Writer implements Framer.
func (ContentLengthFramer) Writer(w io.Writer) Writer {
	return &contentLengthWriter{out: w}
}

type contentLengthReader struct {
	in *bufio.Reader
}

func (r *contentLengthReader) Read() (Message, error) {
	for {
		length := -1
		for {
			line, err := r.in.ReadString('\n')
			if err != nil {
				return nil, closedOr(err)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			name, value, found := strings.Cut(line, ":")
			if !found {
				return nil, &DecodeError{Reason: fmt.Sprintf("malformed header line %q", line)}
			}
			// Content-Type and any other headers are ignored.
			if strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
				length, err = strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, &DecodeError{Reason: "invalid Content-Length", Err: err}
				}
			}
		}
		if length < 0 {
			return nil, &DecodeError{Reason: "missing Content-Length header"}
		}
		if length == 0 {
			// An empty frame carries nothing worth failing the stream over.
			continue
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(r.in, body); err != nil {
			return nil, closedOr(err)
		}
		return Decode(body)
	}
}

type contentLengthWriter struct {
	out io.Writer
}

func (w *contentLengthWriter) Write(m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	// Header and body go out in a single Write so the frame stays contiguous
	// even without caller-side locking.
	frame := make([]byte, 0, len(body)+64)
	frame = append(frame, fmt.Sprintf("%s: %d\r\n\r\n", headerContentLength, len(body))...)
	frame = append(frame, body...)
	_, err = w.out.Write(frame)
	return err
}

// NDJSONFramer frames messages as newline-delimited JSON, one complete
// object per line. Used by the outer tool protocol over stdio.
type NDJSONFramer struct{}

// Reader implements Framer.
func (NDJSONFramer) Reader(r io.Reader) Reader {
	return &ndjsonReader{in: json.NewDecoder(r)}
}

// Writer implements Framer.
func (NDJSONFramer) Writer(w io.Writer) Writer {
	return &ndjsonWriter{out: w}
}

type ndjsonReader struct {
	in *json.Decoder // relies on json.Decoder message boundaries
}

func (r *ndjsonReader) Read() (Message, error) {
	var raw json.RawMessage
	if err := r.in.Decode(&raw); err != nil {
		return nil, closedOr(err)
	}
	return Decode(raw)
}

type ndjsonWriter struct {
	out io.Writer
}

func (w *ndjsonWriter) Write(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.out.Write(data)
	return err
}

// closedOr maps end-of-stream conditions onto TransportClosedError and
// passes every other error through.
func closedOr(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, fs.ErrClosed),
		errors.Is(err, net.ErrClosed):
		return ierrors.TransportClosedError
	}
	return err
}
