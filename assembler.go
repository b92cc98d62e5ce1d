package duckchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	framePrefix = "data: "
	readSize    = 4096
)

var (
	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
)

// assembler turns event-stream chunks into content deltas and accumulates
// them into the assistant reply. Bytes are held only until the next frame
// delimiter so a frame split across chunks is still recognised.
type assembler struct {
	pending []byte
	content strings.Builder
}

func newAssembler() *assembler {
	return &assembler{}
}

// Write consumes one chunk and returns the deltas of the frames it completed,
// in arrival order.
func (a *assembler) Write(chunk []byte) []string {
	a.pending = append(a.pending, chunk...)
	if bytes.Contains(a.pending, crlf) {
		a.pending = bytes.ReplaceAll(a.pending, crlf, []byte("\n"))
	}

	var deltas []string
	for {
		i := bytes.Index(a.pending, frameDelimiter)
		if i < 0 {
			break
		}
		if delta, ok := a.frame(a.pending[:i]); ok {
			deltas = append(deltas, delta)
		}
		a.pending = a.pending[i+len(frameDelimiter):]
	}

	if len(a.pending) == 0 {
		a.pending = nil
	}
	return deltas
}

// Flush handles a trailing frame that was not followed by a delimiter.
func (a *assembler) Flush() []string {
	if len(a.pending) == 0 {
		return nil
	}
	frame := a.pending
	a.pending = nil
	if delta, ok := a.frame(frame); ok {
		return []string{delta}
	}
	return nil
}

// Content returns the text accumulated so far.
func (a *assembler) Content() string {
	return a.content.String()
}

// frame parses one frame. Frames without the data prefix, empty payloads,
// JSON null and non-JSON payloads are dropped.
func (a *assembler) frame(raw []byte) (string, bool) {
	s := strings.TrimLeft(string(raw), "\r\n")
	payload, ok := strings.CutPrefix(s, framePrefix)
	if !ok {
		return "", false
	}
	payload = strings.TrimRight(payload, "\r")
	if strings.TrimSpace(payload) == "" {
		return "", false
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil || v == nil {
		return "", false
	}

	var delta string
	if obj, ok := v.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok {
			delta = msg
		}
	}

	a.content.WriteString(delta)
	return delta, true
}

// readStream drives an assembler over body, calling emit for every delta.
// It returns the assembled content, or a StreamReadError carrying the partial
// content when a read fails.
func readStream(ctx context.Context, body io.Reader, emit func(string)) (string, error) {
	a := newAssembler()
	buf := make([]byte, readSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, delta := range a.Write(buf[:n]) {
				emit(delta)
			}
		}

		if errors.Is(err, io.EOF) {
			for _, delta := range a.Flush() {
				emit(delta)
			}
			return a.Content(), nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = errors.Join(ctxErr, err)
			}
			return "", &StreamReadError{Err: err, Partial: a.Content()}
		}
	}
}
