package sensorio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/floatbase/internal/measurements"
)

// Source yields one frame per control cycle. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (measurements.Frame, error)
}

// maxLineSize bounds one encoded frame.
const maxLineSize = 1 << 20

// JSONLinesSource decodes newline-delimited JSON frames. Blank lines and
// lines starting with '#' are skipped.
type JSONLinesSource struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	line    int
	closer  io.Closer
}

// NewJSONLinesSource reads frames from r. If r is an io.Closer it is
// closed by Close.
func NewJSONLinesSource(r io.Reader) *JSONLinesSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s := &JSONLinesSource{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next decodes the next frame.
func (s *JSONLinesSource) Next() (measurements.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.scanner.Scan() {
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var w wireFrame
		if err := json.Unmarshal(raw, &w); err != nil {
			return measurements.Frame{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		f, err := w.frame()
		if err != nil {
			return measurements.Frame{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return f, nil
	}
	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return measurements.Frame{}, fmt.Errorf("line %d: frame larger than %d bytes", s.line+1, maxLineSize)
		}
		return measurements.Frame{}, err
	}
	return measurements.Frame{}, io.EOF
}

// Close closes the underlying reader when it supports it.
func (s *JSONLinesSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// FrameWriter encodes frames in the format read by JSONLinesSource.
type FrameWriter struct {
	enc *json.Encoder
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{enc: json.NewEncoder(w)}
}

func (w *FrameWriter) Write(f measurements.Frame) error {
	return w.enc.Encode(encodeFrame(f))
}
