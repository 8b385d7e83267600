// Package csv reads delimited text sources one line at a time.
//
// It has two halves: a line source that streams a file (or any
// io.ReadCloser) as numbered lines without loading it into memory, and
// ParseLine, which turns a single line into fields. The package also writes
// failed-row reports for rejected input.
package csv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultMaxLineBytes is the longest line the line source accepts.
const DefaultMaxLineBytes = 1 << 20

var (
	// ErrOpen wraps every failure to open a source. The underlying fs
	// error is wrapped too, so errors.Is(err, fs.ErrNotExist) works.
	ErrOpen = errors.New("open source")

	// ErrLineTooLong is the read fault reported for a line longer than
	// the configured maximum.
	ErrLineTooLong = errors.New("line too long")

	errIsDir = errors.New("is a directory")
)

// Line is one physical line of input. Number is 1-based.
type Line struct {
	Number int
	Text   string
}

// LineOption configures a LineReader.
type LineOption func(*LineReader)

// WithMaxLineBytes sets the longest accepted line. Values <= 0 keep the
// default.
func WithMaxLineBytes(n int) LineOption {
	return func(r *LineReader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// LineReader owns an input stream and hands it out as a lazy sequence of
// lines. It is single-use: Lines may be ranged over once.
type LineReader struct {
	name    string
	stream  *stream
	counter *CountingReader
	maxLine int

	used bool
	err  error

	closed atomic.Bool
}

// stream closes the underlying reader exactly once. It lives apart from
// LineReader so the GC cleanup can hold it without keeping the reader
// reachable.
type stream struct {
	rc   io.ReadCloser
	once sync.Once
	err  error
}

func (s *stream) close() error {
	s.once.Do(func() { s.err = s.rc.Close() })
	return s.err
}

// Open opens path for line-by-line reading. Failures are reported here,
// before any line is produced, and wrap ErrOpen.
func Open(path string, opts ...LineOption) (*LineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrOpen, path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, errIsDir)
	}

	return NewLineReader(path, f, info.Size(), opts...), nil
}

// NewLineReader wraps an already open stream. name is used in error
// messages and size (0 if unknown) for progress reporting. The reader takes
// ownership of rc and closes it. A reader dropped without being ranged
// over or closed still releases rc once it is garbage collected.
func NewLineReader(name string, rc io.ReadCloser, size int64, opts ...LineOption) *LineReader {
	r := &LineReader{
		name:    name,
		stream:  &stream{rc: rc},
		counter: WrapForStreaming(rc, size),
		maxLine: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	runtime.AddCleanup(r, func(s *stream) { _ = s.close() }, r.stream)
	return r
}

// Name returns the name the reader was created with.
func (r *LineReader) Name() string {
	return r.name
}

// Lines returns the lazy line sequence. Both LF and CRLF end a line and the
// terminator is not included in Text.
//
// The underlying stream is closed when the sequence ends for any reason:
// input exhausted, read fault, or the consumer stopping early. A second
// call to Lines yields nothing.
func (r *LineReader) Lines() iter.Seq[Line] {
	return func(yield func(Line) bool) {
		if r.used || r.closed.Load() {
			return
		}
		r.used = true
		defer r.Close()

		sc := bufio.NewScanner(r.counter)
		sc.Buffer(make([]byte, 0, min(64*1024, r.maxLine)), r.maxLine)

		n := 0
		for sc.Scan() {
			n++
			if !yield(Line{Number: n, Text: sc.Text()}) {
				return
			}
		}

		if err := sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = fmt.Errorf("%w (max %d bytes)", ErrLineTooLong, r.maxLine)
			}
			r.err = fmt.Errorf("read %s after line %d: %w", r.name, n, err)
		}
	}
}

// Err returns the fault that ended the sequence, or nil if the input was
// read to the end (or the consumer stopped early).
func (r *LineReader) Err() error {
	return r.err
}

// Close releases the underlying stream. It is safe to call more than once.
func (r *LineReader) Close() error {
	r.closed.Store(true)
	return r.stream.close()
}

// Closed reports whether the underlying stream has been released.
func (r *LineReader) Closed() bool {
	return r.closed.Load()
}

// BytesRead returns the number of (sanitised) bytes consumed so far.
func (r *LineReader) BytesRead() int64 {
	return r.counter.BytesRead()
}

// Progress returns the read progress as a percentage, 0 if the size is
// unknown.
func (r *LineReader) Progress() int {
	return r.counter.Progress()
}
