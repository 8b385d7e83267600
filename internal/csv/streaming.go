package csv

// streaming.go holds the io.Reader wrappers applied to every source before
// it is split into lines. None of them buffer more than one fixed chunk, so
// the line source stays O(longest line) regardless of file size:
//
//   - BOMReader: drops a leading UTF-8 byte order mark (0xEF 0xBB 0xBF)
//   - UTF8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - CountingReader: tracks bytes read for progress reporting
//
// Use WrapForStreaming to apply all three in the right order.

import (
	"io"
	"sync/atomic"
	"unicode/utf8"
)

var utf8BOM = [3]byte{0xEF, 0xBB, 0xBF}

// BOMReader skips a UTF-8 BOM at the start of the wrapped stream.
type BOMReader struct {
	r       io.Reader
	checked bool
	head    []byte // bytes consumed while probing that were not a BOM
	headErr error
}

// NewBOMReader returns a reader that drops a leading UTF-8 BOM.
func NewBOMReader(r io.Reader) *BOMReader {
	return &BOMReader{r: r}
}

// Read implements io.Reader.
func (b *BOMReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		var probe [3]byte
		n, err := io.ReadFull(b.r, probe[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n == 3 && probe == utf8BOM {
			n = 0
		}
		b.head = append(b.head, probe[:n]...)
		b.headErr = err
	}

	if len(b.head) > 0 {
		if len(p) == 0 {
			return 0, nil
		}
		n := copy(p, b.head)
		b.head = b.head[n:]
		if len(b.head) == 0 && b.headErr != nil {
			// Surface EOF or a read fault only once the probed bytes are out.
			return n, b.headErr
		}
		return n, nil
	}

	if b.headErr != nil {
		return 0, b.headErr
	}
	return b.r.Read(p)
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly.
//
// Input is read through a fixed buffer. A multi-byte sequence cut off at
// the end of a chunk is held back in pending and completed by the next
// read, so valid runes are never broken whatever the chunk sizes are.
type UTF8Sanitizer struct {
	r       io.Reader
	buf     []byte
	ready   []byte // sanitised bytes not handed out yet
	pending []byte // incomplete trailing sequence, at most UTFMax-1 bytes
	err     error
}

const (
	sanitizeBufSize = 32 * 1024

	// maxEmptyReads matches bufio's tolerance for readers that return
	// (0, nil) repeatedly.
	maxEmptyReads = 100
)

// NewUTF8Sanitizer wraps r with a streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{
		r:       r,
		buf:     make([]byte, sanitizeBufSize),
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader. It never returns (0, nil) for a non-empty p
// unless the wrapped reader keeps doing so.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for empty := 0; len(s.ready) == 0; {
		if s.err != nil {
			return 0, s.err
		}
		if !s.fill() {
			empty++
			if empty >= maxEmptyReads {
				return 0, io.ErrNoProgress
			}
		}
	}

	n := copy(p, s.ready)
	s.ready = s.ready[n:]
	return n, nil
}

// fill reads the next chunk behind any pending bytes and sanitises it into
// ready. It reports whether the wrapped reader made progress.
func (s *UTF8Sanitizer) fill() bool {
	n := copy(s.buf, s.pending)
	s.pending = s.pending[:0]

	m, err := s.r.Read(s.buf[n:])
	n += m
	s.err = err

	s.ready = s.buf[:s.sanitize(s.buf[:n], err != nil)]
	return m > 0 || err != nil
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. Unless atEOF, an incomplete trailing sequence is moved to pending.
func (s *UTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			// '?' keeps the output no longer than the input.
			data[write] = '?'
			write++
			read++
			continue
		}

		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// CountingReader counts the bytes read through it. BytesRead may be called
// from another goroutine while the source is being consumed.
type CountingReader struct {
	r     io.Reader
	read  atomic.Int64
	total int64
}

// NewCountingReader wraps r. total is the expected size, 0 if unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, total: total}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *CountingReader) BytesRead() int64 {
	return c.read.Load()
}

// Total returns the expected size passed at construction.
func (c *CountingReader) Total() int64 {
	return c.total
}

// Progress returns read progress as a percentage (0-100), or 0 when the
// total size is unknown.
func (c *CountingReader) Progress() int {
	if c.total <= 0 {
		return 0
	}
	pct := int(c.read.Load() * 100 / c.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// WrapForStreaming applies BOM skipping, then UTF-8 sanitising, then byte
// counting. The BOM must go first or the sanitizer would see it as data.
func WrapForStreaming(r io.Reader, totalSize int64) *CountingReader {
	return NewCountingReader(NewUTF8Sanitizer(NewBOMReader(r)), totalSize)
}
