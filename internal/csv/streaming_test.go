package csv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("id,nombre,email")...),
			expected: "id,nombre,email",
		},
		{
			name:     "file without BOM",
			input:    []byte("id,nombre,email"),
			expected: "id,nombre,email",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "shorter than a BOM",
			input:    []byte("ab"),
			expected: "ab",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewBOMReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", string(got), tt.expected)
			}
		})
	}
}

func TestBOMReader_OneByteReads(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("1,Ana,ana@example.com\n")...)

	got, err := io.ReadAll(NewBOMReader(iotest.OneByteReader(bytes.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "1,Ana,ana@example.com\n" {
		t.Errorf("got %q", string(got))
	}
}

func TestBOMReader_PropagatesReadFault(t *testing.T) {
	boom := errors.New("device error")
	r := NewBOMReader(iotest.ErrReader(boom))

	_, err := io.ReadAll(r)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "valid ASCII",
			input:    []byte("1,Ana,ana@example.com"),
			expected: "1,Ana,ana@example.com",
		},
		{
			name:     "valid multibyte",
			input:    []byte("2,José Núñez,jose@example.com"),
			expected: "2,José Núñez,jose@example.com",
		},
		{
			name:     "invalid single byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he?lo",
		},
		{
			name:     "truncated sequence at EOF replaced",
			input:    []byte{'o', 'k', 0xC3},
			expected: "ok?",
		},
		{
			name:     "empty input",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", string(got), tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer_SplitRune(t *testing.T) {
	// "ñ" is 0xC3 0xB1; one-byte reads split it across calls.
	input := []byte("Núñez")

	got, err := io.ReadAll(NewUTF8Sanitizer(iotest.OneByteReader(bytes.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "Núñez" {
		t.Errorf("got %q, want %q", string(got), "Núñez")
	}
}

// chunkReader hands out data in reads of the given sizes, then the rest.
type chunkReader struct {
	data  []byte
	sizes []int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := len(r.data)
	if len(r.sizes) > 0 {
		n = min(n, r.sizes[0])
		r.sizes = r.sizes[1:]
	}
	n = copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestUTF8Sanitizer_SplitAcrossChunks(t *testing.T) {
	runes := []string{"ñ", "€", "名", "𝄞"}

	for _, r := range runes {
		for cut := 1; cut < len(r); cut++ {
			input := "ab" + r + "z\n"
			t.Run(fmt.Sprintf("%s after %d bytes", r, cut), func(t *testing.T) {
				src := &chunkReader{data: []byte(input), sizes: []int{2 + cut}}
				got, err := io.ReadAll(NewUTF8Sanitizer(src))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(got) != input {
					t.Errorf("got %q, want %q", string(got), input)
				}
			})
		}
	}
}

func TestUTF8Sanitizer_SplitThenInvalid(t *testing.T) {
	// A held-back lead byte followed by a non-continuation byte is invalid.
	src := &chunkReader{data: []byte{'a', 0xE2, 0x82, 'b'}, sizes: []int{2}}

	got, err := io.ReadAll(NewUTF8Sanitizer(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a??b" {
		t.Errorf("got %q, want %q", string(got), "a??b")
	}
}

func TestUTF8Sanitizer_SmallBuffers(t *testing.T) {
	// iotest.TestReader reads with buffers smaller than a rune.
	input := []byte(strings.Repeat("名前𝄞€x", 5000))

	chunked := &chunkReader{data: bytes.Clone(input), sizes: []int{1, 2, 3, 5, 7, 11}}
	if err := iotest.TestReader(NewUTF8Sanitizer(chunked), input); err != nil {
		t.Fatal(err)
	}
}

func TestUTF8Sanitizer_NeverEmptyRead(t *testing.T) {
	input := []byte(strings.Repeat("名", 40000))
	s := NewUTF8Sanitizer(&chunkReader{data: input, sizes: []int{1, 1, 1, 4097}})

	var out []byte
	buf := make([]byte, 2)
	for {
		n, err := s.Read(buf)
		if n == 0 && err == nil {
			t.Fatal("Read returned 0, nil")
		}
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !bytes.Equal(out, input) {
		t.Errorf("output differs from input (%d bytes vs %d)", len(out), len(input))
	}
}

func TestUTF8Sanitizer_StuckReader(t *testing.T) {
	_, err := NewUTF8Sanitizer(stuckReader{}).Read(make([]byte, 8))
	if !errors.Is(err, io.ErrNoProgress) {
		t.Errorf("err = %v, want io.ErrNoProgress", err)
	}
}

type stuckReader struct{}

func (stuckReader) Read([]byte) (int, error) { return 0, nil }

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(input), int64(len(input)))

	buf := make([]byte, 100)
	total := 0
	for {
		n, err := reader.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if total != len(input) {
		t.Errorf("total read = %d, want %d", total, len(input))
	}
	if reader.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", reader.BytesRead(), len(input))
	}
	if reader.Progress() != 100 {
		t.Errorf("Progress = %d, want 100", reader.Progress())
	}
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	reader := NewCountingReader(strings.NewReader("abc"), 0)
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader.Progress() != 0 {
		t.Errorf("Progress = %d, want 0", reader.Progress())
	}
}

func TestWrapForStreaming(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte{'h', 'e', 0x80, 'l', 'o'}...)

	reader := WrapForStreaming(bytes.NewReader(input), int64(len(input)))
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(got) != "he?lo" {
		t.Errorf("got %q, want %q", string(got), "he?lo")
	}
	if reader.BytesRead() == 0 {
		t.Error("BytesRead should be > 0")
	}
}
