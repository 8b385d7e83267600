package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
)

// ============================================================================
// Pipeline Benchmarks
// ============================================================================

func benchmarkSource(rows int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := range rows {
		if i%10 == 0 {
			fmt.Fprintf(&b, "%d,\"Doe, User %d\",not-an-email\n", i, i)
			continue
		}
		fmt.Fprintf(&b, "%d,User %d,user%d@example.com\n", i, i, i)
	}
	return b.String()
}

// BenchmarkProcess measures the validating variant end to end, one in ten
// rows rejected.
func BenchmarkProcess(b *testing.B) {
	src := benchmarkSource(10_000)
	p, err := New(UserSchema, DefaultOptions(), discardLogger())
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rc := io.NopCloser(strings.NewReader(src))
		for range p.ProcessReader(context.Background(), "bench.csv", rc, int64(len(src))) {
		}
	}
}

// BenchmarkProcess_NoValidation measures tokenizing and mapping alone.
func BenchmarkProcess_NoValidation(b *testing.B) {
	src := benchmarkSource(10_000)
	opts := DefaultOptions()
	opts.Validate = false
	p, err := New(UserSchema, opts, discardLogger())
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rc := io.NopCloser(strings.NewReader(src))
		for range p.ProcessReader(context.Background(), "bench.csv", rc, int64(len(src))) {
		}
	}
}

// BenchmarkDispatch measures batching overhead with a no-op handler.
func BenchmarkDispatch(b *testing.B) {
	src := benchmarkSource(10_000)
	p, err := New(UserSchema, DefaultOptions(), discardLogger())
	if err != nil {
		b.Fatal(err)
	}
	noop := func(context.Context, User) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rc := io.NopCloser(strings.NewReader(src))
		if _, err := p.DispatchReader(context.Background(), "bench.csv", rc, 0, noop); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkValidateRecord measures struct-tag validation of one record.
func BenchmarkValidateRecord(b *testing.B) {
	u := User{ID: "1", Name: "Ana", Email: "ana@example.com"}
	for i := 0; i < b.N; i++ {
		_ = ValidateRecord(u)
	}
}
