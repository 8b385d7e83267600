package core

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/JonMunkholm/ingest/internal/csv"
	"github.com/google/uuid"
)

// ContextCheckInterval is how often (in lines) a run checks its context
// for cancellation.
const ContextCheckInterval = 100

// RejectFunc observes rows rejected by validation.
type RejectFunc func(info *ErrorInfo)

// Pipeline turns a line source into records of type T.
//
// A Pipeline holds configuration only; every Process or Dispatch call is
// an independent run with its own line counter and batch.
type Pipeline[T any] struct {
	schema   Schema[T]
	opts     Options
	logger   *slog.Logger
	onReject RejectFunc
}

// New validates opts and schema and returns a pipeline. A nil logger uses
// slog.Default().
func New[T any](schema Schema[T], opts Options, logger *slog.Logger) (*Pipeline[T], error) {
	if err := opts.Check(); err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 || schema.Build == nil {
		return nil, ErrInvalidSchema
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[T]{
		schema: schema,
		opts:   opts,
		logger: logger,
	}, nil
}

// OnReject registers fn to be called for every row rejected by validation,
// in both Process and Dispatch. It must be set before a run starts.
func (p *Pipeline[T]) OnReject(fn RejectFunc) *Pipeline[T] {
	p.onReject = fn
	return p
}

// Options returns the pipeline's options.
func (p *Pipeline[T]) Options() Options {
	return p.opts
}

// Columns returns the schema's column names.
func (p *Pipeline[T]) Columns() []string {
	return p.schema.Columns
}

// Open opens path as a line source using the pipeline's line limit.
func (p *Pipeline[T]) Open(path string) (*csv.LineReader, error) {
	return csv.Open(path, csv.WithMaxLineBytes(p.opts.MaxLineBytes))
}

// Process opens path and returns the lazy result sequence. An open failure
// is returned immediately and no sequence is produced.
//
// Results arrive in source order, one per evaluated body line. Validation
// failures are results too; if reading stops on a fault (or ctx is
// cancelled) one final Fail with Line == StreamFaultLine closes the
// sequence. The file is released when the range loop ends, including on an
// early break. A sequence that is never ranged over releases the file when
// it is garbage collected.
func (p *Pipeline[T]) Process(ctx context.Context, path string) (iter.Seq[Result[T]], error) {
	src, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	return p.results(ctx, src), nil
}

// ProcessReader is Process over an already open stream. The pipeline takes
// ownership of rc. size is used for progress only (0 if unknown).
func (p *Pipeline[T]) ProcessReader(ctx context.Context, name string, rc io.ReadCloser, size int64) iter.Seq[Result[T]] {
	return p.results(ctx, csv.NewLineReader(name, rc, size, csv.WithMaxLineBytes(p.opts.MaxLineBytes)))
}

func (p *Pipeline[T]) results(ctx context.Context, src *csv.LineReader) iter.Seq[Result[T]] {
	return func(yield func(Result[T]) bool) {
		log := p.runLogger(uuid.NewString(), src.Name())
		log.Debug("run phase", "phase", PhaseReading)

		stopped := false
		fault := p.scan(ctx, src, log, func(ev rowEvent[T]) bool {
			switch ev.kind {
			case rowAccepted:
				stopped = !yield(Ok(ev.record))
			case rowRejected:
				stopped = !yield(Fail[T](ev.info))
			}
			return !stopped
		})

		if fault != nil && !stopped {
			yield(Fail[T](&ErrorInfo{Line: StreamFaultLine, Err: fault}))
		}
		log.Debug("run phase", "phase", PhaseClosed, "bytes_read", src.BytesRead())
	}
}

type rowKind int

const (
	rowAccepted rowKind = iota
	rowRejected
	rowDropped
)

type rowEvent[T any] struct {
	kind   rowKind
	line   csv.Line
	record T
	info   *ErrorInfo
}

// scan drives src to the end, calling emit for every body line that is not
// skipped. It returns the fault that ended the read (a source read error or
// context cancellation), or nil. src is closed on return.
func (p *Pipeline[T]) scan(ctx context.Context, src *csv.LineReader, log *slog.Logger, emit func(rowEvent[T]) bool) error {
	defer src.Close()

	var cancelled error
	for line := range src.Lines() {
		if (line.Number-1)%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				cancelled = fmt.Errorf("cancelled at line %d: %w", line.Number, err)
				break
			}
		}

		if line.Number == 1 && p.opts.SkipHeader {
			continue
		}
		if line.Text == "" {
			continue
		}

		ev := p.evaluate(line, log)
		if ev.kind == rowRejected && p.onReject != nil {
			p.onReject(ev.info)
		}
		if !emit(ev) {
			return nil
		}
	}

	if cancelled != nil {
		log.Warn("run cancelled", "error", cancelled)
		return cancelled
	}
	if err := src.Err(); err != nil {
		log.Error("stream fault", "error", err)
		return err
	}
	return nil
}

// evaluate tokenizes, maps and (in the validating variant) validates one
// line.
func (p *Pipeline[T]) evaluate(line csv.Line, log *slog.Logger) rowEvent[T] {
	fields := csv.ParseLine(line.Text)

	if !p.opts.Validate {
		if len(fields) < len(p.schema.Columns) {
			log.Warn("skipping malformed line",
				"line", line.Number,
				"fields", len(fields),
				"expected", len(p.schema.Columns),
				"raw", line.Text,
			)
			return rowEvent[T]{kind: rowDropped, line: line}
		}
		return rowEvent[T]{kind: rowAccepted, line: line, record: p.schema.Build(fields)}
	}

	rec := p.schema.Build(fields)
	if err := p.schema.Check(rec, fields); err != nil {
		log.Warn("validation failed", "line", line.Number, "error", err)
		return rowEvent[T]{
			kind: rowRejected,
			line: line,
			info: &ErrorInfo{Line: line.Number, Err: err, Raw: line.Text},
		}
	}
	return rowEvent[T]{kind: rowAccepted, line: line, record: rec}
}

func (p *Pipeline[T]) runLogger(runID, source string) *slog.Logger {
	return p.logger.With("run_id", runID, "source", source)
}
