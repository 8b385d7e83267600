package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ingest/internal/csv"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Handler is the per-record side effect run by Dispatch. Calls within one
// batch run concurrently, so a Handler must be safe for concurrent use.
type Handler[T any] func(ctx context.Context, rec T) error

var errNilHandler = errors.New("dispatch: nil handler")

type batchItem[T any] struct {
	line   int
	record T
}

// Dispatch opens path and runs fn for every accepted record, BatchSize
// records at a time. Every call of a batch runs concurrently and the run
// waits for all of them before reading on. A failing call is logged and
// recorded in the report; it cancels neither its siblings nor later
// batches.
//
// Only configuration and open faults are returned as errors. Rejected rows,
// callback failures and a stream fault end up in the report.
func (p *Pipeline[T]) Dispatch(ctx context.Context, path string, fn Handler[T]) (*DispatchReport, error) {
	if fn == nil {
		return nil, errNilHandler
	}
	src, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	return p.dispatch(ctx, src, fn), nil
}

// DispatchReader is Dispatch over an already open stream. The pipeline
// takes ownership of rc.
func (p *Pipeline[T]) DispatchReader(ctx context.Context, name string, rc io.ReadCloser, size int64, fn Handler[T]) (*DispatchReport, error) {
	if fn == nil {
		rc.Close()
		return nil, errNilHandler
	}
	src := csv.NewLineReader(name, rc, size, csv.WithMaxLineBytes(p.opts.MaxLineBytes))
	return p.dispatch(ctx, src, fn), nil
}

func (p *Pipeline[T]) dispatch(ctx context.Context, src *csv.LineReader, fn Handler[T]) *DispatchReport {
	start := time.Now()
	report := &DispatchReport{
		RunID:    uuid.NewString(),
		Source:   src.Name(),
		Batches:  []int{},
		Failures: []DispatchFailure{},
		Phase:    PhaseIdle,
	}
	log := p.runLogger(report.RunID, report.Source)

	report.Phase = PhaseReading
	log.Info("dispatch started", "batch_size", p.opts.BatchSize, "validate", p.opts.Validate)

	batch := make([]batchItem[T], 0, p.opts.BatchSize)
	fault := p.scan(ctx, src, log, func(ev rowEvent[T]) bool {
		report.Lines++
		switch ev.kind {
		case rowAccepted:
			report.Accepted++
			batch = append(batch, batchItem[T]{line: ev.line.Number, record: ev.record})
			if len(batch) >= p.opts.BatchSize {
				p.flush(ctx, batch, fn, report, log)
				batch = batch[:0]
			}
		case rowRejected:
			report.Rejected++
		case rowDropped:
			report.Dropped++
		}
		return true
	})

	report.Phase = PhaseDraining
	p.flush(ctx, batch, fn, report, log)

	if fault != nil {
		report.StreamFault = &ErrorInfo{Line: StreamFaultLine, Err: fault}
	}

	report.Phase = PhaseClosed
	report.Duration = time.Since(start)

	log.Info("dispatch finished",
		"lines", report.Lines,
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"dropped", report.Dropped,
		"dispatched", report.Dispatched,
		"failed", len(report.Failures),
		"batches", len(report.Batches),
		"bytes_read", src.BytesRead(),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report
}

// flush runs fn for every item of batch concurrently and blocks until all
// calls have returned.
func (p *Pipeline[T]) flush(ctx context.Context, batch []batchItem[T], fn Handler[T], report *DispatchReport, log *slog.Logger) {
	if len(batch) == 0 {
		return
	}

	round := len(report.Batches) + 1
	errs := make([]error, len(batch))

	var g errgroup.Group
	if p.opts.MaxInFlight > 0 {
		g.SetLimit(p.opts.MaxInFlight)
	}
	for i, item := range batch {
		g.Go(func() error {
			errs[i] = invoke(ctx, fn, item.record)
			// Failures are collected per item; returning nil keeps Wait
			// from short-circuiting on the first one.
			return nil
		})
	}
	_ = g.Wait()

	report.Batches = append(report.Batches, len(batch))
	for i, err := range errs {
		if err == nil {
			report.Dispatched++
			continue
		}
		report.Failures = append(report.Failures, DispatchFailure{
			Line:  batch[i].line,
			Batch: round,
			Err:   err,
		})
		log.Error("dispatch failed", "line", batch[i].line, "batch", round, "error", err)
	}
	log.Debug("batch dispatched", "batch", round, "size", len(batch))
}

// invoke calls fn, turning a panic into an error so one bad record cannot
// take down the run.
func invoke[T any](ctx context.Context, fn Handler[T], rec T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, rec)
}
