package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ingest/internal/csv"
)

// StreamFaultLine is the ErrorInfo line number used for a fault that ends
// the whole stream rather than a single row.
const StreamFaultLine = -1

// DefaultBatchSize is the number of records dispatched per round.
const DefaultBatchSize = 100

var (
	// ErrInvalidBatchSize is returned by New when Options.BatchSize <= 0.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be greater than zero")

	// ErrInvalidSchema is returned by New for a schema without columns or
	// a Build function.
	ErrInvalidSchema = errors.New("invalid schema: columns and build function are required")

	errNilFailure = errors.New("failure without error detail")
)

// Options controls a pipeline run.
type Options struct {
	// SkipHeader discards line 1 before processing.
	SkipHeader bool

	// BatchSize is the number of records whose callbacks run together in
	// Dispatch. Must be > 0 even when only Process is used.
	BatchSize int

	// MaxLineBytes is the longest accepted input line. 0 uses
	// csv.DefaultMaxLineBytes.
	MaxLineBytes int

	// MaxInFlight caps concurrent callbacks inside one batch. 0 runs every
	// callback of the batch at once.
	MaxInFlight int

	// Validate selects the validating variant. When false, rows with fewer
	// fields than the schema has columns are dropped with a warning and
	// other rows pass through unchecked.
	Validate bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SkipHeader:   true,
		BatchSize:    DefaultBatchSize,
		MaxLineBytes: csv.DefaultMaxLineBytes,
		Validate:     true,
	}
}

// Check reports configuration errors. It runs before any input is opened.
func (o Options) Check() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, o.BatchSize)
	}
	if o.MaxLineBytes < 0 {
		return fmt.Errorf("invalid max line bytes: %d", o.MaxLineBytes)
	}
	if o.MaxInFlight < 0 {
		return fmt.Errorf("invalid max in flight: %d", o.MaxInFlight)
	}
	return nil
}

// Result is the outcome for one input row: either a record or an
// ErrorInfo, never both. Build one with Ok or Fail.
type Result[T any] struct {
	ok    bool
	value T
	err   *ErrorInfo
}

// Ok wraps a successfully validated record.
func Ok[T any](v T) Result[T] {
	return Result[T]{ok: true, value: v}
}

// Fail wraps a row or stream failure. A nil info is replaced by a stream
// fault so the failure arm is never empty.
func Fail[T any](info *ErrorInfo) Result[T] {
	if info == nil {
		info = &ErrorInfo{Line: StreamFaultLine, Err: errNilFailure}
	}
	return Result[T]{err: info}
}

// OK reports whether r carries a record.
func (r Result[T]) OK() bool {
	return r.ok
}

// Value returns the record and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// Err returns the failure detail, or nil for a successful result.
func (r Result[T]) Err() *ErrorInfo {
	return r.err
}

// MarshalJSON renders {"ok":true,"value":…} or {"ok":false,"error":…}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(struct {
			OK    bool `json:"ok"`
			Value T    `json:"value"`
		}{true, r.value})
	}
	return json.Marshal(struct {
		OK    bool       `json:"ok"`
		Error *ErrorInfo `json:"error"`
	}{false, r.err})
}

// ErrorInfo describes why a row (or the stream) failed.
type ErrorInfo struct {
	// Line is the 1-based input line, or StreamFaultLine.
	Line int
	// Err is a *ValidationError for rejected rows, otherwise the fault.
	Err error
	// Raw is the original line text, empty for stream faults.
	Raw string
}

func (e *ErrorInfo) Error() string {
	if e.IsStreamFault() {
		return fmt.Sprintf("stream: %v", e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ErrorInfo) Unwrap() error {
	return e.Err
}

// IsStreamFault reports whether e ends the stream rather than one row.
func (e *ErrorInfo) IsStreamFault() bool {
	return e.Line == StreamFaultLine
}

// Validation returns the structured validation detail, if any.
func (e *ErrorInfo) Validation() (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(e.Err, &ve) {
		return ve, true
	}
	return nil, false
}

// MarshalJSON renders {"line":…,"errors":…,"raw":…}. Validation failures
// carry their field list; any other error is reduced to its message.
func (e *ErrorInfo) MarshalJSON() ([]byte, error) {
	var detail any
	if ve, ok := e.Validation(); ok {
		detail = ve
	} else if e.Err != nil {
		detail = map[string]string{"message": e.Err.Error()}
	}
	return json.Marshal(struct {
		Line   int    `json:"line"`
		Errors any    `json:"errors"`
		Raw    string `json:"raw"`
	}{e.Line, detail, e.Raw})
}

// FieldError is one failed constraint on one record field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationError lists every failed constraint of a record.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Field returns the error recorded for name, if any.
func (e *ValidationError) Field(name string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldError{}, false
}

// RunPhase is the state of a pipeline run.
type RunPhase string

const (
	PhaseIdle     RunPhase = "idle"
	PhaseReading  RunPhase = "reading"
	PhaseDraining RunPhase = "draining"
	PhaseClosed   RunPhase = "closed"
)

// DispatchFailure is one callback that returned an error (or panicked).
type DispatchFailure struct {
	Line  int   `json:"line"`
	Batch int   `json:"batch"`
	Err   error `json:"-"`
}

// MarshalJSON adds the error message, which error values do not carry.
func (f DispatchFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Line  int    `json:"line"`
		Batch int    `json:"batch"`
		Error string `json:"error"`
	}{f.Line, f.Batch, msg})
}

// DispatchReport summarises a Dispatch run.
type DispatchReport struct {
	RunID  string `json:"runId"`
	Source string `json:"source"`

	// Lines counts body lines that were evaluated (header and empty lines
	// excluded).
	Lines      int `json:"lines"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Dropped    int `json:"dropped"`
	Dispatched int `json:"dispatched"`

	// Batches holds the size of every dispatch round, in order.
	Batches  []int             `json:"batches"`
	Failures []DispatchFailure `json:"failures"`

	StreamFault *ErrorInfo    `json:"streamFault,omitempty"`
	Phase       RunPhase      `json:"phase"`
	Duration    time.Duration `json:"durationNs"`
}

// Failed reports whether any callback failed or the stream faulted.
func (r *DispatchReport) Failed() bool {
	return len(r.Failures) > 0 || r.StreamFault != nil
}
