// Package core turns line-delimited CSV sources into validated records.
//
// It is independent of any transport: the CLI, the HTTP server and tests
// all drive the same [Pipeline].
//
// # Runs
//
// A [Pipeline] is built once from a [Schema] and [Options] and may start any
// number of independent runs. Each run reads its source lazily, one line at
// a time, so memory stays bounded by the batch size regardless of file size.
//
//   - [Pipeline.Process] yields one [Result] per body line, in source
//     order. Validation failures are results, not errors. A fault that stops
//     the read adds one final failure whose line is [StreamFaultLine].
//   - [Pipeline.Dispatch] runs a [Handler] for every accepted record,
//     [Options.BatchSize] at a time. All calls of a batch run concurrently
//     and the next batch starts only after every call of the previous one
//     has returned. Handler failures are reported in the [DispatchReport]
//     and never stop the run.
//
// Only configuration faults (see [Options.Check]) and failures to open the
// source are returned as errors. Everything else is data.
//
// # Variants
//
// With [Options.Validate] set, every record is checked against its
// `validate` struct tags and failures carry a [ValidationError] per field.
// Without it, rows shorter than the schema are dropped with a warning and
// the rest pass through unchecked.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. See
// error_messages.go for the code reference.
package core
