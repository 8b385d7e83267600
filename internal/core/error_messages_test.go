package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/ingest/internal/csv"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"permission denied", errors.New("open source: open /data/u.csv: permission denied"), "FILE002"},
		{"line too long", fmt.Errorf("read u.csv after line 3: %w", csv.ErrLineTooLong), "FILE004"},
		{"generic open fault", fmt.Errorf("%w: device not configured", csv.ErrOpen), "FILE005"},
		{"no file in request", errors.New("no file provided"), "FILE006"},
		{"invalid email", errors.New("line 2: email: must be a valid email address"), "VAL001"},
		{"required field", errors.New("line 4: nombre: is required"), "VAL002"},
		{"busy", ErrTooManyRuns, "ING001"},
		{"cancelled", fmt.Errorf("cancelled at line 101: %w", context.Canceled), "ING002"},
		{"deadline is not a database timeout", context.DeadlineExceeded, "ING003"},
		{"invalid batch size", fmt.Errorf("%w (got 0)", ErrInvalidBatchSize), "ING004"},
		{"handler panic", errors.New("handler panic: nil map"), "ING005"},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint \"users_pkey\""), "DB001"},
		{"skipped insert", errors.New("user 7: not inserted"), "DB002"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB003"},
		{"timeout", errors.New("i/o timeout"), "DB005"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_OpenFaults(t *testing.T) {
	dir := t.TempDir()

	_, err := csv.Open(filepath.Join(dir, "missing.csv"))
	if got := MapError(err).Code; got != "FILE001" {
		t.Errorf("missing file code = %q, want FILE001 (err: %v)", got, err)
	}

	_, err = csv.Open(dir)
	if got := MapError(err).Code; got != "FILE003" {
		t.Errorf("directory code = %q, want FILE003 (err: %v)", got, err)
	}
}

func TestMapError_ValidationErrors(t *testing.T) {
	err := ValidateRecord(User{ID: "1", Name: "Ana", Email: "nope"})
	if got := MapError(err).Code; got != "VAL001" {
		t.Errorf("code = %q, want VAL001 (err: %v)", got, err)
	}

	err = UserSchema.Check(User{ID: "1"}, []string{"1"})
	if got := MapError(err).Code; got != "VAL002" {
		t.Errorf("code = %q, want VAL002 (err: %v)", got, err)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyRuns)
	want := "System is busy processing other files (Code: ING001). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", errors.New("duplicate key"), true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	techErr := errors.New("pq: duplicate key value")
	userErr := NewUserError(techErr)
	if userErr.Error() != "A record with this ID already exists" {
		t.Errorf("Error() = %q, want user message", userErr.Error())
	}
	if !errors.Is(userErr, techErr) {
		t.Error("Unwrap() should return original error")
	}
}
