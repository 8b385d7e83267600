package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersCSV = "id,nombre,email\n" +
	"1,Ana,ana@example.com\n" +
	"1,OnlyName\n" +
	"2,Jane,not-an-email\n" +
	"3,Carol,carol@example.com\n"

// isolate clears the variables run reads so the host environment cannot
// leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "DB_URL", "INGEST_SKIP_HEADER", "INGEST_BATCH_SIZE",
		"INGEST_VALIDATE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(path, []byte(usersCSV), 0o644))
	return path
}

func TestRun_PrintsOneResultPerRow(t *testing.T) {
	path := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-env", "", path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)

	var first struct {
		OK    bool              `json:"ok"`
		Value map[string]string `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.True(t, first.OK)
	assert.Equal(t, "Ana", first.Value["nombre"])

	assert.Contains(t, lines[1], `"ok":false`)
	assert.Contains(t, stderr.String(), "ingest finished")
}

func TestRun_Dispatch(t *testing.T) {
	path := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-env", "", "-dispatch", path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	var report struct {
		Accepted   int   `json:"accepted"`
		Rejected   int   `json:"rejected"`
		Dispatched int   `json:"dispatched"`
		Batches    []int `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, []int{2}, report.Batches)
}

func TestRun_FailedRowReport(t *testing.T) {
	path := isolate(t)
	out := t.TempDir()
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-env", "", "-failed-out", out, path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(out, "users - failed.csv"))
	require.NoError(t, err)

	rows := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, rows, 3)
	assert.Equal(t, "Reason,id,nombre,email", rows[0])
	assert.True(t, strings.HasPrefix(rows[1], "line 3: email: is required,1,OnlyName"), rows[1])
	assert.True(t, strings.HasPrefix(rows[2], "line 4: email: must be a valid email address,2,Jane,not-an-email"), rows[2])
}

func TestRun_MissingFileExitsWithFault(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-env", "", filepath.Join(t.TempDir(), "missing.csv")}, &stdout, &stderr)
	assert.Equal(t, exitFault, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "FILE001")
}

func TestRun_InvalidBatchSizeExitsWithFault(t *testing.T) {
	path := isolate(t)
	t.Setenv("INGEST_BATCH_SIZE", "0")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-env", "", path}, &stdout, &stderr)
	assert.Equal(t, exitFault, code)
	assert.Contains(t, stderr.String(), "INGEST_BATCH_SIZE")
	assert.Empty(t, stdout.String())
}

func TestRun_EnvFileOverridesEnvironment(t *testing.T) {
	path := isolate(t)
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("INGEST_VALIDATE=false\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-env", envFile, path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	// Without validation the short row is dropped and the bad email passes.
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Contains(t, line, `"ok":true`)
	}
}

func TestRun_Usage(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitUsage, run(context.Background(), []string{"-env", ""}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: ingest")
}
