package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/JonMunkholm/ingest/internal/logging"
)

// flushEvery is how many NDJSON results are written between flushes.
const flushEvery = 100

// multipartMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const multipartMemory = 8 << 20

var errNoFile = errors.New("no file provided")

// upload is a CSV source taken from a request.
type upload struct {
	name string
	body io.ReadCloser
	size int64

	cleanup func()
}

// openUpload accepts either a multipart form with a "file" field or a raw
// body. A raw body is named by the "name" query parameter.
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		cleanup := func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logging.FromContext(r.Context()).Warn("remove multipart files", "error", err)
			}
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			cleanup()
			if errors.Is(err, http.ErrMissingFile) {
				return nil, errNoFile
			}
			return nil, fmt.Errorf("read form file: %w", err)
		}
		return &upload{name: header.Filename, body: file, size: header.Size, cleanup: cleanup}, nil
	}

	if r.ContentLength == 0 {
		return nil, errNoFile
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.csv"
	}
	return &upload{name: name, body: r.Body, size: max(r.ContentLength, 0), cleanup: func() {}}, nil
}

// startRun bounds the run by the configured timeout and takes a limiter
// slot. The returned release must be called when the run ends.
func (s *Server) startRun(r *http.Request) (context.Context, func(), error) {
	ctx, cancel := r.Context(), context.CancelFunc(func() {})
	if s.runTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, func() {
		s.limiter.Release()
		cancel()
	}, nil
}

// handleIngest streams one JSON result per body line as NDJSON.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, release, err := s.startRun(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer release()

	up, err := s.openUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer up.cleanup()

	logger := logging.WithFields(r.Context(), "source", up.name)
	results := s.pipeline.ProcessReader(ctx, up.name, up.body, up.size)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	var written, failed int
	for res := range results {
		if err := enc.Encode(res); err != nil {
			logger.Warn("client went away", "written", written, "error", err)
			break
		}
		written++
		if !res.OK() {
			failed++
		}
		if written%flushEvery == 0 {
			_ = rc.Flush()
		}
	}
	_ = rc.Flush()

	logger.Info("ingest finished", "results", written, "failed", failed)
}

// handleDispatch runs the dispatch handler for every accepted record and
// replies with the run report.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, release, err := s.startRun(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer release()

	up, err := s.openUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer up.cleanup()

	report, err := s.pipeline.DispatchReader(ctx, up.name, up.body, up.size, s.dispatch)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.limiter.Status(),
	})
}
