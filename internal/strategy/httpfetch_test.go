package strategy

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/shaiso/Downpour/internal/domain"
	"github.com/shaiso/Downpour/internal/telemetry"
)

func TestHTTPFetch_CanHandle(t *testing.T) {
	h := NewHTTPFetch(HTTPFetchConfig{})

	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/video/1", true},
		{"http://example.com/video/1", true},
		{"ftp://example.com/file", false},
		{"not a url at all\x00", false},
	}
	for _, tc := range cases {
		task := domain.NewTask(tc.url, domain.TaskTypeVideo, 0)
		if got := h.CanHandle(task); got != tc.want {
			t.Errorf("CanHandle(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestHTTPFetch_DownloadWritesFile(t *testing.T) {
	body := "fake video payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	var progressCalls int
	h := NewHTTPFetch(HTTPFetchConfig{
		OutputDir: t.TempDir(),
		OnProgress: func(_ *domain.Task, written, total int64) {
			progressCalls++
		},
	})

	task := domain.NewTask(srv.URL+"/video/1", domain.TaskTypeVideo, 0)
	result, err := h.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.ErrorMessage)
	}
	if len(result.FilePaths) != 1 {
		t.Fatalf("expected one file path, got %v", result.FilePaths)
	}

	data, err := os.ReadFile(result.FilePaths[0])
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != body {
		t.Errorf("file content = %q, want %q", data, body)
	}
	if progressCalls == 0 {
		t.Error("progress callback never fired")
	}
	if result.Metadata["content_type"] != "video/mp4" {
		t.Errorf("unexpected metadata: %v", result.Metadata)
	}
}

// A second attempt for the same task must overwrite the same file,
// never accumulate duplicates.
func TestHTTPFetch_RetrySameTaskOverwrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	h := NewHTTPFetch(HTTPFetchConfig{OutputDir: dir})
	task := domain.NewTask(srv.URL, domain.TaskTypeVideo, 0)

	for i := 0; i < 2; i++ {
		if _, err := h.Download(context.Background(), task); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one output file, got %d", len(entries))
	}
}

func TestHTTPFetch_StatusCodeInErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := NewHTTPFetch(HTTPFetchConfig{OutputDir: t.TempDir()})
	task := domain.NewTask(srv.URL, domain.TaskTypeVideo, 0)

	result, err := h.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.ErrorMessage, "404") {
		t.Errorf("status code missing from error message: %q", result.ErrorMessage)
	}
	// The classifier must treat it as non-retryable
	if Classify(result.ErrorMessage) != VerdictFatal {
		t.Error("HTTP 404 should classify as fatal")
	}
}

// Log records must go through the logger carried by the context, so
// they keep the worker_id/task_id attributes attached by the caller.
func TestHTTPFetch_LogsThroughContextLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("worker_id", 7)
	ctx := telemetry.WithLogger(context.Background(), logger)

	h := NewHTTPFetch(HTTPFetchConfig{OutputDir: t.TempDir()})
	task := domain.NewTask(srv.URL, domain.TaskTypeVideo, 0)

	if _, err := h.Download(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "download failed") {
		t.Fatalf("failure not logged via context logger: %q", out)
	}
	if !strings.Contains(out, "worker_id=7") {
		t.Errorf("caller attributes lost: %q", out)
	}
}

func TestHTTPFetch_EmptyBodyIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	h := NewHTTPFetch(HTTPFetchConfig{OutputDir: dir})
	task := domain.NewTask(srv.URL, domain.TaskTypeVideo, 0)

	result, err := h.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for empty body")
	}
	if Classify(result.ErrorMessage) != VerdictRetryable {
		t.Error("empty response should stay retryable")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("empty download must not leave files behind, found %d", len(entries))
	}
}
