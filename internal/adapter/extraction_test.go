package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/knowledgebot/internal/retry"
	"github.com/user/knowledgebot/internal/types"
)

// railway fakes the download service. statuses are served in order, the
// last one repeating.
func railway(t *testing.T, statuses ...map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /download", func(w http.ResponseWriter, r *http.Request) {
		var req downloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Format != defaultFormat {
			t.Errorf("expected format %q, got %q", defaultFormat, req.Format)
		}
		json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1"})
	})
	mux.HandleFunc("GET /downloads/req-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		json.NewEncoder(w).Encode(statuses[n])
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestExtractionPollsUntilDone(t *testing.T) {
	srv, polls := railway(t,
		map[string]any{"status": "QUEUED"},
		map[string]any{"status": "RUNNING", "progress": 50},
		map[string]any{"status": "DONE", "file_url": "https://cdn.example.com/v.mp4", "duration": 42.5, "title": "Goroutines", "uploader": "gopher"},
	)
	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL, PollInterval: time.Millisecond}, nil)

	media, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.tiktok.com/@gopher/video/1"})
	if err != nil {
		t.Fatal(err)
	}
	if media.Reference != "https://cdn.example.com/v.mp4" {
		t.Errorf("unexpected reference %q", media.Reference)
	}
	if media.Duration != 42500*time.Millisecond {
		t.Errorf("unexpected duration %v", media.Duration)
	}
	if media.Author != "gopher" || media.Platform != "tiktok" {
		t.Errorf("unexpected media %+v", media)
	}
	if polls.Load() != 3 {
		t.Errorf("expected 3 polls, got %d", polls.Load())
	}
}

func TestExtractionErrorStatusClassification(t *testing.T) {
	tests := []struct {
		msg    string
		kind   error
		reason types.Reason
	}{
		{"This video is private", types.ErrRemoteRejected, types.ReasonPrivate},
		{"Video not found", types.ErrRemoteRejected, types.ReasonNotFound},
		{"Unsupported URL: https://example.com", types.ErrRemoteRejected, types.ReasonMalformed},
		{"worker crashed", types.ErrRemoteUnavailable, types.ReasonUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			srv, _ := railway(t, map[string]any{"status": "ERROR", "error": tt.msg})
			e := NewExtraction(ExtractionConfig{BaseURL: srv.URL, PollInterval: time.Millisecond}, nil)
			_, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.tiktok.com/@a/video/1"})
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if got := types.ReasonOf(err); got != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, got)
			}
		})
	}
}

func TestExtractionTooLong(t *testing.T) {
	srv, _ := railway(t, map[string]any{"status": "DONE", "file_url": "https://cdn/v.mp4", "duration": 900})
	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL, PollInterval: time.Millisecond, MaxDuration: 10 * time.Minute}, nil)
	_, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.tiktok.com/@a/video/1"})
	if types.ReasonOf(err) != types.ReasonTooLong {
		t.Fatalf("expected too_long, got %v", err)
	}
	if retry.Classify(err) != retry.Permanent {
		t.Error("too long video should not be retried")
	}
}

func TestExtractionDeadlineIsTimeout(t *testing.T) {
	srv, _ := railway(t, map[string]any{"status": "RUNNING"})
	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Call(ctx, types.ExtractRequest{SourceURL: "https://www.tiktok.com/@a/video/1"})
	if !errors.Is(err, types.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if retry.Classify(err) != retry.Transient {
		t.Error("timeout should be transient")
	}
}

func TestExtractionHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL}, nil)
	_, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.tiktok.com/@a/video/1"})
	if !errors.Is(err, types.ErrRemoteUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestExtractionAuthHeader(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)
	if !e.Healthcheck(context.Background()) {
		t.Fatal("expected healthy")
	}
	if got.Load() != "Bearer secret" {
		t.Errorf("unexpected auth header %v", got.Load())
	}
}

func TestExtractionShutdown(t *testing.T) {
	srv, _ := railway(t, map[string]any{"status": "DONE", "file_url": "https://cdn/v.mp4"})
	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL}, nil)
	if err := e.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatal("second shutdown should be a no-op")
	}
	if e.Healthcheck(context.Background()) {
		t.Error("closed adapter should report unhealthy")
	}
	_, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.tiktok.com/@a/video/1"})
	if !errors.Is(err, types.ErrAdapterClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestExtractionDownloadDirAndRelease(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	}))
	defer files.Close()
	srv, _ := railway(t, map[string]any{"status": "DONE", "file_url": files.URL + "/v.mp4"})

	dir := t.TempDir()
	e := NewExtraction(ExtractionConfig{BaseURL: srv.URL, DownloadDir: dir}, nil)
	media, err := e.Call(context.Background(), types.ExtractRequest{SourceURL: "https://www.instagram.com/reel/abc/"})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(media.Reference) != dir {
		t.Fatalf("expected file in %s, got %s", dir, media.Reference)
	}
	data, err := os.ReadFile(media.Reference)
	if err != nil || string(data) != "video bytes" {
		t.Fatalf("unexpected file contents %q (%v)", data, err)
	}
	if media.Platform != "instagram" {
		t.Errorf("expected instagram, got %q", media.Platform)
	}

	if err := e.Release(media); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(media.Reference); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
	if err := e.Release(&types.Media{Reference: "/etc/hosts"}); err != nil {
		t.Errorf("release outside dir should be ignored, got %v", err)
	}
}
