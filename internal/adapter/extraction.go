package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

const (
	extractionName      = "extraction"
	defaultPollInterval = 5 * time.Second
	defaultFormat       = "best[height<=720]"
)

// ExtractionConfig configures the download service client.
type ExtractionConfig struct {
	BaseURL string
	APIKey  string
	// Format is the yt-dlp style format selector sent with each request.
	Format       string
	PollInterval time.Duration
	// MaxDuration rejects videos longer than this; zero disables the check.
	MaxDuration time.Duration
	// DownloadDir, when set, makes Call fetch the file locally and return
	// the local path instead of the service's file URL.
	DownloadDir string
}

// Extraction talks to the remote video download service: it submits a
// download, polls for completion and returns a media reference.
type Extraction struct {
	lifecycle
	cfg ExtractionConfig
	hc  *http.Client
}

var _ types.Extractor = (*Extraction)(nil)

// NewExtraction creates the extraction adapter. hc may be nil.
func NewExtraction(cfg ExtractionConfig, hc *http.Client) *Extraction {
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	e := &Extraction{cfg: cfg, hc: hc}
	e.lifecycle = lifecycle{name: extractionName, release: hc.CloseIdleConnections}
	return e
}

type downloadRequest struct {
	URL         string `json:"url"`
	Format      string `json:"format"`
	ExtractFlat bool   `json:"extract_flat"`
}

type downloadAccepted struct {
	RequestID string `json:"request_id"`
}

type downloadStatus struct {
	Status       string          `json:"status"`
	FileURL      string          `json:"file_url"`
	Duration     float64         `json:"duration"`
	Title        string          `json:"title"`
	Uploader     string          `json:"uploader"`
	Extractor    string          `json:"extractor"`
	Progress     any             `json:"progress"`
	Error        string          `json:"error"`
	Message      string          `json:"message"`
	ErrorMessage string          `json:"error_message"`
	Metadata     json.RawMessage `json:"metadata"`
}

func (s *downloadStatus) errorText() string {
	var parts []string
	for _, p := range []string{s.Error, s.Message, s.ErrorMessage} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "no error details provided"
	}
	return strings.Join(parts, " | ")
}

// Call downloads req.SourceURL and returns the media reference.
func (e *Extraction) Call(ctx context.Context, req types.ExtractRequest) (*types.Media, error) {
	if err := e.check("download"); err != nil {
		return nil, err
	}
	media, err := e.download(ctx, req.SourceURL)
	if err != nil {
		err = classify(extractionName, "download", err)
		dropConnections(err, e.hc.CloseIdleConnections)
		return nil, err
	}
	return media, nil
}

func (e *Extraction) download(ctx context.Context, sourceURL string) (*types.Media, error) {
	id, err := e.submit(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	slog.Debug("download submitted", "request_id", id, "url", sourceURL)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		st, err := e.status(ctx, id)
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(st.Status) {
		case "DONE":
			return e.finish(ctx, sourceURL, st)
		case "ERROR":
			return nil, downloadFailure(st.errorText())
		default:
			slog.Debug("download in progress", "request_id", id, "status", st.Status, "progress", st.Progress)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// downloadFailure classifies the service's error text: URL problems are
// permanent, anything else is treated as the service being unwell.
func downloadFailure(msg string) error {
	lower := strings.ToLower(msg)
	err := errors.New(msg)
	switch {
	case strings.Contains(lower, "private") || strings.Contains(lower, "login required"):
		return types.Rejected(extractionName, "download", types.ReasonPrivate, err)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return types.Rejected(extractionName, "download", types.ReasonNotFound, err)
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "removed"):
		return types.Rejected(extractionName, "download", types.ReasonUnavailable, err)
	case strings.Contains(lower, "url"):
		return types.Rejected(extractionName, "download", types.ReasonMalformed, err)
	default:
		return types.Unavailable(extractionName, "download", err)
	}
}

func (e *Extraction) submit(ctx context.Context, sourceURL string) (string, error) {
	body, err := json.Marshal(downloadRequest{URL: sourceURL, Format: e.cfg.Format})
	if err != nil {
		return "", fmt.Errorf("marshal download request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var accepted downloadAccepted
	if err := e.doJSON(req, &accepted); err != nil {
		return "", err
	}
	if accepted.RequestID == "" {
		return "", types.Unavailable(extractionName, "download", errors.New("no request_id in response"))
	}
	return accepted.RequestID, nil
}

func (e *Extraction) status(ctx context.Context, id string) (*downloadStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/downloads/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	var st downloadStatus
	if err := e.doJSON(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (e *Extraction) finish(ctx context.Context, sourceURL string, st *downloadStatus) (*types.Media, error) {
	if st.FileURL == "" {
		return nil, types.Unavailable(extractionName, "download", errors.New("no file_url in completed download"))
	}
	duration := time.Duration(st.Duration * float64(time.Second))
	if e.cfg.MaxDuration > 0 && duration > e.cfg.MaxDuration {
		return nil, types.Rejected(extractionName, "download", types.ReasonTooLong,
			fmt.Errorf("video is %s, limit %s", duration.Round(time.Second), e.cfg.MaxDuration))
	}

	ref := st.FileURL
	if e.cfg.DownloadDir != "" {
		path, err := e.fetch(ctx, st.FileURL)
		if err != nil {
			return nil, err
		}
		ref = path
	}

	platform := st.Extractor
	if platform == "" {
		platform = platformOf(sourceURL)
	}
	return &types.Media{
		Reference: ref,
		Duration:  duration,
		Title:     st.Title,
		Author:    st.Uploader,
		Platform:  platform,
		Metadata:  st.Metadata,
	}, nil
}

// fetch copies the finished file into DownloadDir.
func (e *Extraction) fetch(ctx context.Context, fileURL string) (string, error) {
	if err := os.MkdirAll(e.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("create file request: %w", err)
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &llm.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	f, err := os.CreateTemp(e.cfg.DownloadDir, "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write video: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close video: %w", err)
	}
	return f.Name(), nil
}

// Release removes a locally downloaded file. References outside
// DownloadDir are left alone.
func (e *Extraction) Release(m *types.Media) error {
	if m == nil || e.cfg.DownloadDir == "" {
		return nil
	}
	dir, err := filepath.Abs(e.cfg.DownloadDir)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(m.Reference)
	if err != nil || !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media: %w", err)
	}
	return nil
}

// Healthcheck calls the service's /healthz endpoint.
func (e *Extraction) Healthcheck(ctx context.Context) bool {
	if e.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	e.auth(req)
	resp, err := e.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *Extraction) auth(req *http.Request) {
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
}

func (e *Extraction) doJSON(req *http.Request, out any) error {
	e.auth(req)
	resp, err := e.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &llm.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.Unavailable(extractionName, "decode", fmt.Errorf("parse response: %w", err))
	}
	return nil
}

func platformOf(sourceURL string) string {
	lower := strings.ToLower(sourceURL)
	switch {
	case strings.Contains(lower, "tiktok.com"):
		return "tiktok"
	case strings.Contains(lower, "instagram.com"):
		return "instagram"
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return "youtube"
	default:
		return "web"
	}
}
