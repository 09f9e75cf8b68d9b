package adapter

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

// stubProvider answers Complete from a queue of canned responses.
type stubProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []*llm.Request
	pingErr   error
	closed    int
}

func (s *stubProvider) Complete(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.responses) == 0 {
		return &llm.Response{}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *stubProvider) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubProvider) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func TestAnalysisParsesFencedJSON(t *testing.T) {
	p := &stubProvider{responses: []*llm.Response{{Content: "```json\n" +
		`{"title":"Channels","summary":"How channels work","main_topic":"Go concurrency",` +
		`"categories":["Programming","programming","Go"],"difficulty":"intermediate",` +
		`"key_points":["unbuffered","buffered"],"confidence":87}` + "\n```"}}}
	a := NewAnalysis(p, "vision-model", []string{"Programming", "DevOps"})

	out, err := a.Call(context.Background(), types.AnalyzeRequest{
		Media:     &types.Media{Reference: "https://cdn/v.mp4", Title: "orig", Duration: time.Minute},
		FocusHint: "select statements",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.MainTopic != "Go concurrency" || out.Title != "Channels" {
		t.Errorf("unexpected analysis %+v", out)
	}
	if out.Confidence != 0.87 {
		t.Errorf("expected confidence scaled to 0.87, got %v", out.Confidence)
	}
	if len(out.Categories) != 2 {
		t.Errorf("expected duplicate categories removed, got %v", out.Categories)
	}

	req := p.requests[0]
	if !req.JSON || req.Model != "vision-model" {
		t.Errorf("expected JSON request on vision-model, got %+v", req)
	}
	user := req.Messages[1]
	if user.Parts[1].Type != llm.PartVideo || user.Parts[1].URL != "https://cdn/v.mp4" {
		t.Errorf("expected video part, got %+v", user.Parts)
	}
	if !strings.Contains(user.Parts[0].Text, "select statements") {
		t.Error("focus hint missing from instructions")
	}
	if !strings.Contains(user.Parts[0].Text, "Programming, DevOps") {
		t.Error("category list missing from instructions")
	}
}

func TestAnalysisMalformedIsPermanent(t *testing.T) {
	p := &stubProvider{responses: []*llm.Response{{Content: "I could not watch the video, sorry."}}}
	a := NewAnalysis(p, "", nil)
	_, err := a.Call(context.Background(), types.AnalyzeRequest{Media: &types.Media{Reference: "x"}})
	if !errors.Is(err, types.ErrRemoteRejected) || types.ReasonOf(err) != types.ReasonMalformed {
		t.Fatalf("expected malformed rejection, got %v", err)
	}
}

func TestAnalysisStatusErrors(t *testing.T) {
	p := &stubProvider{errs: []error{&llm.StatusError{StatusCode: http.StatusTooManyRequests}}}
	a := NewAnalysis(p, "", nil)
	_, err := a.Call(context.Background(), types.AnalyzeRequest{Media: &types.Media{Reference: "x"}})
	if !errors.Is(err, types.ErrRemoteUnavailable) || types.ReasonOf(err) != types.ReasonRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if p.closed != 1 {
		t.Errorf("expected connections dropped after unavailable, got %d closes", p.closed)
	}
}

func TestAnalysisRequiresMedia(t *testing.T) {
	a := NewAnalysis(&stubProvider{}, "", nil)
	if _, err := a.Call(context.Background(), types.AnalyzeRequest{}); !errors.Is(err, types.ErrRemoteRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestParseEnrichmentDiagramMarker(t *testing.T) {
	out, err := parseEnrichment("# Channels\n\n## Overview\nText.\n\n<!-- diagrams: producer consumer flow; select fan-in -->\n")
	if err != nil {
		t.Fatal(err)
	}
	if !out.NeedsDiagram || len(out.ImageHints) != 2 || out.ImageHints[1] != "select fan-in" {
		t.Errorf("unexpected hints %+v", out)
	}
	if strings.Contains(out.Content, "diagrams:") {
		t.Error("marker should be stripped from content")
	}
}

func TestParseEnrichmentHTML(t *testing.T) {
	out, err := parseEnrichment("<h1>Channels</h1><p>They <strong>block</strong>.</p>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.Content, "# Channels") {
		t.Errorf("expected markdown heading, got %q", out.Content)
	}
	if !strings.Contains(out.Content, "**block**") {
		t.Errorf("expected bold markdown, got %q", out.Content)
	}
	if out.NeedsDiagram {
		t.Error("no marker means no diagram")
	}
}

func TestParseEnrichmentFenced(t *testing.T) {
	out, err := parseEnrichment("```markdown\n# Title\nbody\n```")
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "# Title\nbody" {
		t.Errorf("unexpected content %q", out.Content)
	}
	if _, err := parseEnrichment("   "); err == nil {
		t.Error("expected error for empty output")
	}
}

func TestEnrichmentCall(t *testing.T) {
	p := &stubProvider{responses: []*llm.Response{{Content: "# Entry\nBody"}}}
	e := NewEnrichment(p, "text-model")
	out, err := e.Call(context.Background(), types.EnrichRequest{
		Analysis: &types.Analysis{Title: "Channels", MainTopic: "Go", KeyPoints: []string{"one"}},
		Category: "Programming",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "# Entry\nBody" {
		t.Errorf("unexpected content %q", out.Content)
	}
	prompt := p.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "Category: Programming") || !strings.Contains(prompt, "- one") {
		t.Errorf("unexpected prompt %q", prompt)
	}
}

func TestImageWritesFiles(t *testing.T) {
	// 1x1 transparent png
	const png = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
	p := &stubProvider{
		errs:      []error{nil, errors.New("boom")},
		responses: []*llm.Response{{Images: []string{"data:image/png;base64," + png}}},
	}
	dir := t.TempDir()
	g := NewImage(p, "image-model", dir)
	g.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	images, err := g.Call(context.Background(), types.ImageRequest{
		Title: "Go Channels!",
		Hints: []string{"flow", "fan-in", "third", "fourth"},
		Max:   3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.requests) != 3 {
		t.Fatalf("expected 3 attempts capped by Max, got %d", len(p.requests))
	}
	// second hint failed, the other two landed
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].Description != "flow" || images[1].Description != "third" {
		t.Errorf("unexpected descriptions %+v", images)
	}
	if !strings.HasSuffix(images[0].Reference, "20240501_100000_go-channels_1.png") {
		t.Errorf("unexpected file name %s", images[0].Reference)
	}
	if _, err := os.Stat(images[0].Reference); err != nil {
		t.Errorf("image not written: %v", err)
	}
	if p.requests[0].Modalities[0] != "image" {
		t.Errorf("expected image modality, got %v", p.requests[0].Modalities)
	}
}

func TestImageAllFail(t *testing.T) {
	p := &stubProvider{responses: []*llm.Response{{Content: "no picture"}}}
	g := NewImage(p, "", t.TempDir())
	_, err := g.Call(context.Background(), types.ImageRequest{Title: "x", Hints: []string{"a"}})
	if !errors.Is(err, types.ErrRemoteRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, ext, err := decodeDataURL("data:image/jpeg;base64,aGk=")
	if err != nil || string(data) != "hi" || ext != "jpg" {
		t.Errorf("got %q %q %v", data, ext, err)
	}
	if _, _, err := decodeDataURL("https://cdn/x.png"); err == nil {
		t.Error("expected error for non-data url")
	}
}

func TestModelHealthcheck(t *testing.T) {
	p := &stubProvider{}
	a := NewAnalysis(p, "", nil)
	if !a.Healthcheck(context.Background()) {
		t.Error("expected healthy")
	}
	p.pingErr = errors.New("down")
	if a.Healthcheck(context.Background()) {
		t.Error("expected unhealthy")
	}
}
