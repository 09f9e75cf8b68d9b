package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

const analysisName = "analysis"

const analysisPrompt = `You are analyzing a short educational video for a personal knowledge base.
Watch the video and answer with a single JSON object, no prose, using exactly these keys:

{
  "title": "concise title for the content",
  "summary": "two or three sentence summary",
  "main_topic": "primary subject matter",
  "categories": ["best matching category", "alternative", "alternative"],
  "difficulty": "beginner|intermediate|advanced",
  "key_points": ["point one", "point two"],
  "tags": ["tag"],
  "tools": ["tool or framework mentioned"],
  "confidence": 0.0
}

confidence is your certainty in the analysis between 0 and 1.`

// Analysis asks a multimodal model to describe a downloaded video.
type Analysis struct {
	lifecycle
	provider llm.Provider
	model    string
	// Categories, when set, is offered to the model as the preferred list.
	categories []string
}

var _ types.Analyzer = (*Analysis)(nil)

// NewAnalysis creates the analysis adapter. model may be empty to use the
// provider's default.
func NewAnalysis(p llm.Provider, model string, categories []string) *Analysis {
	a := &Analysis{provider: p, model: model, categories: categories}
	a.lifecycle = lifecycle{name: analysisName, release: p.Close}
	return a
}

func (a *Analysis) Call(ctx context.Context, req types.AnalyzeRequest) (*types.Analysis, error) {
	if err := a.check("analyze"); err != nil {
		return nil, err
	}
	if req.Media == nil || req.Media.Reference == "" {
		return nil, types.Rejected(analysisName, "analyze", types.ReasonMalformed, errors.New("no media reference"))
	}

	resp, err := a.provider.Complete(ctx, &llm.Request{
		Model: a.model,
		JSON:  true,
		Messages: []llm.Message{
			{Role: "system", Content: analysisPrompt},
			{Role: "user", Parts: []llm.Part{
				{Type: llm.PartText, Text: a.instructions(req)},
				{Type: llm.PartVideo, URL: req.Media.Reference},
			}},
		},
	})
	if err != nil {
		err = classify(analysisName, "analyze", err)
		dropConnections(err, a.provider.Close)
		return nil, err
	}

	out, err := parseAnalysis(resp.Content)
	if err != nil {
		return nil, types.Rejected(analysisName, "analyze", types.ReasonMalformed, err)
	}
	if out.Title == "" {
		out.Title = req.Media.Title
	}
	return out, nil
}

func (a *Analysis) instructions(req types.AnalyzeRequest) string {
	var b strings.Builder
	b.WriteString("Analyze this video")
	if req.Media.Title != "" {
		fmt.Fprintf(&b, " titled %q", req.Media.Title)
	}
	if req.Media.Author != "" {
		fmt.Fprintf(&b, " by %s", req.Media.Author)
	}
	if req.Media.Duration > 0 {
		fmt.Fprintf(&b, " (%s)", req.Media.Duration.Round(time.Second))
	}
	b.WriteString(".")
	if len(a.categories) > 0 {
		fmt.Fprintf(&b, "\nPrefer categories from this list: %s.", strings.Join(a.categories, ", "))
	}
	if req.FocusHint != "" {
		fmt.Fprintf(&b, "\nThe previous analysis was not accepted. Focus on: %s.", req.FocusHint)
	}
	return b.String()
}

// parseAnalysis decodes the model's answer, tolerating markdown fences.
func parseAnalysis(content string) (*types.Analysis, error) {
	raw := stripFences(content)
	if raw == "" {
		return nil, errors.New("empty model response")
	}
	var out types.Analysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	if out.MainTopic == "" && out.Summary == "" {
		return nil, errors.New("analysis has neither main_topic nor summary")
	}
	out.Confidence = clamp01(out.Confidence)
	out.Categories = dedupe(out.Categories)
	out.Raw = json.RawMessage(raw)
	return &out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		// Some models answer in percent.
		if f <= 100 {
			return f / 100
		}
		return 1
	}
	return f
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Healthcheck pings the model endpoint.
func (a *Analysis) Healthcheck(ctx context.Context) bool {
	return ping(ctx, &a.lifecycle, a.provider)
}

func ping(ctx context.Context, l *lifecycle, p llm.Provider) bool {
	if l.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return p.Ping(ctx) == nil
}
