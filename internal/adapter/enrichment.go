package adapter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

const enrichmentName = "enrichment"

const enrichmentPrompt = `Transform a video analysis into an educational knowledge base entry written in Markdown.
Someone should be able to learn from it without watching the video.

Use this structure:
# <Descriptive Title>
## Overview
## Key Concepts
## Tools & Technologies
## Step-by-Step Guide (if applicable)
## Practical Applications
## Important Notes
## Tags

If a technical diagram, flowchart or architecture illustration would materially help,
finish with one line of the form:
<!-- diagrams: short description; another description -->
Otherwise omit that line.`

var (
	diagramMarker = regexp.MustCompile(`(?m)^\s*<!--\s*diagrams?:\s*(.*?)\s*-->\s*$`)
	htmlBlock     = regexp.MustCompile(`(?i)<(p|h[1-6]|ul|ol|li|div|pre|table|br)\b[^>]*>`)
)

// Enrichment asks a text model to expand an approved analysis into a
// full entry.
type Enrichment struct {
	lifecycle
	provider llm.Provider
	model    string
}

var _ types.Enricher = (*Enrichment)(nil)

func NewEnrichment(p llm.Provider, model string) *Enrichment {
	e := &Enrichment{provider: p, model: model}
	e.lifecycle = lifecycle{name: enrichmentName, release: p.Close}
	return e
}

func (e *Enrichment) Call(ctx context.Context, req types.EnrichRequest) (*types.Enrichment, error) {
	if err := e.check("enrich"); err != nil {
		return nil, err
	}
	if req.Analysis == nil {
		return nil, types.Rejected(enrichmentName, "enrich", types.ReasonMalformed, errors.New("no analysis"))
	}

	resp, err := e.provider.Complete(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: enrichmentPrompt},
			{Role: "user", Content: describeAnalysis(req.Analysis, req.Category)},
		},
	})
	if err != nil {
		err = classify(enrichmentName, "enrich", err)
		dropConnections(err, e.provider.Close)
		return nil, err
	}

	out, err := parseEnrichment(resp.Content)
	if err != nil {
		return nil, types.Rejected(enrichmentName, "enrich", types.ReasonMalformed, err)
	}
	return out, nil
}

// Healthcheck pings the model endpoint.
func (e *Enrichment) Healthcheck(ctx context.Context) bool {
	return ping(ctx, &e.lifecycle, e.provider)
}

func describeAnalysis(a *types.Analysis, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Category: %s\n", category)
	fmt.Fprintf(&b, "Main topic: %s\n", a.MainTopic)
	if a.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", a.Difficulty)
	}
	fmt.Fprintf(&b, "Summary: %s\n", a.Summary)
	if len(a.KeyPoints) > 0 {
		b.WriteString("\nKey points:\n")
		for _, p := range a.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(a.Tools) > 0 {
		fmt.Fprintf(&b, "\nTools: %s\n", strings.Join(a.Tools, ", "))
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(a.Tags, ", "))
	}
	return b.String()
}

// parseEnrichment normalizes the model output to Markdown and pulls out
// the diagram marker.
func parseEnrichment(content string) (*types.Enrichment, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return nil, errors.New("empty model response")
	}

	out := &types.Enrichment{}
	if m := diagramMarker.FindStringSubmatch(body); m != nil {
		for _, hint := range strings.Split(m[1], ";") {
			if hint = strings.TrimSpace(hint); hint != "" {
				out.ImageHints = append(out.ImageHints, hint)
			}
		}
		out.NeedsDiagram = len(out.ImageHints) > 0
		body = strings.TrimSpace(diagramMarker.ReplaceAllString(body, ""))
	}

	body = unfence(body)
	if htmlBlock.MatchString(body) {
		md, err := htmltomarkdown.ConvertString(body)
		if err != nil {
			return nil, fmt.Errorf("convert html: %w", err)
		}
		body = strings.TrimSpace(md)
	}
	if body == "" {
		return nil, errors.New("no content after normalization")
	}
	out.Content = body
	return out, nil
}

// unfence removes a single ```markdown wrapper some models add.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || lang == "markdown" || lang == "md" || lang == "html" {
			inner = inner[nl+1:]
		} else {
			return s
		}
	}
	return strings.TrimSpace(inner)
}
