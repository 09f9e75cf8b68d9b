// internal/types/interfaces.go
package types

import "context"

// Lifecycle is the part of an adapter that the process owns: it is probed
// by health endpoints and released once on shutdown.
type Lifecycle interface {
	Name() string
	Healthcheck(ctx context.Context) bool
	Shutdown() error
}

// Service wraps one remote collaborator.
type Service[Req, Resp any] interface {
	Lifecycle
	Call(ctx context.Context, req Req) (Resp, error)
}

type ExtractRequest struct {
	SourceURL string
}

type AnalyzeRequest struct {
	Media     *Media
	FocusHint string
}

type EnrichRequest struct {
	Analysis *Analysis
	Category string
}

type ImageRequest struct {
	Title   string
	Excerpt string
	Hints   []string
	Max     int
}

type (
	Extractor   = Service[ExtractRequest, *Media]
	Analyzer    = Service[AnalyzeRequest, *Analysis]
	Enricher    = Service[EnrichRequest, *Enrichment]
	Illustrator = Service[ImageRequest, []Image]
)

// KnowledgeStore persists finished entries and returns where they landed.
type KnowledgeStore interface {
	Lifecycle
	Persist(ctx context.Context, entry *Entry) (string, error)
}

// EntryLister is implemented by stores that can enumerate what they hold.
type EntryLister interface {
	List(ctx context.Context, limit int) ([]*Entry, error)
}
