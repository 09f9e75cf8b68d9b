package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/user/knowledgebot/internal/types"
)

const defaultSupabaseTable = "knowledge_entries"

// SupabaseConfig holds the hosted store connection settings.
type SupabaseConfig struct {
	URL    string
	APIKey string
	Table  string
}

// Supabase stores entries as rows of a PostgREST table.
type Supabase struct {
	client *supabase.Client
	table  string
}

var _ types.KnowledgeStore = (*Supabase)(nil)

// supabaseRow mirrors the table columns.
type supabaseRow struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	SourceURL  string        `json:"source_url"`
	Platform   string        `json:"platform,omitempty"`
	Author     string        `json:"author,omitempty"`
	Category   string        `json:"category"`
	Topic      string        `json:"topic,omitempty"`
	Difficulty string        `json:"difficulty,omitempty"`
	Confidence float64       `json:"confidence"`
	Tags       []string      `json:"tags"`
	Content    string        `json:"content"`
	Images     []types.Image `json:"images"`
	CreatedAt  time.Time     `json:"created_at"`
}

func NewSupabase(cfg SupabaseConfig) (*Supabase, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultSupabaseTable
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Supabase{client: client, table: cfg.Table}, nil
}

func (s *Supabase) Name() string { return "supabase" }

func (s *Supabase) Healthcheck(ctx context.Context) bool {
	var rows []map[string]any
	return s.run(ctx, "healthcheck", func() error {
		_, err := s.client.From(s.table).Select("id", "", false).Limit(1, "").ExecuteTo(&rows)
		return err
	}) == nil
}

func (s *Supabase) Shutdown() error { return nil }

// run bounds a client call by ctx. postgrest-go builds its requests
// without a context, so an abandoned call keeps running to completion.
func (s *Supabase) run(ctx context.Context, op string, call func() error) error {
	if err := ctx.Err(); err != nil {
		return classify(s.Name(), op, err)
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return classify(s.Name(), op, err)
	case <-ctx.Done():
		return classify(s.Name(), op, ctx.Err())
	}
}

// Persist upserts the entry on id and returns "supabase:<table>/<id>".
// Repeating a write after a timeout leaves a single row.
func (s *Supabase) Persist(ctx context.Context, entry *types.Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = types.NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	row := toRow(entry)

	var inserted []supabaseRow
	err := s.run(ctx, "persist", func() error {
		_, err := s.client.From(s.table).Upsert(row, "id", "representation", "").ExecuteTo(&inserted)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert entry: %w", err)
	}
	id := row.ID
	if len(inserted) > 0 && inserted[0].ID != "" {
		id = inserted[0].ID
	}
	return fmt.Sprintf("supabase:%s/%s", s.table, id), nil
}

// List returns up to limit rows, newest first.
func (s *Supabase) List(ctx context.Context, limit int) ([]*types.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []supabaseRow
	err := s.run(ctx, "list", func() error {
		_, err := s.client.From(s.table).
			Select("*", "", false).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			Limit(limit, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make([]*types.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func toRow(e *types.Entry) supabaseRow {
	return supabaseRow{
		ID:         string(e.ID),
		Title:      e.Title,
		SourceURL:  e.SourceURL,
		Platform:   e.Platform,
		Author:     e.Author,
		Category:   e.Category,
		Topic:      e.Topic,
		Difficulty: e.Difficulty,
		Confidence: e.Confidence,
		Tags:       e.Tags,
		Content:    e.Content,
		Images:     e.Images,
		CreatedAt:  e.CreatedAt.UTC(),
	}
}

func (r supabaseRow) entry() *types.Entry {
	return &types.Entry{
		ID:         types.EntryID(r.ID),
		Title:      r.Title,
		SourceURL:  r.SourceURL,
		Platform:   r.Platform,
		Author:     r.Author,
		Category:   r.Category,
		Topic:      r.Topic,
		Difficulty: r.Difficulty,
		Confidence: r.Confidence,
		Tags:       r.Tags,
		Content:    r.Content,
		Images:     r.Images,
		CreatedAt:  r.CreatedAt,
	}
}
