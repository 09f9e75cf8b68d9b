// Package knowledge holds the Knowledge Store drivers: Markdown files on
// disk, SQLite, Supabase, and a fan-out wrapper combining two of them.
package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/knowledgebot/internal/types"
)

const (
	slugMax        = 50
	frontmatterSep = "---"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// frontmatter is the YAML header of an entry file.
type frontmatter struct {
	ID         string    `yaml:"id"`
	Title      string    `yaml:"title"`
	Date       time.Time `yaml:"date"`
	SourceURL  string    `yaml:"source_url"`
	Platform   string    `yaml:"platform,omitempty"`
	Author     string    `yaml:"author,omitempty"`
	Category   string    `yaml:"category"`
	Topic      string    `yaml:"topic,omitempty"`
	Tags       []string  `yaml:"tags,omitempty"`
	Difficulty string    `yaml:"difficulty,omitempty"`
	Confidence float64   `yaml:"confidence"`
	Images     []string  `yaml:"images,omitempty"`
}

// Markdown writes one file per entry under <root>/<category>/.
type Markdown struct {
	root string
	// mu serialises name allocation so two entries never claim one file.
	mu sync.Mutex
}

var _ types.KnowledgeStore = (*Markdown)(nil)

// NewMarkdown creates a file-backed store rooted at root.
func NewMarkdown(root string) *Markdown {
	return &Markdown{root: root}
}

func (m *Markdown) Name() string { return "markdown" }

// Healthcheck verifies the root is a writable directory.
func (m *Markdown) Healthcheck(ctx context.Context) bool {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(m.root, ".probe-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

func (m *Markdown) Shutdown() error { return nil }

// Persist writes entry and returns the file path.
func (m *Markdown) Persist(ctx context.Context, entry *types.Entry) (string, error) {
	path, err := m.persist(ctx, entry)
	if err != nil {
		return "", classify(m.Name(), "persist", err)
	}
	return path, nil
}

func (m *Markdown) persist(ctx context.Context, entry *types.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if entry.ID == "" {
		entry.ID = types.NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	body, err := render(entry)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(m.root, Slug(entry.Category, slugMax, "general"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create category dir: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.freeName(dir, entry)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename entry: %w", err)
	}
	return path, nil
}

// freeName returns YYYYMMDD-<slug>.md, adding -2, -3... when taken.
func (m *Markdown) freeName(dir string, entry *types.Entry) string {
	base := entry.CreatedAt.Format("20060102") + "-" + Slug(entry.Title, slugMax, "untitled")
	path := filepath.Join(dir, base+".md")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.md", base, n))
	}
}

func render(entry *types.Entry) ([]byte, error) {
	fm := frontmatter{
		ID:         string(entry.ID),
		Title:      entry.Title,
		Date:       entry.CreatedAt.UTC(),
		SourceURL:  entry.SourceURL,
		Platform:   entry.Platform,
		Author:     entry.Author,
		Category:   entry.Category,
		Topic:      entry.Topic,
		Tags:       entry.Tags,
		Difficulty: entry.Difficulty,
		Confidence: entry.Confidence,
	}
	for _, img := range entry.Images {
		fm.Images = append(fm.Images, img.Reference)
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(frontmatterSep + "\n")
	b.Write(header)
	b.WriteString(frontmatterSep + "\n\n")
	b.WriteString(strings.TrimSpace(entry.Content))
	b.WriteString("\n")
	if len(entry.Images) > 0 {
		b.WriteString("\n## Diagrams\n\n")
		for _, img := range entry.Images {
			alt := img.Description
			if alt == "" {
				alt = "diagram"
			}
			fmt.Fprintf(&b, "![%s](%s)\n\n", alt, img.Reference)
		}
	}
	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "*Source: %s*\n", entry.SourceURL)
	return b.Bytes(), nil
}

// List reads entries back, newest first. limit <= 0 means all.
func (m *Markdown) List(ctx context.Context, limit int) ([]*types.Entry, error) {
	var out []*types.Entry
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		entry, err := readEntry(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func readEntry(path string) (*types.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	entry := &types.Entry{
		ID:         types.EntryID(fm.ID),
		Title:      fm.Title,
		SourceURL:  fm.SourceURL,
		Platform:   fm.Platform,
		Author:     fm.Author,
		Category:   fm.Category,
		Topic:      fm.Topic,
		Difficulty: fm.Difficulty,
		Confidence: fm.Confidence,
		Tags:       fm.Tags,
		Content:    strings.TrimSpace(string(body)),
		CreatedAt:  fm.Date,
	}
	for _, ref := range fm.Images {
		entry.Images = append(entry.Images, types.Image{Reference: ref})
	}
	return entry, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != frontmatterSep {
		return nil, nil, errors.New("missing frontmatter")
	}
	var header bytes.Buffer
	offset := len(sc.Bytes()) + 1
	for sc.Scan() {
		line := sc.Bytes()
		offset += len(line) + 1
		if strings.TrimSpace(string(line)) == frontmatterSep {
			if offset > len(data) {
				offset = len(data)
			}
			return header.Bytes(), data[offset:], nil
		}
		header.Write(line)
		header.WriteByte('\n')
	}
	return nil, nil, errors.New("unterminated frontmatter")
}

// Slug lowercases s, replaces runs of other characters with '-' and cuts
// it to max bytes. Empty results become fallback.
func Slug(s string, max int, fallback string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > max {
		slug = strings.TrimRight(slug[:max], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}
