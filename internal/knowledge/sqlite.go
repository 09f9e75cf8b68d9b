package knowledge

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/knowledgebot/internal/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite stores entries in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ types.KnowledgeStore = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) applyMigrations(ctx context.Context) error {
	names, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	versions := make([]string, 0, len(names))
	for _, n := range names {
		if !n.IsDir() {
			versions = append(versions, n.Name())
		}
	}
	sort.Strings(versions)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, name := range versions {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Healthcheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Shutdown closes the database.
func (s *SQLite) Shutdown() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persist inserts entry and returns "sqlite:<path>#<id>". A second write
// of the same id is a no-op.
func (s *SQLite) Persist(ctx context.Context, entry *types.Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = types.NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	tags, err := json.Marshal(nonNil(entry.Tags))
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	images, err := json.Marshal(entry.Images)
	if err != nil {
		return "", fmt.Errorf("marshal images: %w", err)
	}
	if entry.Images == nil {
		images = []byte("[]")
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO entries (
                id, title, source_url, platform, author, category, topic,
                difficulty, confidence, tags_json, content, images_json, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO NOTHING`,
			string(entry.ID),
			entry.Title,
			entry.SourceURL,
			nullableString(entry.Platform),
			nullableString(entry.Author),
			entry.Category,
			nullableString(entry.Topic),
			nullableString(entry.Difficulty),
			entry.Confidence,
			string(tags),
			entry.Content,
			string(images),
			entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", classify(s.Name(), "persist", err))
	}
	return fmt.Sprintf("sqlite:%s#%s", s.path, entry.ID), nil
}

// List returns entries newest first. limit <= 0 means all.
func (s *SQLite) List(ctx context.Context, limit int) ([]*types.Entry, error) {
	query := `SELECT id, title, source_url, platform, author, category, topic,
        difficulty, confidence, tags_json, content, images_json, created_at
        FROM entries ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		var (
			e                                   types.Entry
			id, tags, images, created           string
			platform, author, topic, difficulty sql.NullString
		)
		if err := rows.Scan(&id, &e.Title, &e.SourceURL, &platform, &author, &e.Category, &topic,
			&difficulty, &e.Confidence, &tags, &e.Content, &images, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID = types.EntryID(id)
		e.Platform = platform.String
		e.Author = author.String
		e.Topic = topic.String
		e.Difficulty = difficulty.String
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(images), &e.Images); err != nil {
			return nil, fmt.Errorf("decode images for %s: %w", id, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
