package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/user/knowledgebot/internal/types"
)

var unsafeFile = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Journal is a JSONL-backed append-only log of stage transitions.
// Records are stored per user in journal/<user>.jsonl.
type Journal struct {
	root  string
	mu    sync.Mutex
	locks map[types.UserID]*sync.Mutex
}

// NewJournal creates a journal rooted at dir.
func NewJournal(dir string) *Journal {
	return &Journal{
		root:  dir,
		locks: make(map[types.UserID]*sync.Mutex),
	}
}

// getLock returns the per-user mutex, creating one if it doesn't exist.
func (j *Journal) getLock(user types.UserID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[user]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[user] = lock
	return lock
}

// fileName maps a user id onto a safe file name: "telegram:1:2" becomes
// "telegram_1_2.jsonl".
func fileName(user types.UserID) string {
	return unsafeFile.ReplaceAllString(string(user), "_") + ".jsonl"
}

func (j *Journal) path(user types.UserID) string {
	return filepath.Join(j.root, fileName(user))
}

// Record appends one transition to the user's log.
func (j *Journal) Record(_ context.Context, t types.Transition) error {
	lock := j.getLock(t.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(j.root, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	f, err := os.OpenFile(j.path(t.UserID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// History returns the last limit transitions for user, oldest first.
// limit <= 0 returns everything.
func (j *Journal) History(_ context.Context, user types.UserID, limit int) ([]types.Transition, error) {
	lock := j.getLock(user)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(j.path(user))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	var out []types.Transition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var t types.Transition
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("unmarshal transition: %w", err)
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal file: %w", err)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Clear removes the user's log.
func (j *Journal) Clear(user types.UserID) error {
	lock := j.getLock(user)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(j.path(user)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal file: %w", err)
	}
	return nil
}

// ClearAll removes every log and returns how many were deleted.
func (j *Journal) ClearAll() (int, error) {
	files, err := filepath.Glob(filepath.Join(j.root, "*.jsonl"))
	if err != nil {
		return 0, fmt.Errorf("glob journal: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return 0, fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return len(files), nil
}

// Files lists the journal file stems, sorted.
func (j *Journal) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.root, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("glob journal: %w", err)
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, strings.TrimSuffix(filepath.Base(f), ".jsonl"))
	}
	sort.Strings(out)
	return out, nil
}
