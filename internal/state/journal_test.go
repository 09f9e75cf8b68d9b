package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/knowledgebot/internal/types"
)

func TestJournal(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir)
	ctx := context.Background()

	user := types.NewUserID("telegram", "42", "100")
	run := types.NewRunID()
	steps := []types.Stage{types.StageQueued, types.StageDownloading, types.StageAnalyzing}
	for i := 1; i < len(steps); i++ {
		if err := j.Record(ctx, types.Transition{UserID: user, RunID: run, From: steps[i-1], To: steps[i], At: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	history, err := j.History(ctx, user, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(history))
	}
	if history[1].To != types.StageAnalyzing || history[1].RunID != run {
		t.Errorf("unexpected last transition %+v", history[1])
	}

	tail, _ := j.History(ctx, user, 1)
	if len(tail) != 1 || tail[0].To != types.StageAnalyzing {
		t.Errorf("expected last transition only, got %+v", tail)
	}

	files, _ := j.Files()
	if len(files) != 1 || files[0] != "telegram_42_100" {
		t.Errorf("unexpected files %v", files)
	}

	if err := j.Clear(user); err != nil {
		t.Fatal(err)
	}
	history, _ = j.History(ctx, user, 0)
	if len(history) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(history))
	}
}

func TestJournalConcurrentAppend(t *testing.T) {
	j := NewJournal(t.TempDir())
	ctx := context.Background()
	user := types.UserID("http:alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Record(ctx, types.Transition{UserID: user, From: types.StageQueued, To: types.StageFailed})
		}()
	}
	wg.Wait()

	history, err := j.History(ctx, user, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 50 {
		t.Errorf("expected 50 records, got %d", len(history))
	}

	n, err := j.ClearAll()
	if err != nil || n != 1 {
		t.Errorf("expected 1 file cleared, got %d (%v)", n, err)
	}
}
