package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/types"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name string
		a    *types.Analysis
		want []string
	}{
		{"nil analysis", nil, []string{"general"}},
		{"model categories first", &types.Analysis{Categories: []string{"Security", "Web Development"}}, []string{"security", "web-development"}},
		{"unknown model category ignored", &types.Analysis{Categories: []string{"cooking"}}, []string{"general"}},
		{"keyword match", &types.Analysis{MainTopic: "Kubernetes operators"}, []string{"devops"}},
		{"capped at three", &types.Analysis{Categories: []string{"ai", "data", "linux", "macos"}}, []string{"ai", "data", "linux"}},
		{"deduped", &types.Analysis{Categories: []string{"linux"}, MainTopic: "ubuntu tips"}, []string{"linux"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.a, nil)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Suggest = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestFallbackWithoutGeneral(t *testing.T) {
	got := Suggest(nil, []string{"recipes", "travel"})
	if len(got) != 1 || got[0] != "recipes" {
		t.Errorf("Suggest = %v, want [recipes]", got)
	}
}

func TestDisplayConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 60}, {0.42, 60}, {0.6, 60}, {0.734, 73}, {0.85, 85}, {0.99, 85},
	}
	for _, tt := range tests {
		if got := displayConfidence(tt.in); got != tt.want {
			t.Errorf("displayConfidence(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	for in, want := range map[string]string{
		"ai":              "AI",
		"web-development": "Web Development",
		"macos":           "macOS",
		"general":         "General",
	} {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPreview(t *testing.T) {
	sess := &types.Session{
		Regenerations: 2,
		Media:         &types.Media{Title: "raw title", Author: "alice", Duration: 95 * time.Second},
		Analysis: &types.Analysis{
			MainTopic:  "prompt engineering",
			Categories: []string{"ai", "programming"},
			KeyPoints:  []string{"a", "b", "c"},
			Difficulty: "beginner",
			Confidence: 0.95,
		},
	}
	p := BuildPreview(sess, nil)

	if p.Title != "raw title" || p.Author != "alice" || p.Attempt != 3 || p.KeyPoints != 3 || p.Confidence != 85 {
		t.Errorf("preview = %+v", p)
	}
	var ids []string
	for _, a := range p.Actions {
		ids = append(ids, a.ID)
	}
	want := "approve:ai,approve:programming,pick,regen,reject"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("actions = %s, want %s", got, want)
	}

	text := FormatPreview(p)
	for _, s := range []string{"raw title", "alice", "95s", "AI", "85%", "attempt 3"} {
		if !strings.Contains(text, s) {
			t.Errorf("FormatPreview missing %q:\n%s", s, text)
		}
	}
}

func TestDiagramPolicy(t *testing.T) {
	on := DiagramPolicy(true)
	tests := []struct {
		name string
		e    *types.Enrichment
		want bool
	}{
		{"nil", nil, false},
		{"flagged", &types.Enrichment{NeedsDiagram: true}, true},
		{"two keywords", &types.Enrichment{Content: "The architecture of a CI pipeline"}, true},
		{"one keyword", &types.Enrichment{Content: "A short workflow tip"}, false},
	}
	for _, tt := range tests {
		if got := on(tt.e); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if DiagramPolicy(false)(&types.Enrichment{NeedsDiagram: true}) {
		t.Error("disabled policy returned true")
	}
}

type fakeExpirer struct {
	store   *session.Store
	expired []types.UserID
}

func (f *fakeExpirer) Expire(user types.UserID, _ types.RunID, _ time.Duration) bool {
	f.expired = append(f.expired, user)
	f.store.Remove(user)
	return true
}

func TestJanitorTTLBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := session.NewStore(session.WithClock(clock.Now))
	exp := &fakeExpirer{store: store}
	j := NewJanitor(store, exp, 30*time.Minute, time.Minute)

	if _, err := store.Create("old", testURL); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Nanosecond)
	if _, err := store.Create("young", testURL); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30*time.Minute - time.Nanosecond)
	if n := j.Sweep(); n != 0 {
		t.Fatalf("evicted %d at exactly ttl, want 0", n)
	}
	clock.Advance(time.Nanosecond)
	if n := j.Sweep(); n != 1 || exp.expired[0] != "old" {
		t.Fatalf("evicted %d (%v), want only old", n, exp.expired)
	}
	if store.Get("young") == nil {
		t.Error("session within ttl was evicted")
	}
}

func TestJanitorStartRejectsBadInterval(t *testing.T) {
	j := NewJanitor(session.NewStore(), &fakeExpirer{}, time.Minute, 0)
	if err := j.Start(); err == nil {
		t.Error("Start with zero interval succeeded")
	}
}

func TestJanitorStartStop(t *testing.T) {
	store := session.NewStore()
	j := NewJanitor(store, &fakeExpirer{store: store}, time.Minute, time.Hour)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}
