package types

import (
	"errors"
	"testing"
)

func TestStageTerminal(t *testing.T) {
	for _, s := range []Stage{StageCompleted, StageCancelled, StageFailed, StageExpired} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Stage{StageQueued, StageDownloading, StageAnalyzing, StageAwaitingApproval, StageEnriching, StageGeneratingImages, StageStoring} {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestValidPath(t *testing.T) {
	tests := []struct {
		name  string
		path  []Stage
		valid bool
	}{
		{"happy", []Stage{StageQueued, StageDownloading, StageAnalyzing, StageAwaitingApproval, StageEnriching, StageStoring, StageCompleted}, true},
		{"with images", []Stage{StageQueued, StageDownloading, StageAnalyzing, StageAwaitingApproval, StageEnriching, StageGeneratingImages, StageStoring, StageCompleted}, true},
		{"regenerate", []Stage{StageQueued, StageDownloading, StageAnalyzing, StageAwaitingApproval, StageAnalyzing, StageAwaitingApproval, StageCancelled}, true},
		{"early failure", []Stage{StageQueued, StageDownloading, StageFailed}, true},
		{"skips analysis", []Stage{StageQueued, StageDownloading, StageEnriching}, false},
		{"leaves terminal", []Stage{StageQueued, StageFailed, StageDownloading}, false},
		{"terminal twice", []Stage{StageQueued, StageCancelled, StageExpired}, false},
		{"no queued", []Stage{StageDownloading, StageAnalyzing}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPath(tt.path); got != tt.valid {
				t.Errorf("ValidPath(%v) = %v, want %v", tt.path, got, tt.valid)
			}
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		UserID:   "u",
		Attempts: map[Stage]int{StageDownloading: 1},
		History:  []Stage{StageQueued},
		Analysis: &Analysis{Title: "a", Tags: []string{"x"}},
		Images:   []Image{{Reference: "img"}},
	}
	c := s.Clone()
	c.Attempts[StageDownloading] = 5
	c.History = append(c.History, StageDownloading)
	c.History[0] = StageFailed
	c.Analysis.Tags[0] = "changed"
	c.Images[0].Reference = "other"

	if s.Attempts[StageDownloading] != 1 {
		t.Errorf("attempts shared with clone")
	}
	if len(s.History) != 1 || s.History[0] != StageQueued {
		t.Errorf("history shared with clone: %v", s.History)
	}
	if s.Analysis.Tags[0] != "x" {
		t.Errorf("analysis shared with clone")
	}
	if s.Images[0].Reference != "img" {
		t.Errorf("images shared with clone")
	}
}

func TestServiceErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Rejected("extraction", "download", ReasonPrivate, cause)

	if !errors.Is(err, ErrRemoteRejected) {
		t.Error("expected errors.Is to match the kind")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("did not expect timeout kind")
	}
	if ReasonOf(err) != ReasonPrivate {
		t.Errorf("expected private reason, got %q", ReasonOf(err))
	}
	want := "extraction download: remote rejected (private): boom"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
