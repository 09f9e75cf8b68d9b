// internal/types/models.go
package types

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Stage is one step of a session's lifecycle.
type Stage string

const (
	StageQueued           Stage = "queued"
	StageDownloading      Stage = "downloading"
	StageAnalyzing        Stage = "analyzing"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageEnriching        Stage = "enriching"
	StageGeneratingImages Stage = "generating_images"
	StageStoring          Stage = "storing"
	StageCompleted        Stage = "completed"
	StageCancelled        Stage = "cancelled"
	StageFailed           Stage = "failed"
	StageExpired          Stage = "expired"
)

// forward lists the non-failure successors of each stage.
var forward = map[Stage][]Stage{
	StageQueued:           {StageDownloading},
	StageDownloading:      {StageAnalyzing},
	StageAnalyzing:        {StageAwaitingApproval},
	StageAwaitingApproval: {StageEnriching, StageAnalyzing, StageCancelled},
	StageEnriching:        {StageGeneratingImages, StageStoring},
	StageGeneratingImages: {StageStoring},
	StageStoring:          {StageCompleted},
}

func (s Stage) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageCancelled, StageFailed, StageExpired:
		return true
	}
	return false
}

// CanTransition reports whether to is a legal successor of s. Any
// non-terminal stage may move to Failed, Cancelled or Expired.
func (s Stage) CanTransition(to Stage) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case StageFailed, StageCancelled, StageExpired:
		return true
	}
	return slices.Contains(forward[s], to)
}

// ValidPath reports whether stages is a legal lifecycle starting at Queued.
func ValidPath(stages []Stage) bool {
	if len(stages) == 0 || stages[0] != StageQueued {
		return false
	}
	for i := 1; i < len(stages); i++ {
		if !stages[i-1].CanTransition(stages[i]) {
			return false
		}
	}
	return true
}

// Session is the in-flight state of one user's request.
type Session struct {
	ID               SessionID     `json:"id"`
	UserID           UserID        `json:"user_id"`
	RunID            RunID         `json:"run_id"`
	Stage            Stage         `json:"stage"`
	SourceURL        string        `json:"source_url"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActivityAt   time.Time     `json:"last_activity_at"`
	Media            *Media        `json:"media,omitempty"`
	Analysis         *Analysis     `json:"analysis,omitempty"`
	SelectedCategory string        `json:"selected_category,omitempty"`
	Enrichment       *Enrichment   `json:"enrichment,omitempty"`
	Images           []Image       `json:"images,omitempty"`
	Attempts         map[Stage]int `json:"attempts,omitempty"`
	Regenerations    int           `json:"regenerations"`
	FocusHint        string        `json:"focus_hint,omitempty"`
	Pending          *Decision     `json:"pending,omitempty"`
	History          []Stage       `json:"history"`
	Location         string        `json:"location,omitempty"`
	FailedStage      Stage         `json:"failed_stage,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy so callers never share the store's record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Media = s.Media.clone()
	c.Analysis = s.Analysis.clone()
	if s.Enrichment != nil {
		e := *s.Enrichment
		e.ImageHints = slices.Clone(s.Enrichment.ImageHints)
		c.Enrichment = &e
	}
	if s.Pending != nil {
		d := *s.Pending
		c.Pending = &d
	}
	c.Images = slices.Clone(s.Images)
	c.Attempts = maps.Clone(s.Attempts)
	c.History = slices.Clone(s.History)
	return &c
}

// StageResult is the outcome of one stage execution.
type StageResult struct {
	Stage    Stage
	Success  bool
	Payload  any
	Err      error
	Attempts int
}

type DecisionKind string

const (
	DecisionApprove    DecisionKind = "approve"
	DecisionReject     DecisionKind = "reject"
	DecisionRegenerate DecisionKind = "regenerate"
)

// Decision resolves the approval checkpoint.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	Category  string       `json:"category,omitempty"`
	FocusHint string       `json:"focus_hint,omitempty"`
}

func Approve(category string) Decision { return Decision{Kind: DecisionApprove, Category: category} }
func Reject() Decision                 { return Decision{Kind: DecisionReject} }
func Regenerate(hint string) Decision  { return Decision{Kind: DecisionRegenerate, FocusHint: hint} }

// Media is the Extraction Service's answer.
type Media struct {
	Reference string          `json:"reference"`
	Duration  time.Duration   `json:"duration"`
	Title     string          `json:"title,omitempty"`
	Author    string          `json:"author,omitempty"`
	Platform  string          `json:"platform,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func (m *Media) clone() *Media {
	if m == nil {
		return nil
	}
	c := *m
	c.Metadata = slices.Clone(m.Metadata)
	return &c
}

// Analysis is the structured payload returned by the Analysis Model.
type Analysis struct {
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	MainTopic  string          `json:"main_topic"`
	Categories []string        `json:"categories,omitempty"`
	Difficulty string          `json:"difficulty,omitempty"`
	KeyPoints  []string        `json:"key_points,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Tools      []string        `json:"tools,omitempty"`
	Confidence float64         `json:"confidence"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

func (a *Analysis) clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Categories = slices.Clone(a.Categories)
	c.KeyPoints = slices.Clone(a.KeyPoints)
	c.Tags = slices.Clone(a.Tags)
	c.Tools = slices.Clone(a.Tools)
	c.Raw = slices.Clone(a.Raw)
	return &c
}

// Enrichment is the long-form content produced by the Enrichment Model.
type Enrichment struct {
	Content      string   `json:"content"`
	NeedsDiagram bool     `json:"needs_diagram"`
	ImageHints   []string `json:"image_hints,omitempty"`
}

// Image is a generated illustration.
type Image struct {
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// Entry is one knowledge-store record.
type Entry struct {
	ID         EntryID   `json:"id"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"source_url"`
	Platform   string    `json:"platform,omitempty"`
	Author     string    `json:"author,omitempty"`
	Category   string    `json:"category"`
	Topic      string    `json:"topic,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	Content    string    `json:"content"`
	Images     []Image   `json:"images,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Action is one choice offered to the user at the approval checkpoint.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Preview is the short summary rendered at the approval checkpoint.
type Preview struct {
	Title       string        `json:"title"`
	Author      string        `json:"author,omitempty"`
	Duration    time.Duration `json:"duration"`
	MainTopic   string        `json:"main_topic"`
	Category    string        `json:"category"`
	Suggestions []string      `json:"suggestions"`
	Difficulty  string        `json:"difficulty,omitempty"`
	Confidence  int           `json:"confidence"`
	KeyPoints   int           `json:"key_points"`
	Attempt     int           `json:"attempt"`
	Actions     []Action      `json:"actions"`
}

type NoticeKind string

const (
	NoticeProgress  NoticeKind = "progress"
	NoticeInfo      NoticeKind = "info"
	NoticeCompleted NoticeKind = "completed"
	NoticeFailed    NoticeKind = "failed"
	NoticeCancelled NoticeKind = "cancelled"
	NoticeExpired   NoticeKind = "expired"
)

// Notice is a message for the front-end.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Stage    Stage      `json:"stage,omitempty"`
	Text     string     `json:"text"`
	Location string     `json:"location,omitempty"`
	Choices  []Action   `json:"choices,omitempty"`
	At       time.Time  `json:"at"`
}

// Terminal reports whether the notice ends a session.
func (n Notice) Terminal() bool {
	switch n.Kind {
	case NoticeCompleted, NoticeFailed, NoticeCancelled, NoticeExpired:
		return true
	}
	return false
}

// Transition is one journal record. Attempts is how many adapter calls
// the stage being left took.
type Transition struct {
	UserID   UserID    `json:"user_id"`
	RunID    RunID     `json:"run_id"`
	From     Stage     `json:"from"`
	To       Stage     `json:"to"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Note     string    `json:"note,omitempty"`
}
