package excerpt

import (
	"strings"
	"testing"
)

func TestApproximateShortTextUnchanged(t *testing.T) {
	b := Approximate(100)
	if got := b.Truncate("  short text  "); got != "short text" {
		t.Errorf("expected trimmed text unchanged, got %q", got)
	}
}

func TestApproximateTruncates(t *testing.T) {
	b := Approximate(10)
	text := strings.Repeat("word ", 100)
	got := b.Truncate(text)
	if b.Count(got) > 10 {
		t.Errorf("expected at most 10 tokens, got %d (%q)", b.Count(got), got)
	}
	if got == "" {
		t.Error("expected a non-empty excerpt")
	}
}

func TestTruncateCutsAtSentence(t *testing.T) {
	b := Approximate(12)
	text := "Alpha beta gamma delta epsilon zeta eta. Theta iota kappa lambda mu nu xi omicron pi rho."
	got := b.Truncate(text)
	if !strings.HasSuffix(got, ".") {
		t.Errorf("expected excerpt to end at a sentence break, got %q", got)
	}
}

func TestZeroBudgetKeepsEverything(t *testing.T) {
	b := Approximate(0)
	text := strings.Repeat("x", 1000)
	if got := b.Truncate(text); got != text {
		t.Error("expected zero budget to disable truncation")
	}
}

func TestTiktokenBudget(t *testing.T) {
	b, err := New("gpt-4", 20)
	if err != nil {
		t.Skipf("tokenizer tables unavailable: %v", err)
	}
	text := strings.Repeat("Pipelines move data between stages. ", 50)
	got := b.Truncate(text)
	if b.Count(got) > 20 {
		t.Errorf("expected at most 20 tokens, got %d", b.Count(got))
	}
	if b.MaxTokens() != 20 {
		t.Errorf("expected max tokens 20, got %d", b.MaxTokens())
	}
}
