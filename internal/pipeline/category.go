package pipeline

import (
	"fmt"
	"strings"

	"github.com/user/knowledgebot/internal/types"
)

// DefaultCategories is the category list offered when none is configured.
var DefaultCategories = []string{
	"ai", "web-development", "programming", "devops", "mobile", "security",
	"data", "macos", "linux", "windows", "general",
}

// categoryKeywords maps analysed topics onto a category when the model
// did not name one we know.
var categoryKeywords = map[string][]string{
	"ai":              {" ai ", "machine learning", "llm", "gpt", "neural", "prompt", "chatgpt", "claude", "gemini"},
	"web-development": {"web", "javascript", "react", "css", "html", "frontend", "backend", "api", "node"},
	"programming":     {"code", "coding", "python", "golang", "go ", "rust", "java", "algorithm", "programming"},
	"devops":          {"docker", "kubernetes", "ci/cd", "deploy", "terraform", "cloud", "aws", "devops"},
	"mobile":          {"ios", "android", "swift", "kotlin", "flutter", "mobile", "app store"},
	"security":        {"security", "hacking", "password", "encryption", "vulnerability", "privacy"},
	"data":            {"data", "sql", "database", "analytics", "excel", "pandas", "spreadsheet"},
	"macos":           {"macos", "mac ", "finder", "homebrew", "apple"},
	"linux":           {"linux", "ubuntu", "bash", "terminal", "shell", "debian"},
	"windows":         {"windows", "powershell", "microsoft"},
}

const (
	ActionApprove  = "approve"
	ActionPick     = "pick"
	ActionCategory = "category"
	ActionRegen    = "regen"
	ActionReject   = "reject"

	maxSuggestions = 3
)

// Suggest returns up to three known categories for an analysis, best
// first. It never returns an empty list.
func Suggest(a *types.Analysis, known []string) []string {
	if len(known) == 0 {
		known = DefaultCategories
	}
	var out []string
	add := func(c string) {
		for _, have := range out {
			if have == c {
				return
			}
		}
		if len(out) < maxSuggestions {
			out = append(out, c)
		}
	}

	if a != nil {
		for _, c := range a.Categories {
			if k, ok := normalizeCategory(c, known); ok {
				add(k)
			}
		}
		text := " " + strings.ToLower(strings.Join(append([]string{a.MainTopic, a.Title}, a.Tags...), " ")) + " "
		for _, k := range known {
			for _, kw := range categoryKeywords[k] {
				if strings.Contains(text, kw) {
					add(k)
					break
				}
			}
		}
	}
	if len(out) == 0 {
		fallback := "general"
		if !contains(known, fallback) {
			fallback = known[0]
		}
		out = append(out, fallback)
	}
	return out
}

// normalizeCategory matches a free-form category name against known ones.
func normalizeCategory(c string, known []string) (string, bool) {
	slug := strings.Trim(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), " ", "-"), "-")
	if slug == "" {
		return "", false
	}
	for _, k := range known {
		if k == slug {
			return k, true
		}
	}
	for _, k := range known {
		for _, kw := range categoryKeywords[k] {
			if strings.TrimSpace(kw) == strings.ReplaceAll(slug, "-", " ") {
				return k, true
			}
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// BuildPreview renders what the user sees at the approval checkpoint.
func BuildPreview(sess *types.Session, known []string) types.Preview {
	a := sess.Analysis
	if a == nil {
		a = &types.Analysis{}
	}
	suggestions := Suggest(a, known)
	p := types.Preview{
		Title:       a.Title,
		MainTopic:   a.MainTopic,
		Category:    suggestions[0],
		Suggestions: suggestions,
		Difficulty:  a.Difficulty,
		Confidence:  displayConfidence(a.Confidence),
		KeyPoints:   len(a.KeyPoints),
		Attempt:     sess.Regenerations + 1,
	}
	if sess.Media != nil {
		p.Author = sess.Media.Author
		p.Duration = sess.Media.Duration
		if p.Title == "" {
			p.Title = sess.Media.Title
		}
	}
	for _, c := range suggestions {
		p.Actions = append(p.Actions, types.Action{ID: ActionApprove + ":" + c, Label: "✅ " + Label(c)})
	}
	p.Actions = append(p.Actions,
		types.Action{ID: ActionPick, Label: "📂 Choose category"},
		types.Action{ID: ActionRegen, Label: "🔄 Regenerate"},
		types.Action{ID: ActionReject, Label: "❌ Reject"},
	)
	return p
}

// CategoryChoices is the full keyboard shown after "Choose category".
func CategoryChoices(known []string) []types.Action {
	if len(known) == 0 {
		known = DefaultCategories
	}
	out := make([]types.Action, 0, len(known))
	for _, c := range known {
		out = append(out, types.Action{ID: ActionCategory + ":" + c, Label: Label(c)})
	}
	return out
}

// displayConfidence shows model confidence as a percentage clamped to
// 60..85.
func displayConfidence(c float64) int {
	pct := int(c*100 + 0.5)
	switch {
	case pct < 60:
		return 60
	case pct > 85:
		return 85
	}
	return pct
}

// Label turns "web-development" into "Web Development".
func Label(category string) string {
	switch category {
	case "ai":
		return "AI"
	case "macos":
		return "macOS"
	case "devops":
		return "DevOps"
	}
	words := strings.Split(category, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// FormatPreview renders p as plain text for front-ends without rich
// layouts.
func FormatPreview(p types.Preview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📹 %s\n", p.Title)
	if p.Author != "" {
		fmt.Fprintf(&b, "👤 %s\n", p.Author)
	}
	if p.Duration > 0 {
		fmt.Fprintf(&b, "⏱ %ds\n", int(p.Duration.Seconds()))
	}
	fmt.Fprintf(&b, "🎯 Topic: %s\n", p.MainTopic)
	fmt.Fprintf(&b, "📂 Suggested category: %s\n", Label(p.Category))
	if p.Difficulty != "" {
		fmt.Fprintf(&b, "📊 Difficulty: %s\n", p.Difficulty)
	}
	fmt.Fprintf(&b, "🔍 Confidence: %d%%\n", p.Confidence)
	fmt.Fprintf(&b, "📝 Key points: %d\n", p.KeyPoints)
	if p.Attempt > 1 {
		fmt.Fprintf(&b, "🔄 Analysis attempt %d\n", p.Attempt)
	}
	b.WriteString("\nApprove a category, pick another one, regenerate or reject.")
	return b.String()
}
