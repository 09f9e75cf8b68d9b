package pipeline

import (
	"strings"

	"github.com/user/knowledgebot/internal/types"
)

// ImagePolicy decides, once enrichment finishes, whether the entry gets
// illustrations.
type ImagePolicy func(*types.Enrichment) bool

var diagramKeywords = []string{
	"architecture", "workflow", "pipeline", "flowchart", "diagram",
	"step-by-step", "data flow", "system design", "network topology",
}

// DiagramPolicy enables images when the model asked for a diagram or the
// content reads like something a diagram would help with.
func DiagramPolicy(enabled bool) ImagePolicy {
	return func(e *types.Enrichment) bool {
		if !enabled || e == nil {
			return false
		}
		if e.NeedsDiagram {
			return true
		}
		lower := strings.ToLower(e.Content)
		hits := 0
		for _, kw := range diagramKeywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		return hits >= 2
	}
}

// NeverImages skips the image stage.
func NeverImages(*types.Enrichment) bool { return false }
