package pipeline

import (
	"context"

	"github.com/user/knowledgebot/internal/types"
)

// FrontEnd is the chat surface the pipeline talks back to.
type FrontEnd interface {
	PresentPreview(ctx context.Context, user types.UserID, p types.Preview) error
	Notify(ctx context.Context, user types.UserID, n types.Notice) error
}

// Recorder receives every stage transition.
type Recorder interface {
	Record(ctx context.Context, t types.Transition) error
}

// MediaReleaser frees a downloaded file once the session is over.
type MediaReleaser interface {
	Release(m *types.Media) error
}

var progressText = map[types.Stage]string{
	types.StageDownloading:      "⬇️ Downloading video...",
	types.StageAnalyzing:        "🔍 Analyzing content...",
	types.StageEnriching:        "✍️ Writing the entry...",
	types.StageGeneratingImages: "🎨 Generating diagrams...",
	types.StageStoring:          "💾 Saving to the knowledge base...",
}

// failureText maps error reasons onto what the user is told.
var failureText = map[types.Reason]string{
	types.ReasonNotFound:    "the video could not be found",
	types.ReasonPrivate:     "the video is private",
	types.ReasonMalformed:   "the service returned something unusable",
	types.ReasonTooLong:     "the video is too long",
	types.ReasonUnavailable: "the service is unavailable right now",
	types.ReasonRateLimited: "the service is rate limiting us, try again later",
}
