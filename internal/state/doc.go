// Package state provides the filesystem-backed transition journal.
package state

import "github.com/user/knowledgebot/internal/pipeline"

// Compile-time interface compliance check.
var _ pipeline.Recorder = (*Journal)(nil)
