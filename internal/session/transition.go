package session

import (
	"errors"
	"fmt"

	"github.com/user/knowledgebot/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrStale means the record moved on (another run, or another stage)
	// since the caller last looked at it.
	ErrStale = errors.New("stale session")
)

// Advance moves sess to stage `to`, recording it in the history.
func Advance(sess *types.Session, to types.Stage) error {
	if !sess.Stage.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Stage, to)
	}
	sess.Stage = to
	sess.History = append(sess.History, to)
	return nil
}

// Expect fails with ErrStale unless sess belongs to run and sits at stage.
func Expect(sess *types.Session, run types.RunID, stage types.Stage) error {
	if sess.RunID != run {
		return fmt.Errorf("%w: run %s replaced by %s", ErrStale, run, sess.RunID)
	}
	if sess.Stage != stage {
		return fmt.Errorf("%w: expected stage %s, found %s", ErrStale, stage, sess.Stage)
	}
	return nil
}
