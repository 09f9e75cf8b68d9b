package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/user/knowledgebot/internal/pipeline"
	"github.com/user/knowledgebot/internal/types"
)

const defaultMailboxSize = 50

// Mailbox is the front-end for API clients: notices are queued per user
// and drained by polling.
type Mailbox struct {
	mu    sync.Mutex
	size  int
	boxes map[types.UserID][]types.Notice
	now   func() time.Time
}

// NewMailbox keeps at most size notices per user, dropping the oldest.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Mailbox{
		size:  size,
		boxes: make(map[types.UserID][]types.Notice),
		now:   time.Now,
	}
}

// PresentPreview queues the preview as an info notice carrying the
// available actions.
func (m *Mailbox) PresentPreview(_ context.Context, user types.UserID, p types.Preview) error {
	m.push(user, types.Notice{
		Kind:    types.NoticeInfo,
		Stage:   types.StageAwaitingApproval,
		Text:    pipeline.FormatPreview(p),
		Choices: p.Actions,
	})
	return nil
}

// Notify queues n.
func (m *Mailbox) Notify(_ context.Context, user types.UserID, n types.Notice) error {
	m.push(user, n)
	return nil
}

func (m *Mailbox) push(user types.UserID, n types.Notice) {
	if n.At.IsZero() {
		n.At = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	box := append(m.boxes[user], n)
	if len(box) > m.size {
		box = box[len(box)-m.size:]
	}
	m.boxes[user] = box
}

// Drain returns and clears the user's queued notices.
func (m *Mailbox) Drain(user types.UserID) []types.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.boxes[user]
	delete(m.boxes, user)
	return box
}

// Peek returns the user's queued notices without clearing them.
func (m *Mailbox) Peek(user types.UserID) []types.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Notice(nil), m.boxes[user]...)
}
