package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/knowledgebot/internal/pipeline"
	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/types"
)

type fakeSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakePipeline struct {
	submitted []string
	users     []types.UserID
	err       error
	cancelled bool
}

func (f *fakePipeline) Submit(_ context.Context, user types.UserID, rawURL string) (*types.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.users = append(f.users, user)
	f.submitted = append(f.submitted, rawURL)
	return &types.Session{UserID: user}, nil
}

func (f *fakePipeline) Cancel(types.UserID) bool { return f.cancelled }
func (f *fakePipeline) Platforms() []string    { return []string{"tiktok", "instagram"} }

type fakeGate struct {
	actions []string
	applied bool
	choices []types.Action
}

func (f *fakeGate) HandleAction(_ types.UserID, id string) (bool, []types.Action, error) {
	f.actions = append(f.actions, id)
	return f.applied, f.choices, nil
}

type fakeSessions map[types.UserID]*types.Session

func (f fakeSessions) Get(user types.UserID) *types.Session { return f[user] }

func textMessage(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 100},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func newTestAdapter(p *fakePipeline, g *fakeGate, s fakeSessions) (*Adapter, *fakeSender) {
	sender := &fakeSender{}
	return newAdapter(sender, p, g, s, nil), sender
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 || parts[0] != short {
		t.Fatalf("splitMessage(short) = %q", parts)
	}

	parts = splitMessage(strings.Repeat("a", 5000))
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	user := buildUserID(12345, -67890)
	if string(user) != "telegram:12345:-67890" {
		t.Errorf("buildUserID = %q", user)
	}
	chat, err := chatIDOf(user)
	if err != nil || chat != -67890 {
		t.Errorf("chatIDOf = %d, %v", chat, err)
	}
	if _, err := chatIDOf("http:alice"); err == nil {
		t.Error("chatIDOf accepted a non-telegram user")
	}
}

func TestMessageWithLinkSubmits(t *testing.T) {
	p := &fakePipeline{}
	a, sender := newTestAdapter(p, &fakeGate{}, nil)

	a.handleUpdate(context.Background(), tgbotapi.Update{
		Message: textMessage("look at this https://www.tiktok.com/@dev/video/123."),
	})

	if len(p.submitted) != 1 || p.submitted[0] != "https://www.tiktok.com/@dev/video/123" {
		t.Fatalf("submitted = %q", p.submitted)
	}
	if p.users[0] != "telegram:42:100" {
		t.Errorf("user = %q", p.users[0])
	}
	if texts := sender.texts(); len(texts) != 1 || !strings.Contains(texts[0], "Got it") {
		t.Errorf("replies = %q", texts)
	}
}

func TestSubmitErrorsAreExplained(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unsupported", types.ErrUnsupportedURL, "tiktok, instagram"},
		{"active", &session.AlreadyActiveError{UserID: "telegram:42:100", Stage: types.StageAnalyzing}, "/cancel"},
		{"rate limited", &pipeline.RateLimitedError{RetryAfter: 90 * time.Second}, "1m30s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sender := newTestAdapter(&fakePipeline{err: tt.err}, &fakeGate{}, nil)
			a.handleUpdate(context.Background(), tgbotapi.Update{Message: textMessage("https://vimeo.com/1")})
			texts := sender.texts()
			if len(texts) != 1 || !strings.Contains(texts[0], tt.want) {
				t.Errorf("reply = %q, want mention of %q", texts, tt.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	sessions := fakeSessions{"telegram:42:100": {Stage: types.StageAwaitingApproval, SourceURL: "https://x", Regenerations: 1}}
	g := &fakeGate{applied: true}
	a, sender := newTestAdapter(&fakePipeline{}, g, sessions)
	ctx := context.Background()

	a.handleUpdate(ctx, tgbotapi.Update{Message: textMessage("/status")})
	a.handleUpdate(ctx, tgbotapi.Update{Message: textMessage("/cancel")})
	a.handleUpdate(ctx, tgbotapi.Update{Message: textMessage("/regenerate the second half")})

	texts := sender.texts()
	if len(texts) != 3 {
		t.Fatalf("replies = %q", texts)
	}
	if !strings.Contains(texts[0], "awaiting_approval") || !strings.Contains(texts[0], "Regenerations: 1") {
		t.Errorf("status reply = %q", texts[0])
	}
	if texts[1] != "Nothing to cancel." {
		t.Errorf("cancel reply = %q", texts[1])
	}
	if len(g.actions) != 1 || g.actions[0] != "regen:the second half" {
		t.Errorf("gate actions = %q", g.actions)
	}
}

func TestCallbackApplied(t *testing.T) {
	g := &fakeGate{applied: true}
	a, sender := newTestAdapter(&fakePipeline{}, g, nil)

	a.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 42},
		Message: textMessage("preview"),
		Data:    "approve:ai",
	}})

	if len(g.actions) != 1 || g.actions[0] != "approve:ai" {
		t.Errorf("gate actions = %q", g.actions)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("requests = %d, want edit + answer", len(sender.requests))
	}
	if cb, ok := sender.requests[1].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cb1" {
		t.Errorf("answer = %#v", sender.requests[1])
	}
}

func TestCallbackPickShowsCategories(t *testing.T) {
	g := &fakeGate{applied: true, choices: pipeline.CategoryChoices([]string{"ai", "data", "linux"})}
	a, sender := newTestAdapter(&fakePipeline{}, g, nil)

	a.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb2", From: &tgbotapi.User{ID: 42}, Message: textMessage("preview"), Data: "pick",
	}})

	edit, ok := sender.requests[0].(tgbotapi.EditMessageReplyMarkupConfig)
	if !ok {
		t.Fatalf("first request = %#v", sender.requests[0])
	}
	rows := edit.ReplyMarkup.InlineKeyboard
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 {
		t.Errorf("keyboard rows = %+v", rows)
	}
}

func TestPreviewKeyboardLayout(t *testing.T) {
	p := pipeline.BuildPreview(&types.Session{Analysis: &types.Analysis{Categories: []string{"ai", "data"}}}, nil)
	kb := previewKeyboard(p.Actions)
	if len(kb.InlineKeyboard) != 3 {
		t.Fatalf("rows = %d, want 2 approve rows + 1 action row", len(kb.InlineKeyboard))
	}
	last := kb.InlineKeyboard[2]
	if len(last) != 3 || *last[0].CallbackData != pipeline.ActionPick {
		t.Errorf("last row = %+v", last)
	}
}

func TestNotifyAppendsLocation(t *testing.T) {
	a, sender := newTestAdapter(&fakePipeline{}, &fakeGate{}, nil)
	err := a.Notify(context.Background(), "telegram:42:100", types.Notice{
		Kind: types.NoticeCompleted, Text: "✅ Saved", Location: "/kb/ai/20240501-x.md",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	texts := sender.texts()
	if len(texts) != 1 || !strings.HasSuffix(texts[0], "/kb/ai/20240501-x.md") {
		t.Errorf("notice = %q", texts)
	}
}

func TestAllowedUsers(t *testing.T) {
	p := &fakePipeline{}
	a := newAdapter(&fakeSender{}, p, &fakeGate{}, nil, []int64{7})
	a.handleUpdate(context.Background(), tgbotapi.Update{Message: textMessage("https://www.tiktok.com/@dev/video/1")})
	if len(p.submitted) != 0 {
		t.Error("message from unlisted user was submitted")
	}
}
