// Package telegram is the chat front-end: it turns messages into
// submissions, renders previews as inline keyboards and feeds button
// presses back into the approval gate.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/knowledgebot/internal/pipeline"
	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/source"
	"github.com/user/knowledgebot/internal/types"
)

// Channel is the user id prefix owned by this front-end.
const Channel = "telegram"

const maxTelegramMessage = 4096

// Sender is the part of *tgbotapi.BotAPI the adapter uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Pipeline accepts submissions and cancellations.
type Pipeline interface {
	Submit(ctx context.Context, user types.UserID, rawURL string) (*types.Session, error)
	Cancel(user types.UserID) bool
	Platforms() []string
}

// Gate takes button presses at the approval checkpoint.
type Gate interface {
	HandleAction(user types.UserID, actionID string) (bool, []types.Action, error)
}

// Sessions looks up a user's current session.
type Sessions interface {
	Get(user types.UserID) *types.Session
}

// Adapter bridges Telegram to the pipeline.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	sender   Sender
	pipeline Pipeline
	gate     Gate
	sessions Sessions
	allowed  map[int64]bool
}

// New connects to the Bot API.
func New(token string, p Pipeline, g Gate, sessions Sessions, allowedUsers []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, p, g, sessions, allowedUsers)
	a.bot = bot
	slog.Info("telegram bot connected", "username", bot.Self.UserName)
	return a, nil
}

func newAdapter(sender Sender, p Pipeline, g Gate, sessions Sessions, allowedUsers []int64) *Adapter {
	a := &Adapter{
		sender:   sender,
		pipeline: p,
		gate:     g,
		sessions: sessions,
	}
	if len(allowedUsers) > 0 {
		a.allowed = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			a.allowed[id] = true
		}
	}
	return a
}

// Start long-polls for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			a.handleUpdate(ctx, update)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "" && update.Message.From != nil:
		if a.allowed != nil && !a.allowed[update.Message.From.ID] {
			slog.Warn("telegram message from unlisted user", "user_id", update.Message.From.ID)
			return
		}
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(msg)
		return
	}

	chatID := msg.Chat.ID
	link := source.FindURL(msg.Text)
	if link == "" {
		a.sendText(chatID, "Send me a TikTok or Instagram video link and I'll turn it into a knowledge base entry.")
		return
	}

	user := buildUserID(msg.From.ID, chatID)
	if _, err := a.pipeline.Submit(ctx, user, link); err != nil {
		a.sendText(chatID, a.submitError(err))
		return
	}
	a.sendText(chatID, "📥 Got it! Processing your video...")
}

func (a *Adapter) submitError(err error) string {
	var rl *pipeline.RateLimitedError
	switch {
	case errors.Is(err, types.ErrUnsupportedURL):
		return fmt.Sprintf("❌ Unsupported link. Supported platforms: %s.", strings.Join(a.pipeline.Platforms(), ", "))
	case session.IsAlreadyActive(err):
		return "⏳ You already have a video in progress. Finish or /cancel it first."
	case errors.As(err, &rl):
		return fmt.Sprintf("⏳ Too many requests. Try again in %s.", rl.RetryAfter.Round(time.Second))
	default:
		slog.Error("submit failed", "error", err)
		return "Sorry, I couldn't start processing that video."
	}
}

func (a *Adapter) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	user := buildUserID(msg.From.ID, chatID)

	switch msg.Command() {
	case "start", "help":
		a.sendText(chatID, fmt.Sprintf(
			"Hello! Send me a video link (%s) and I'll analyze it, ask you to approve a category and save it to your knowledge base.\n\n"+
				"/status shows the current request\n/cancel stops it\n/regenerate [focus] re-runs the analysis",
			strings.Join(a.pipeline.Platforms(), ", ")))

	case "status":
		sess := a.sessions.Get(user)
		if sess == nil {
			a.sendText(chatID, "No video in progress.")
			return
		}
		text := fmt.Sprintf("Stage: %s\nLink: %s", sess.Stage, sess.SourceURL)
		if sess.Regenerations > 0 {
			text += fmt.Sprintf("\nRegenerations: %d", sess.Regenerations)
		}
		a.sendText(chatID, text)

	case "cancel":
		if !a.pipeline.Cancel(user) {
			a.sendText(chatID, "Nothing to cancel.")
		}

	case "regenerate":
		hint := strings.TrimSpace(msg.CommandArguments())
		applied, _, err := a.gate.HandleAction(user, pipeline.ActionRegen+":"+hint)
		if err != nil || !applied {
			a.sendText(chatID, "There is no analysis waiting for your decision.")
		}

	default:
		a.sendText(chatID, "Unknown command. Available: /start, /help, /status, /cancel, /regenerate")
	}
}

func (a *Adapter) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	user := buildUserID(cq.From.ID, chatID)

	applied, choices, err := a.gate.HandleAction(user, cq.Data)
	answer := ""
	switch {
	case err != nil:
		slog.Debug("unknown callback", "user", user, "data", cq.Data, "error", err)
		answer = "Unknown action"
	case !applied:
		answer = "This video is no longer waiting for a decision."
	case choices != nil:
		a.request(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, keyboard(choices, 2)))
	default:
		answer = "👍"
		a.request(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}))
	}
	a.request(tgbotapi.NewCallback(cq.ID, answer))
}

// PresentPreview sends the analysis preview with its action keyboard.
func (a *Adapter) PresentPreview(_ context.Context, user types.UserID, p types.Preview) error {
	chatID, err := chatIDOf(user)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, pipeline.FormatPreview(p))
	msg.ReplyMarkup = previewKeyboard(p.Actions)
	if _, err := a.sender.Send(msg); err != nil {
		return fmt.Errorf("send preview: %w", err)
	}
	return nil
}

// Notify sends a notice as a plain message.
func (a *Adapter) Notify(_ context.Context, user types.UserID, n types.Notice) error {
	chatID, err := chatIDOf(user)
	if err != nil {
		return err
	}
	text := n.Text
	if n.Location != "" {
		text += "\n📁 " + n.Location
	}
	for _, part := range splitMessage(text) {
		if _, err := a.sender.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send notice: %w", err)
		}
	}
	return nil
}

func (a *Adapter) sendText(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.sender.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				slog.Warn("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func (a *Adapter) request(c tgbotapi.Chattable) {
	if _, err := a.sender.Request(c); err != nil {
		slog.Warn("telegram request failed", "error", err)
	}
}

// previewKeyboard puts each approve button on its own row and the
// remaining actions on one row underneath.
func previewKeyboard(actions []types.Action) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var rest []tgbotapi.InlineKeyboardButton
	for _, act := range actions {
		btn := tgbotapi.NewInlineKeyboardButtonData(act.Label, act.ID)
		if strings.HasPrefix(act.ID, pipeline.ActionApprove+":") {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
			continue
		}
		rest = append(rest, btn)
	}
	if len(rest) > 0 {
		rows = append(rows, rest)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// keyboard lays actions out perRow buttons at a time.
func keyboard(actions []types.Action, perRow int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(actions); i += perRow {
		end := min(i+perRow, len(actions))
		var row []tgbotapi.InlineKeyboardButton
		for _, act := range actions[i:end] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(act.Label, act.ID))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildUserID(userID, chatID int64) types.UserID {
	return types.NewUserID(Channel,
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDOf extracts the chat id from "telegram:<user>:<chat>".
func chatIDOf(user types.UserID) (int64, error) {
	parts := strings.Split(string(user), ":")
	if len(parts) != 3 || parts[0] != Channel {
		return 0, fmt.Errorf("not a telegram user id: %q", user)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id in %q: %w", user, err)
	}
	return id, nil
}
