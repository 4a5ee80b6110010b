// Package panel keeps one editable "current screen" message per user.
// The renderer decides whether a state transition edits that message in
// place or starts a fresh one, so the panel is always the last thing in
// the chat.
package panel

import (
	"context"
	"errors"
	"sync"

	"mindpathdev/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ErrNotModified is returned by a Transport when an edit targets content
// identical to what is already displayed. The renderer treats it as
// success.
var ErrNotModified = errors.New("panel: message is not modified")

// Event describes the inbound update that triggered a render. MessageID
// is the transport's monotonically increasing message id, used as the
// ordering signal.
type Event struct {
	UserID    int64
	ChatID    int64
	MessageID int
}

// Ref locates a user's live panel.
type Ref struct {
	ChatID    int64
	MessageID int
}

// Transport is the minimal chat surface the renderer needs.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error
}

// Tracker maps user id -> live panel. Entries are only ever overwritten;
// a stale entry just points at an old message until the next render.
type Tracker struct {
	mu     sync.Mutex
	panels map[int64]Ref
}

func NewTracker() *Tracker {
	return &Tracker{panels: map[int64]Ref{}}
}

func (t *Tracker) Record(userID int64, chatID int64, messageID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.panels[userID] = Ref{ChatID: chatID, MessageID: messageID}
}

func (t *Tracker) Get(userID int64) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.panels[userID]
	return ref, ok
}

type RendererConnectProps struct {
	Logger    *logger.LogMiddleware
	Transport Transport
	Tracker   *Tracker
}

type Renderer struct {
	logger    *logger.LogMiddleware
	transport Transport
	tracker   *Tracker
}

func NewRenderer(args RendererConnectProps) *Renderer {
	return &Renderer{logger: args.Logger, transport: args.Transport, tracker: args.Tracker}
}

// Render shows (text, markup) so the panel ends up as the newest message
// in the chat. Message-id ordering is a heuristic for "is anything below
// the panel": the transport exposes no direct is-last signal.
//
//   - no tracked panel: send a new message and track it
//   - the inbound event is newer than the panel: something now sits
//     below it, so send a new message and re-track
//   - otherwise: edit the tracked panel in place
func (r *Renderer) Render(ctx context.Context, ev Event, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	ref, ok := r.tracker.Get(ev.UserID)
	if !ok {
		return r.sendAndTrack(ctx, ev, text, markup, parseMode)
	}

	if ev.MessageID > 0 && ev.MessageID > ref.MessageID {
		return r.sendAndTrack(ctx, ev, text, markup, parseMode)
	}

	err := r.transport.EditMessage(ctx, ref.ChatID, ref.MessageID, text, markup, parseMode)
	if errors.Is(err, ErrNotModified) {
		return nil
	}
	return err
}

// ForceNew always sends a fresh panel. Used right after the user's own
// text reply, when the old panel is guaranteed to be buried.
func (r *Renderer) ForceNew(ctx context.Context, ev Event, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	return r.sendAndTrack(ctx, ev, text, markup, parseMode)
}

func (r *Renderer) sendAndTrack(ctx context.Context, ev Event, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	messageID, err := r.transport.SendMessage(ctx, ev.ChatID, text, markup, parseMode)
	if err != nil {
		r.logger.Logger(ctx).Error("[Panel] Could not send panel message",
			zap.Int64("user_id", ev.UserID), zap.Error(err))
		return err
	}
	r.tracker.Record(ev.UserID, ev.ChatID, messageID)
	return nil
}
