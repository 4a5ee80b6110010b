package telegram

import (
	"context"
	"strings"

	"mindpathdev/logger"
	"mindpathdev/panel"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// UpdateHandler receives routed updates. Implemented by the flows layer.
type UpdateHandler interface {
	HandleCommand(ctx context.Context, ev panel.Event, command string) error
	HandleCallback(ctx context.Context, ev panel.Event, data string) error
	// HandleText reports whether any flow consumed the message.
	HandleText(ctx context.Context, ev panel.Event, text string) (bool, error)
}

type TelegramConnectProps struct {
	Logger  *logger.LogMiddleware
	Token   string
	Debug   bool
	Tracker *panel.Tracker
}

type Telegram struct {
	logger  *logger.LogMiddleware
	bot     *tgbotapi.BotAPI
	tracker *panel.Tracker
}

func Connect(ctx context.Context, args TelegramConnectProps) *Telegram {
	tracer := otel.Tracer("telegram/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	bot, err := tgbotapi.NewBotAPI(args.Token)
	if err != nil {
		args.Logger.Logger(ctx).Fatal("Failed to create Telegram bot", zap.Error(err))
	}

	bot.Debug = args.Debug

	span.SetAttributes(
		attribute.String("bot.username", bot.Self.UserName),
		attribute.Bool("bot.debug", args.Debug),
	)

	args.Logger.Logger(ctx).Info("Telegram bot connected successfully",
		zap.String("username", bot.Self.UserName),
		zap.Bool("debug", args.Debug),
	)

	return &Telegram{
		logger:  args.Logger,
		bot:     bot,
		tracker: args.Tracker,
	}
}

func (t *Telegram) Listen(ctx context.Context, handler UpdateHandler) {
	tracer := otel.Tracer("telegram/Listen")
	ctx, span := tracer.Start(ctx, "Listen")
	defer span.End()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)

	t.logger.Logger(ctx).Info("Starting Telegram bot message listener")

	for {
		select {
		case <-ctx.Done():
			t.logger.Logger(ctx).Info("Shutting down Telegram bot listener")
			return
		case update := <-updates:
			t.handleUpdate(ctx, update, handler)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, handler UpdateHandler) {
	tracer := otel.Tracer("telegram/handleUpdate")
	ctx, span := tracer.Start(ctx, "handleUpdate")
	defer span.End()

	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message, handler)
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery, handler)
	}
}

func (t *Telegram) handleMessage(ctx context.Context, message *tgbotapi.Message, handler UpdateHandler) {
	tracer := otel.Tracer("telegram/handleMessage")
	ctx, span := tracer.Start(ctx, "handleMessage")
	defer span.End()

	if message.From == nil || message.Text == "" {
		return
	}

	ev := panel.Event{
		UserID:    message.From.ID,
		ChatID:    message.Chat.ID,
		MessageID: message.MessageID,
	}

	span.SetAttributes(
		attribute.Int64("user.id", ev.UserID),
		attribute.String("user.username", message.From.UserName),
		attribute.String("message.type", "text"),
	)

	t.logger.Logger(ctx).Info("Received message",
		zap.Int64("user_id", ev.UserID),
		zap.String("username", message.From.UserName),
		zap.Int("message_id", ev.MessageID),
	)

	if message.IsCommand() {
		if err := handler.HandleCommand(ctx, ev, message.Command()); err != nil {
			t.logger.Logger(ctx).Error("Failed to handle command",
				zap.String("command", message.Command()), zap.Error(err))
		}
		return
	}

	handled, err := handler.HandleText(ctx, ev, message.Text)
	if err != nil {
		t.logger.Logger(ctx).Error("Failed to handle text message",
			zap.Int64("user_id", ev.UserID), zap.Error(err))
	}
	if !handled {
		// Free text outside any active questionnaire is ignored.
		t.logger.Logger(ctx).Debug("Text message outside active flow",
			zap.Int64("user_id", ev.UserID))
	}
}

func (t *Telegram) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery, handler UpdateHandler) {
	tracer := otel.Tracer("telegram/handleCallbackQuery")
	ctx, span := tracer.Start(ctx, "handleCallbackQuery")
	defer span.End()

	if query.From == nil || query.Message == nil {
		return
	}

	span.SetAttributes(
		attribute.Int64("user.id", query.From.ID),
		attribute.String("callback.data", query.Data),
	)

	t.logger.Logger(ctx).Info("Received callback query",
		zap.Int64("user_id", query.From.ID),
		zap.String("data", query.Data),
	)

	// Acknowledge the callback; failures here are harmless (stale press).
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := t.bot.Request(callback); err != nil {
		t.logger.Logger(ctx).Debug("Could not answer callback", zap.Error(err))
	}

	ev := panel.Event{
		UserID:    query.From.ID,
		ChatID:    query.Message.Chat.ID,
		MessageID: query.Message.MessageID,
	}

	// The pressed message becomes the tracked panel: a button press always
	// targets the screen it lives on.
	t.tracker.Record(ev.UserID, ev.ChatID, ev.MessageID)

	if err := handler.HandleCallback(ctx, ev, query.Data); err != nil {
		t.logger.Logger(ctx).Error("Failed to handle callback",
			zap.String("data", query.Data), zap.Error(err))
	}
}

// SendMessage sends a standalone message and returns its message id.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	msg.ParseMode = parseMode

	sent, err := t.bot.Send(msg)
	if err != nil {
		t.logger.Logger(ctx).Error("Failed to send message",
			zap.Int64("chat_id", chatID), zap.Error(err))
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessage edits a previously sent message in place. An edit that
// changes nothing maps to panel.ErrNotModified.
func (t *Telegram) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	edit.ReplyMarkup = markup

	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return panel.ErrNotModified
		}
		t.logger.Logger(ctx).Error("Failed to edit message",
			zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
		return err
	}
	return nil
}

// SendLong delivers text of any length, chunked under the transport's
// message-size ceiling.
func (t *Telegram) SendLong(ctx context.Context, chatID int64, text string, parseMode string) error {
	for _, chunk := range SplitMessage(text, MessageChunkLimit) {
		if _, err := t.SendMessage(ctx, chatID, chunk, nil, parseMode); err != nil {
			return err
		}
	}
	return nil
}
