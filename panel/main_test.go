package panel

import (
	"context"
	"errors"
	"testing"

	"mindpathdev/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeCall struct {
	kind      string // "send" or "edit"
	chatID    int64
	messageID int
	text      string
}

type fakeTransport struct {
	calls   []fakeCall
	nextID  int
	editErr error
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error) {
	f.nextID++
	f.calls = append(f.calls, fakeCall{kind: "send", chatID: chatID, messageID: f.nextID, text: text})
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	f.calls = append(f.calls, fakeCall{kind: "edit", chatID: chatID, messageID: messageID, text: text})
	return f.editErr
}

func newTestRenderer(t *testing.T) (*Renderer, *Tracker, *fakeTransport) {
	t.Helper()
	log := logger.Connect(logger.LoggerConnectProps{Production: false})
	tracker := NewTracker()
	transport := &fakeTransport{nextID: 100}
	r := NewRenderer(RendererConnectProps{Logger: log, Transport: transport, Tracker: tracker})
	return r, tracker, transport
}

func TestRenderSendsWhenNoPanelTracked(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)

	ev := Event{UserID: 1, ChatID: 10, MessageID: 55}
	if err := r.Render(context.Background(), ev, "hello", nil, ""); err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(transport.calls) != 1 || transport.calls[0].kind != "send" {
		t.Fatalf("expected one send, got %+v", transport.calls)
	}
	ref, ok := tracker.Get(1)
	if !ok || ref.MessageID != 101 {
		t.Errorf("expected tracked panel 101, got %+v ok=%v", ref, ok)
	}
}

func TestRenderEditsWhenPanelStillLast(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)
	tracker.Record(1, 10, 200)

	// Inbound event is the panel itself (callback press).
	ev := Event{UserID: 1, ChatID: 10, MessageID: 200}
	if err := r.Render(context.Background(), ev, "next question", nil, ""); err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(transport.calls) != 1 || transport.calls[0].kind != "edit" {
		t.Fatalf("expected one edit, got %+v", transport.calls)
	}
	if transport.calls[0].messageID != 200 {
		t.Errorf("edited wrong message: %d", transport.calls[0].messageID)
	}
}

func TestRenderSendsWhenNewerMessageExists(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)
	tracker.Record(1, 10, 200)

	// The user's reply (id 201) now sits below the panel.
	ev := Event{UserID: 1, ChatID: 10, MessageID: 201}
	if err := r.Render(context.Background(), ev, "next question", nil, ""); err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(transport.calls) != 1 || transport.calls[0].kind != "send" {
		t.Fatalf("expected one send, got %+v", transport.calls)
	}
	ref, _ := tracker.Get(1)
	if ref.MessageID != 101 {
		t.Errorf("tracker not updated to new panel: %+v", ref)
	}
}

func TestRenderNotModifiedIsSuccess(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)
	tracker.Record(1, 10, 200)
	transport.editErr = ErrNotModified

	ev := Event{UserID: 1, ChatID: 10, MessageID: 200}
	if err := r.Render(context.Background(), ev, "same text", nil, ""); err != nil {
		t.Fatalf("not-modified edit should be success, got %v", err)
	}
}

func TestRenderOtherEditErrorPropagates(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)
	tracker.Record(1, 10, 200)
	transport.editErr = errors.New("bad request")

	ev := Event{UserID: 1, ChatID: 10, MessageID: 200}
	if err := r.Render(context.Background(), ev, "text", nil, ""); err == nil {
		t.Fatal("expected edit error to propagate")
	}
}

func TestForceNewAlwaysSends(t *testing.T) {
	r, tracker, transport := newTestRenderer(t)
	tracker.Record(1, 10, 200)

	// Even though the panel would count as last, force-new sends.
	ev := Event{UserID: 1, ChatID: 10, MessageID: 150}
	if err := r.ForceNew(context.Background(), ev, "menu", nil, ""); err != nil {
		t.Fatalf("ForceNew: %v", err)
	}

	if len(transport.calls) != 1 || transport.calls[0].kind != "send" {
		t.Fatalf("expected one send, got %+v", transport.calls)
	}
	ref, _ := tracker.Get(1)
	if ref.MessageID != 101 {
		t.Errorf("tracker not re-tracked: %+v", ref)
	}
}
