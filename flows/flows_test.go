package flows

import (
	"context"
	"sync"

	"mindpathdev/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var testLogger = logger.Connect(logger.LoggerConnectProps{})

type sentMessage struct {
	kind      string // "send", "edit" or "long"
	chatID    int64
	messageID int
	text      string
}

// fakeTransport records every outgoing message and hands out growing
// message ids, the way a chat backend would.
type fakeTransport struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100}
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{kind: "send", chatID: chatID, messageID: f.nextID, text: text})
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{kind: "edit", chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeTransport) SendLong(ctx context.Context, chatID int64, text string, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{kind: "long", chatID: chatID, messageID: f.nextID, text: text})
	return nil
}

func (f *fakeTransport) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastOfKind(kind string) sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i]
		}
	}
	return sentMessage{}
}

// syncJobs runs submitted work inline so tests observe finalize effects
// without synchronization.
type syncJobs struct{}

func (syncJobs) Submit(name string, fn func(ctx context.Context)) {
	fn(context.Background())
}

// parkedJobs queues submitted work without running it, holding the flow
// in its finalize-in-flight window.
type parkedJobs struct {
	queued []func(ctx context.Context)
}

func (p *parkedJobs) Submit(name string, fn func(ctx context.Context)) {
	p.queued = append(p.queued, fn)
}

// fakeProvider counts calls, records the last prompt pair and serves a
// canned reply.
type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (p *fakeProvider) Generate(ctx context.Context, systemPrompt string, userText string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastSystem = systemPrompt
	p.lastUser = userText
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
