package flows

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"mindpathdev/logger"
	"mindpathdev/panel"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	// MaxAnswerChars is the ceiling for a typed answer; over-length
	// answers are rejected with a resubmission request, never truncated.
	MaxAnswerChars = 1000
	ShortenTo      = 800

	// OptionIDCustom marks the "write your own" choice on a
	// fixed-choice question.
	OptionIDCustom = "custom"
)

type Option struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

type Question struct {
	Text    string   `yaml:"text"`
	Clean   string   `yaml:"clean"`
	Options []Option `yaml:"options"`
}

// FreeText reports whether the question takes a typed answer directly.
func (q Question) FreeText() bool { return len(q.Options) == 0 }

// Session is the per-user progress through one flow's question list.
// Cursor == len(questions) means finished.
type Session struct {
	Cursor        int
	Answers       map[int]string
	AwaitingText  bool
	AwaitingIndex int
}

// SessionStore holds the sessions of one flow. The lock guards the map;
// session contents rely on the transport serializing a single user's
// events.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[int64]*Session{}}
}

func (s *SessionStore) Get(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

func (s *SessionStore) Put(userID int64, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = sess
}

func (s *SessionStore) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *SessionStore) Active(userID int64) bool {
	_, ok := s.Get(userID)
	return ok
}

// EngineHooks are the flow-specific edges of the generic machine.
type EngineHooks interface {
	// FinishSession runs detached on the job runner. It owns delivery,
	// persistence, the closing menu and session teardown; the user may
	// already have navigated elsewhere by the time it completes.
	FinishSession(ctx context.Context, ev panel.Event, answers map[int]string)
	// LeaveToTop handles back() from the first question.
	LeaveToTop(ctx context.Context, ev panel.Event) error
	// ResetScreen renders the "session reset, please restart" screen.
	ResetScreen(ctx context.Context, ev panel.Event) error
}

type EngineConfig struct {
	Logger    *logger.LogMiddleware
	Prefix    string
	Questions []Question
	Renderer  *panel.Renderer
	Transport Transport
	Jobs      JobRunner
	Hooks     EngineHooks
	// QuestionScreen returns the panel content for question i.
	QuestionScreen func(i int) (string, *tgbotapi.InlineKeyboardMarkup)
	// FreeTextScreen is shown after the custom option is chosen on a
	// fixed-choice question.
	FreeTextScreen func(i int) (string, *tgbotapi.InlineKeyboardMarkup)
	// DoneText is shown while the detached finalize task runs.
	DoneText string
}

// Engine is the linear questionnaire state machine shared by all flows:
// fixed-choice answers, custom free-text answers with a length ceiling,
// back-navigation and detached completion.
type Engine struct {
	logger         *logger.LogMiddleware
	prefix         string
	questions      []Question
	sessions       *SessionStore
	renderer       *panel.Renderer
	transport      Transport
	jobs           JobRunner
	hooks          EngineHooks
	questionScreen func(i int) (string, *tgbotapi.InlineKeyboardMarkup)
	freeTextScreen func(i int) (string, *tgbotapi.InlineKeyboardMarkup)
	doneText       string
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		logger:         cfg.Logger,
		prefix:         cfg.Prefix,
		questions:      cfg.Questions,
		sessions:       NewSessionStore(),
		renderer:       cfg.Renderer,
		transport:      cfg.Transport,
		jobs:           cfg.Jobs,
		hooks:          cfg.Hooks,
		questionScreen: cfg.QuestionScreen,
		freeTextScreen: cfg.FreeTextScreen,
		doneText:       cfg.DoneText,
	}
}

// Start creates a fresh session and renders question 0.
func (e *Engine) Start(ctx context.Context, ev panel.Event) error {
	e.sessions.Put(ev.UserID, &Session{Answers: map[int]string{}})
	return e.renderQuestion(ctx, ev, 0, false)
}

// SelectOption records a fixed-choice answer for question qIndex, or
// switches to awaiting free text when the custom option is chosen.
func (e *Engine) SelectOption(ctx context.Context, ev panel.Event, qIndex int, optionID string) error {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		return e.hooks.ResetScreen(ctx, ev)
	}

	// Finalize is already queued: the session lingers until the job
	// tears it down, so keep showing the progress screen.
	if sess.Cursor >= len(e.questions) {
		return e.renderer.Render(ctx, ev, e.doneText, nil, "")
	}

	// Stale button from an already-answered question: re-show where the
	// user actually is.
	if qIndex != sess.Cursor {
		return e.renderQuestion(ctx, ev, sess.Cursor, false)
	}

	opt := findOption(e.questions[qIndex].Options, optionID)
	if opt == nil {
		return nil
	}

	if opt.ID == OptionIDCustom {
		sess.AwaitingText = true
		sess.AwaitingIndex = qIndex
		text, markup := e.freeTextScreen(qIndex)
		return e.renderer.Render(ctx, ev, text, markup, "")
	}

	sess.Answers[qIndex] = StripOptionPrefix(opt.Text)
	sess.Cursor = qIndex + 1
	return e.advance(ctx, ev, sess, false)
}

// SubmitText consumes a plain-text message as the answer to the question
// this user's session is waiting on. Returns false when the session is
// absent or not awaiting text, so the message can be offered to another
// flow.
func (e *Engine) SubmitText(ctx context.Context, ev panel.Event, text string) (bool, error) {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		return false, nil
	}

	var qIndex int
	switch {
	case sess.AwaitingText:
		qIndex = sess.AwaitingIndex
	case sess.Cursor < len(e.questions) && e.questions[sess.Cursor].FreeText():
		qIndex = sess.Cursor
	default:
		return false, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		_, err := e.transport.SendMessage(ctx, ev.ChatID,
			"Ответ пустой. Напиши хотя бы пару слов 🙂", nil, "")
		return true, err
	}
	if utf8.RuneCountInString(text) > MaxAnswerChars {
		_, err := e.transport.SendMessage(ctx, ev.ChatID,
			fmt.Sprintf("Ответ слишком длинный (>%d символов).\nПожалуйста, сократи до %d символов.",
				MaxAnswerChars, ShortenTo), nil, "")
		return true, err
	}

	sess.Answers[qIndex] = text
	sess.AwaitingText = false
	sess.Cursor = qIndex + 1

	// The user's reply is now the newest message, so the next panel is
	// always a fresh one.
	return true, e.advance(ctx, ev, sess, true)
}

// Back steps one question back; awaiting free text cancels to the
// question itself, and question 0 hands off to the flow's entry menu.
func (e *Engine) Back(ctx context.Context, ev panel.Event) error {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		return e.hooks.ResetScreen(ctx, ev)
	}

	// No stepping back into a questionnaire whose finalize is in
	// flight: that would queue a second finalize on re-answer.
	if sess.Cursor >= len(e.questions) {
		return e.renderer.Render(ctx, ev, e.doneText, nil, "")
	}

	if sess.AwaitingText {
		sess.AwaitingText = false
		return e.renderQuestion(ctx, ev, sess.Cursor, false)
	}

	if sess.Cursor == 0 {
		return e.hooks.LeaveToTop(ctx, ev)
	}

	sess.Cursor--
	return e.renderQuestion(ctx, ev, sess.Cursor, false)
}

// EndSession removes the user's session.
func (e *Engine) EndSession(userID int64) {
	e.sessions.Delete(userID)
}

func (e *Engine) advance(ctx context.Context, ev panel.Event, sess *Session, afterText bool) error {
	if sess.Cursor < len(e.questions) {
		return e.renderQuestion(ctx, ev, sess.Cursor, afterText)
	}

	// Finished: show the progress screen and detach the finalize work.
	var err error
	if afterText {
		err = e.renderer.ForceNew(ctx, ev, e.doneText, nil, "")
	} else {
		err = e.renderer.Render(ctx, ev, e.doneText, nil, "")
	}
	if err != nil {
		return err
	}

	answers := make(map[int]string, len(sess.Answers))
	for k, v := range sess.Answers {
		answers[k] = v
	}

	e.logger.Logger(ctx).Info("[Engine] Questionnaire finished",
		zap.String("flow", e.prefix),
		zap.Int64("user_id", ev.UserID),
		zap.Int("answers", len(answers)),
	)

	e.jobs.Submit(e.prefix+":finish", func(jobCtx context.Context) {
		e.hooks.FinishSession(jobCtx, ev, answers)
	})
	return nil
}

func (e *Engine) renderQuestion(ctx context.Context, ev panel.Event, i int, forceNew bool) error {
	text, markup := e.questionScreen(i)
	if forceNew {
		return e.renderer.ForceNew(ctx, ev, text, markup, "")
	}
	return e.renderer.Render(ctx, ev, text, markup, "")
}

func findOption(options []Option, id string) *Option {
	for i := range options {
		if options[i].ID == id {
			return &options[i]
		}
	}
	return nil
}

// StripOptionPrefix drops a leading "A) " style enumeration prefix so
// stored answers carry only the option's meaning.
func StripOptionPrefix(text string) string {
	t := strings.TrimSpace(text)
	r := []rune(t)
	if len(r) >= 3 && unicode.IsLetter(r[0]) && r[1] == ')' && r[2] == ' ' {
		return strings.TrimSpace(string(r[3:]))
	}
	if len(r) >= 2 && unicode.IsLetter(r[0]) && r[1] == ')' {
		return strings.TrimSpace(string(r[2:]))
	}
	return t
}

// parseBetween extracts the text between marker a and marker b; an empty
// b means "to the end". Returns "" when a is absent.
func parseBetween(text, a, b string) string {
	_, after, found := strings.Cut(text, a)
	if !found {
		return ""
	}
	if b != "" {
		if before, _, ok := strings.Cut(after, b); ok {
			return strings.TrimSpace(before)
		}
	}
	return strings.TrimSpace(after)
}
