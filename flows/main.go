// Package flows wires the questionnaire state machines to the chat
// surface: one flow per feature, all driven by the generic Engine.
package flows

import (
	"context"
	"strings"

	"mindpathdev/access"
	"mindpathdev/logger"
	"mindpathdev/modelapi"
	"mindpathdev/panel"
	"mindpathdev/storage/jsonstore"

	"go.uber.org/zap"
)

// Transport is the chat surface the flows need: the panel primitives
// plus chunked delivery for long generated reports.
type Transport interface {
	panel.Transport
	SendLong(ctx context.Context, chatID int64, text string, parseMode string) error
}

// JobRunner executes detached finalize work.
type JobRunner interface {
	Submit(name string, fn func(ctx context.Context))
}

type FlowsConnectProps struct {
	Logger    *logger.LogMiddleware
	Transport Transport
	Provider  modelapi.Provider
	Users     *jsonstore.Users
	Scenarios *jsonstore.Scenarios
	Access    *access.Access
	Jobs      JobRunner
	Tracker   *panel.Tracker
	DryRun    bool
}

type Flows struct {
	logger    *logger.LogMiddleware
	transport Transport
	provider  modelapi.Provider
	users     *jsonstore.Users
	scenarios *jsonstore.Scenarios
	access    *access.Access
	jobs      JobRunner
	renderer  *panel.Renderer
	dryRun    bool

	profile   *profileFlow
	scenario  *scenarioFlow
	nutrition *nutritionFlow
}

func Connect(ctx context.Context, args FlowsConnectProps) *Flows {
	renderer := panel.NewRenderer(panel.RendererConnectProps{
		Logger:    args.Logger,
		Transport: args.Transport,
		Tracker:   args.Tracker,
	})

	f := &Flows{
		logger:    args.Logger,
		transport: args.Transport,
		provider:  args.Provider,
		users:     args.Users,
		scenarios: args.Scenarios,
		access:    args.Access,
		jobs:      args.Jobs,
		renderer:  renderer,
		dryRun:    args.DryRun,
	}

	f.profile = newProfileFlow(f)
	f.scenario = newScenarioFlow(f)
	f.nutrition = newNutritionFlow(f)

	args.Logger.Logger(ctx).Info("[Flows] Flow orchestrators started",
		zap.Bool("dry_run", args.DryRun),
		zap.Int("profile_questions", len(f.profile.engine.questions)),
	)

	return f
}

func (f *Flows) HandleCommand(ctx context.Context, ev panel.Event, command string) error {
	switch command {
	case "start":
		// /start always begins a fresh panel at the main menu.
		return f.renderer.ForceNew(ctx, ev, mainMenuText, mainMenuKeyboard(), "")
	default:
		return nil
	}
}

func (f *Flows) HandleCallback(ctx context.Context, ev panel.Event, data string) error {
	prefix, rest, _ := strings.Cut(data, ":")

	switch prefix {
	case "menu":
		return f.handleMenu(ctx, ev, rest)
	case "pro":
		return f.handlePro(ctx, ev, rest)
	case profilePrefix:
		return f.profile.handleCallback(ctx, ev, rest)
	case scenarioPrefix:
		return f.scenario.handleCallback(ctx, ev, rest)
	case nutritionPrefix:
		return f.nutrition.handleCallback(ctx, ev, rest)
	default:
		f.logger.Logger(ctx).Warn("[Flows] Unknown callback prefix", zap.String("data", data))
		return nil
	}
}

// HandleText feeds a plain text message to whichever flow is awaiting a
// free-text answer from this user.
func (f *Flows) HandleText(ctx context.Context, ev panel.Event, text string) (bool, error) {
	if handled, err := f.profile.engine.SubmitText(ctx, ev, text); handled || err != nil {
		return handled, err
	}
	if handled, err := f.scenario.engine.SubmitText(ctx, ev, text); handled || err != nil {
		return handled, err
	}
	return f.nutrition.engine.SubmitText(ctx, ev, text)
}

// renderMainMenu drops any active session for the user and shows the
// top-level menu in the current panel.
func (f *Flows) renderMainMenu(ctx context.Context, ev panel.Event) error {
	f.profile.engine.sessions.Delete(ev.UserID)
	f.scenario.engine.sessions.Delete(ev.UserID)
	f.nutrition.engine.sessions.Delete(ev.UserID)
	return f.renderer.Render(ctx, ev, mainMenuText, mainMenuKeyboard(), "")
}
