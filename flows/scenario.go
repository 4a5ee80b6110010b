package flows

import (
	"context"
	"fmt"
	"strings"

	"mindpathdev/panel"
	"mindpathdev/storage/jsonstore"
	"mindpathdev/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const scenarioPrefix = "scn"

// Stage 1 collects the raw material; stages 2 and 3 reuse its full
// analysis as generation context.
var scenarioQuestions = []Question{
	{Text: "Мой возраст —", Clean: "Мой возраст —"},
	{Text: "Страна, где я живу —", Clean: "Страна, где я живу —"},
	{Text: "Семейное положение —", Clean: "Семейное положение —"},
	{Text: "Мои 3 главных интереса —", Clean: "Мои 3 главных интереса —"},
	{Text: "Чем я зарабатываю на жизнь —", Clean: "Чем я зарабатываю на жизнь —"},
	{Text: "Моя рутина в жизни —", Clean: "Моя рутина в жизни —"},
	{Text: "Моя самая большая мечта —", Clean: "Моя самая большая мечта —"},
}

const scenarioStage1Prompt = "Ты — психолог-аналитик, работающий в подходе сценарного анализа жизни. " +
	"На основе анкеты ниже опиши текущий жизненный сценарий человека: ключевые установки, " +
	"повторяющиеся паттерны, сильные стороны и точки роста. Пиши по-русски, конкретно и без воды.\n\n" +
	"Ответ выдай строго в формате:\n" +
	"===FULL===\n<полный анализ>\n" +
	"===SUMMARY===\n<краткая выжимка на 150-250 слов>"

const scenarioStage2Prompt = "Ты — психолог-аналитик. Используя контекст из первого этапа, опиши " +
	"вероятное развитие жизненного сценария этого человека на ближайшие 3-5 лет, если ничего не менять: " +
	"какие паттерны закрепятся, где возникнут кризисы, что будет с мечтой. Пиши по-русски.\n\n" +
	"Ответ выдай строго в формате:\n===STAGE2===\n<текст этапа 2>"

const scenarioStage3Prompt = "Ты — психолог-аналитик. Используя контекст из первого этапа, составь " +
	"план пересборки жизненного сценария: 3-5 конкретных изменений, с чего начать в первый месяц, " +
	"и по каким признакам отслеживать прогресс. Пиши по-русски.\n\n" +
	"Ответ выдай строго в формате:\n===STAGE3===\n<текст этапа 3>"

// scenarioFlow is the PRO three-stage life scenario analysis. Stage 1
// is a free-text questionnaire; stages 2 and 3 are gated on stage 1 and
// cached per user.
type scenarioFlow struct {
	f      *Flows
	engine *Engine
}

func newScenarioFlow(f *Flows) *scenarioFlow {
	s := &scenarioFlow{f: f}
	s.engine = NewEngine(EngineConfig{
		Logger:         f.logger,
		Prefix:         scenarioPrefix,
		Questions:      scenarioQuestions,
		Renderer:       f.renderer,
		Transport:      f.transport,
		Jobs:           f.jobs,
		Hooks:          s,
		QuestionScreen: s.questionScreen,
		FreeTextScreen: s.questionScreen,
		DoneText:       "Анкета заполнена ✅\n\nГотовлю анализ первого этапа…",
	})
	return s
}

func scenarioMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("1️⃣ Этап 1 — анкета и анализ", scenarioPrefix+":start"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("2️⃣ Этап 2 — развитие сценария", scenarioPrefix+":stage2"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("3️⃣ Этап 3 — пересборка сценария", scenarioPrefix+":stage3"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "pro:menu"),
			tgbotapi.NewInlineKeyboardButtonData("🏠 В меню", "pro:home"),
		),
	)
	return &kb
}

// entry shows the stage menu; the PRO gate is re-checked here so a
// stale button cannot bypass it.
func (s *scenarioFlow) entry(ctx context.Context, ev panel.Event) error {
	if ok, reason := s.f.access.Check(ev.UserID); !ok {
		return s.f.renderer.Render(ctx, ev, reason, proLockedKeyboard(), "")
	}
	return s.f.renderer.Render(ctx, ev,
		"🧩 Сценарный анализ жизни\n\nТри этапа: анкета, прогноз и план пересборки.\nЭтапы 2 и 3 открываются после первого 👇",
		scenarioMenuKeyboard(), "")
}

func (s *scenarioFlow) questionScreen(i int) (string, *tgbotapi.InlineKeyboardMarkup) {
	q := s.engine.questions[i]
	text := fmt.Sprintf("Этап 1 — анкета (%d/%d)\n\nПродолжи фразу сообщением:\n%s\n\nОграничение: до %d символов.",
		i+1, len(s.engine.questions), q.Text, MaxAnswerChars)
	backTarget := scenarioPrefix + ":back"
	if i == 0 {
		backTarget = ""
	}
	if backTarget == "" {
		return text, backHomeOnlyKeyboard(scenarioPrefix)
	}
	return text, backHomeKeyboard(scenarioPrefix, backTarget)
}

func (s *scenarioFlow) handleCallback(ctx context.Context, ev panel.Event, rest string) error {
	if ok, reason := s.f.access.Check(ev.UserID); !ok {
		return s.f.renderer.Render(ctx, ev, reason, proLockedKeyboard(), "")
	}

	action, _, _ := strings.Cut(rest, ":")
	switch action {
	case "start":
		return s.engine.Start(ctx, ev)
	case "stage2":
		return s.startStage(ctx, ev, 2)
	case "stage3":
		return s.startStage(ctx, ev, 3)
	case "back":
		return s.engine.Back(ctx, ev)
	case "home":
		return s.f.renderMainMenu(ctx, ev)
	default:
		return nil
	}
}

func (s *scenarioFlow) LeaveToTop(ctx context.Context, ev panel.Event) error {
	s.engine.EndSession(ev.UserID)
	return s.entry(ctx, ev)
}

func (s *scenarioFlow) ResetScreen(ctx context.Context, ev panel.Event) error {
	return s.f.renderer.Render(ctx, ev,
		"Анкета сбросилась (например, после перезапуска).\nЗапусти этап 1 ещё раз 🙂",
		scenarioMenuKeyboard(), "")
}

func (s *scenarioFlow) FinishSession(ctx context.Context, ev panel.Event, answers map[int]string) {
	ctx, span := otel.Tracer("ScenarioFlow").Start(ctx, "FinishStage1")
	defer span.End()
	log := s.f.logger.Logger(ctx)

	defer s.engine.EndSession(ev.UserID)

	qa := make([]jsonstore.QAPair, 0, len(s.engine.questions))
	var b strings.Builder
	b.WriteString("Анкета:\n")
	for i, q := range s.engine.questions {
		answer := answers[i]
		qa = append(qa, jsonstore.QAPair{Q: q.Clean, A: answer})
		fmt.Fprintf(&b, "%s %s\n", q.Clean, answer)
	}

	// Keep the questionnaire even if generation fails or is skipped
	// below; the stage 2/3 gate stays closed until an analysis exists.
	if err := s.f.scenarios.UpsertStage1(ctx, ev.UserID, qa, "", ""); err != nil {
		log.Error("[ScenarioFlow] Persisting questionnaire failed", zap.Error(err))
	}

	if s.f.dryRun {
		if err := s.f.transport.SendLong(ctx, ev.ChatID,
			"FINAL PROMPT (то, что уйдёт в AI):\n\n"+scenarioStage1Prompt+"\n\n"+b.String(), ""); err != nil {
			log.Error("[ScenarioFlow] Dry-run prompt delivery failed", zap.Error(err))
		}
		s.closeWithMenu(ctx, ev)
		return
	}

	report, err := s.f.provider.Generate(ctx, scenarioStage1Prompt, b.String())
	if err != nil || strings.TrimSpace(report) == "" {
		log.Error("[ScenarioFlow] Stage 1 generation failed", zap.Error(err), zap.Int64("user_id", ev.UserID))
		if _, sendErr := s.f.transport.SendMessage(ctx, ev.ChatID,
			"AI вернул пустой ответ. Попробуй ещё раз (или чуть позже).", nil, ""); sendErr != nil {
			log.Error("[ScenarioFlow] Failure notice delivery failed", zap.Error(sendErr))
		}
		s.closeWithMenu(ctx, ev)
		return
	}

	full := parseBetween(report, "===FULL===", "===SUMMARY===")
	short := parseBetween(report, "===SUMMARY===", "")
	if full == "" {
		log.Warn("[ScenarioFlow] Stage 1 reply missing section markers", zap.Int64("user_id", ev.UserID))
		full = strings.TrimSpace(report)
		if _, err := s.f.transport.SendMessage(ctx, ev.ChatID,
			"Не удалось разобрать ответ AI по разделам — показываю как есть.", nil, ""); err != nil {
			log.Error("[ScenarioFlow] Parse notice delivery failed", zap.Error(err))
		}
	}

	if err := s.f.scenarios.UpsertStage1(ctx, ev.UserID, qa, full, short); err != nil {
		log.Error("[ScenarioFlow] Persisting stage 1 failed", zap.Error(err))
	}

	if err := s.f.transport.SendLong(ctx, ev.ChatID,
		telegram.SanitizeHTML(full), tgbotapi.ModeHTML); err != nil {
		log.Error("[ScenarioFlow] Stage 1 delivery failed", zap.Error(err))
	}

	log.Info("[ScenarioFlow] Stage 1 delivered", zap.Int64("user_id", ev.UserID))
	s.closeWithMenu(ctx, ev)
}

// startStage runs stage 2 or 3: gated on a completed stage 1, served
// from the cache when already generated, otherwise generated detached.
func (s *scenarioFlow) startStage(ctx context.Context, ev panel.Event, stage int) error {
	rec, err := s.f.scenarios.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if rec == nil || !rec.HasStage1() {
		return s.f.renderer.Render(ctx, ev,
			"Сначала нужно пройти этап 1 — анализ строится на его результатах 👇",
			scenarioMenuKeyboard(), "")
	}

	if cached := s.cachedStage(rec, stage); cached != "" {
		if err := s.f.transport.SendLong(ctx, ev.ChatID,
			telegram.SanitizeHTML(cached), tgbotapi.ModeHTML); err != nil {
			return err
		}
		return s.f.renderer.ForceNew(ctx, ev,
			fmt.Sprintf("Этап %d уже готов — прислал сохранённый результат 👆", stage),
			scenarioMenuKeyboard(), "")
	}

	if err := s.f.renderer.Render(ctx, ev,
		fmt.Sprintf("Готовлю этап %d — это займёт немного времени…", stage), nil, ""); err != nil {
		return err
	}

	stage1Full := rec.Stage1.AnalysisFull
	s.f.jobs.Submit(fmt.Sprintf("%s:stage%d", scenarioPrefix, stage), func(jobCtx context.Context) {
		s.generateStage(jobCtx, ev, stage, stage1Full)
	})
	return nil
}

func (s *scenarioFlow) cachedStage(rec *jsonstore.ScenarioRecord, stage int) string {
	switch stage {
	case 2:
		if rec.Stage2 != nil {
			return rec.Stage2.Text
		}
	case 3:
		if rec.Stage3 != nil {
			return rec.Stage3.Text
		}
	}
	return ""
}

func (s *scenarioFlow) generateStage(ctx context.Context, ev panel.Event, stage int, stage1Full string) {
	ctx, span := otel.Tracer("ScenarioFlow").Start(ctx, fmt.Sprintf("GenerateStage%d", stage))
	defer span.End()
	log := s.f.logger.Logger(ctx)

	prompt := scenarioStage2Prompt
	marker := "===STAGE2==="
	if stage == 3 {
		prompt = scenarioStage3Prompt
		marker = "===STAGE3==="
	}
	system := "Контекст:\n" + stage1Full

	if s.f.dryRun {
		if err := s.f.transport.SendLong(ctx, ev.ChatID,
			"FINAL PROMPT (то, что уйдёт в AI):\n\n"+system+"\n\n"+prompt, ""); err != nil {
			log.Error("[ScenarioFlow] Dry-run prompt delivery failed", zap.Error(err))
		}
		s.closeWithMenu(ctx, ev)
		return
	}

	report, err := s.f.provider.Generate(ctx, system, prompt)
	if err != nil || strings.TrimSpace(report) == "" {
		log.Error("[ScenarioFlow] Stage generation failed",
			zap.Int("stage", stage), zap.Error(err), zap.Int64("user_id", ev.UserID))
		if _, sendErr := s.f.transport.SendMessage(ctx, ev.ChatID,
			"AI вернул пустой ответ. Попробуй ещё раз (или чуть позже).", nil, ""); sendErr != nil {
			log.Error("[ScenarioFlow] Failure notice delivery failed", zap.Error(sendErr))
		}
		s.closeWithMenu(ctx, ev)
		return
	}

	text := parseBetween(report, marker, "")
	if text == "" {
		log.Warn("[ScenarioFlow] Stage reply missing marker",
			zap.Int("stage", stage), zap.Int64("user_id", ev.UserID))
		text = strings.TrimSpace(report)
		if _, err := s.f.transport.SendMessage(ctx, ev.ChatID,
			"Не удалось разобрать ответ AI по разделам — показываю как есть.", nil, ""); err != nil {
			log.Error("[ScenarioFlow] Parse notice delivery failed", zap.Error(err))
		}
	}

	var persistErr error
	if stage == 3 {
		persistErr = s.f.scenarios.UpsertStage3(ctx, ev.UserID, text)
	} else {
		persistErr = s.f.scenarios.UpsertStage2(ctx, ev.UserID, text)
	}
	if persistErr != nil {
		log.Error("[ScenarioFlow] Persisting stage failed", zap.Int("stage", stage), zap.Error(persistErr))
	}

	if err := s.f.transport.SendLong(ctx, ev.ChatID,
		telegram.SanitizeHTML(text), tgbotapi.ModeHTML); err != nil {
		log.Error("[ScenarioFlow] Stage delivery failed", zap.Int("stage", stage), zap.Error(err))
	}

	log.Info("[ScenarioFlow] Stage delivered", zap.Int("stage", stage), zap.Int64("user_id", ev.UserID))
	s.closeWithMenu(ctx, ev)
}

func (s *scenarioFlow) closeWithMenu(ctx context.Context, ev panel.Event) {
	if err := s.f.renderer.ForceNew(ctx, ev,
		"🧩 Сценарный анализ жизни 👇", scenarioMenuKeyboard(), ""); err != nil {
		s.f.logger.Logger(ctx).Error("[ScenarioFlow] Closing menu failed", zap.Error(err))
	}
}
