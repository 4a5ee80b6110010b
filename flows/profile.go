package flows

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"mindpathdev/panel"
	"mindpathdev/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const profilePrefix = "profile"

//go:embed profile_questions.yaml
var profileQuestionsYAML []byte

type questionConfig struct {
	Title     string     `yaml:"title"`
	Questions []Question `yaml:"questions"`
}

const profilePromptPreamble = "Ты — клинический психолог с 20-летним опытом. " +
	"Составь глубокий психологический портрет человека на основе его ответов на тест ниже. " +
	"Пиши по-русски, бережно и конкретно, без воды и без диагнозов."

const profilePromptRequirements = "Требования к портрету:\n" +
	"1. Опиши ведущие эмоциональные паттерны и защитные механизмы.\n" +
	"2. Опиши источник самооценки и уязвимые места.\n" +
	"3. Опиши стиль поведения в конфликте и при неудачах.\n" +
	"4. Назови 2-3 сильные стороны, на которые человек может опираться.\n" +
	"5. Дай 3 конкретные рекомендации: что попробовать в ближайший месяц.\n\n" +
	"Ответ выдай строго в формате:\n" +
	"===FULL===\n<полный портрет>\n" +
	"===SUMMARY===\n<короткая выжимка на 200-300 слов>"

// profileFlow is the free self-test: ten mixed-choice questions, a
// weekly cooldown and a generated two-part report.
type profileFlow struct {
	f      *Flows
	title  string
	engine *Engine
}

func newProfileFlow(f *Flows) *profileFlow {
	var cfg questionConfig
	if err := yaml.Unmarshal(profileQuestionsYAML, &cfg); err != nil {
		// The question list ships inside the binary; a parse failure is
		// a build defect, not a runtime condition.
		panic(fmt.Sprintf("profile questions config: %v", err))
	}

	p := &profileFlow{f: f, title: cfg.Title}
	p.engine = NewEngine(EngineConfig{
		Logger:         f.logger,
		Prefix:         profilePrefix,
		Questions:      cfg.Questions,
		Renderer:       f.renderer,
		Transport:      f.transport,
		Jobs:           f.jobs,
		Hooks:          p,
		QuestionScreen: p.questionScreen,
		FreeTextScreen: p.freeTextScreen,
		DoneText:       "Готово ✅\n\nСобираю твои ответы и готовлю портрет — это займёт немного времени…",
	})
	return p
}

func (p *profileFlow) questionScreen(i int) (string, *tgbotapi.InlineKeyboardMarkup) {
	q := p.engine.questions[i]
	text := fmt.Sprintf("%s\n\nВопрос %d/%d:\n%s", p.title, i+1, len(p.engine.questions), q.Text)
	backTarget := ""
	if i > 0 {
		backTarget = profilePrefix + ":back"
	}
	return text, questionKeyboard(profilePrefix, i, q.Options, backTarget)
}

func (p *profileFlow) freeTextScreen(i int) (string, *tgbotapi.InlineKeyboardMarkup) {
	q := p.engine.questions[i]
	text := fmt.Sprintf("Вопрос %d/%d:\n%s\n\n✍ Напиши свой вариант ответа сообщением.\nОграничение: до %d символов.",
		i+1, len(p.engine.questions), q.Text, MaxAnswerChars)
	return text, backHomeKeyboard(profilePrefix, profilePrefix+":back")
}

func (p *profileFlow) handleCallback(ctx context.Context, ev panel.Event, rest string) error {
	action, args, _ := strings.Cut(rest, ":")

	switch action {
	case "start":
		ok, reason, err := p.f.users.CanStartProfile(ctx, ev.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return p.f.renderer.Render(ctx, ev, reason, mainMenuKeyboard(), tgbotapi.ModeHTML)
		}
		return p.engine.Start(ctx, ev)
	case "ans":
		qStr, optionID, ok := strings.Cut(args, ":")
		if !ok {
			return nil
		}
		qIndex, err := strconv.Atoi(qStr)
		if err != nil {
			return nil
		}
		return p.engine.SelectOption(ctx, ev, qIndex, optionID)
	case "back":
		return p.engine.Back(ctx, ev)
	case "home":
		return p.f.renderMainMenu(ctx, ev)
	default:
		return nil
	}
}

func (p *profileFlow) LeaveToTop(ctx context.Context, ev panel.Event) error {
	return p.f.renderMainMenu(ctx, ev)
}

func (p *profileFlow) ResetScreen(ctx context.Context, ev panel.Event) error {
	return p.f.renderer.Render(ctx, ev,
		"Тест сбросился (например, после перезапуска).\nНажми «🧠 Психологический портрет (Free)» ещё раз 🙂",
		mainMenuKeyboard(), "")
}

func (p *profileFlow) FinishSession(ctx context.Context, ev panel.Event, answers map[int]string) {
	ctx, span := otel.Tracer("ProfileFlow").Start(ctx, "FinishSession")
	defer span.End()
	log := p.f.logger.Logger(ctx)

	defer p.engine.EndSession(ev.UserID)

	prompt := p.buildPrompt(answers)

	// Keep the raw answers even if generation fails or is skipped below.
	if err := p.f.users.SaveProfileResult(ctx, ev.UserID, answers, "", ""); err != nil {
		log.Error("[ProfileFlow] Saving answers failed", zap.Error(err))
	}

	if p.f.dryRun {
		if _, err := p.f.transport.SendMessage(ctx, ev.ChatID,
			"✅ Тест завершён.\n\nЗапрос успешно сформирован и готов к отправке в AI.\n(Сейчас тестовый режим — AI не вызываем.)", nil, ""); err != nil {
			log.Error("[ProfileFlow] Dry-run notice failed", zap.Error(err))
		}
		if err := p.f.transport.SendLong(ctx, ev.ChatID,
			"FINAL PROMPT (то, что уйдёт в AI):\n\n"+prompt, ""); err != nil {
			log.Error("[ProfileFlow] Dry-run prompt delivery failed", zap.Error(err))
		}
		p.closeWithMenu(ctx, ev)
		return
	}

	report, err := p.f.provider.Generate(ctx, prompt, "")
	if err != nil || strings.TrimSpace(report) == "" {
		log.Error("[ProfileFlow] Report generation failed", zap.Error(err), zap.Int64("user_id", ev.UserID))
		if _, sendErr := p.f.transport.SendMessage(ctx, ev.ChatID,
			"AI вернул пустой ответ. Попробуй ещё раз (или чуть позже).", nil, ""); sendErr != nil {
			log.Error("[ProfileFlow] Failure notice delivery failed", zap.Error(sendErr))
		}
		p.closeWithMenu(ctx, ev)
		return
	}

	full := parseBetween(report, "===FULL===", "===SUMMARY===")
	summary := parseBetween(report, "===SUMMARY===", "")
	if full == "" {
		// Marker-less reply: show it as is rather than dropping it.
		log.Warn("[ProfileFlow] Report missing section markers", zap.Int64("user_id", ev.UserID))
		full = strings.TrimSpace(report)
		if _, err := p.f.transport.SendMessage(ctx, ev.ChatID,
			"Не удалось разобрать ответ AI по разделам — показываю как есть.", nil, ""); err != nil {
			log.Error("[ProfileFlow] Parse notice delivery failed", zap.Error(err))
		}
	}

	if err := p.f.users.SaveProfileResult(ctx, ev.UserID, answers, full, summary); err != nil {
		log.Error("[ProfileFlow] Saving report failed", zap.Error(err))
	}

	if err := p.f.transport.SendLong(ctx, ev.ChatID,
		telegram.SanitizeHTML(full), tgbotapi.ModeHTML); err != nil {
		log.Error("[ProfileFlow] Report delivery failed", zap.Error(err))
	}

	log.Info("[ProfileFlow] Report delivered", zap.Int64("user_id", ev.UserID))
	p.closeWithMenu(ctx, ev)
}

func (p *profileFlow) closeWithMenu(ctx context.Context, ev panel.Event) {
	if err := p.f.renderer.ForceNew(ctx, ev, mainMenuText, mainMenuKeyboard(), ""); err != nil {
		p.f.logger.Logger(ctx).Error("[ProfileFlow] Closing menu failed", zap.Error(err))
	}
}

func (p *profileFlow) buildPrompt(answers map[int]string) string {
	var b strings.Builder
	b.WriteString(profilePromptPreamble)
	b.WriteString("\n\nОтветы на тест:\n")
	for i, q := range p.engine.questions {
		answer := answers[i]
		if answer == "" {
			answer = "(нет ответа)"
		}
		fmt.Fprintf(&b, "%s\n«%s»\n\n", q.Clean, answer)
	}
	b.WriteString(profilePromptRequirements)
	return b.String()
}
