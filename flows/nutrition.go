package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mindpathdev/panel"
	"mindpathdev/storage/jsonstore"
	"mindpathdev/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const nutritionPrefix = "nut"

const nutritionDivider = "━━━━━━━━━━━━━━"

var nutritionQuestions = []Question{
	{
		Text:  "Сколько калорий в день тебе нужно?",
		Clean: "Целевая калорийность:",
		Options: []Option{
			{ID: "a", Text: "A) 1400–1600 ккал"},
			{ID: "b", Text: "B) 1700–1900 ккал"},
			{ID: "c", Text: "C) 2000–2200 ккал"},
			{ID: OptionIDCustom, Text: "✍ Свой вариант"},
		},
	},
	{
		Text:  "Какой формат питания тебе удобен?",
		Clean: "Формат питания:",
		Options: []Option{
			{ID: "a", Text: "A) 3 приёма пищи"},
			{ID: "b", Text: "B) 3 приёма + перекус"},
			{ID: "c", Text: "C) Дробное питание (5–6 раз)"},
			{ID: OptionIDCustom, Text: "✍ Свой вариант"},
		},
	},
}

const nutritionSystemPrompt = "Ты — нутрициолог. Составь рацион на один день под запрос пользователя: " +
	"распиши приёмы пищи с примерными порциями и калориями, добавь короткий список покупок. " +
	"Без экзотических продуктов, всё из обычного магазина. Пиши по-русски.\n\n" +
	"Структура ответа: сначала краткое резюме рациона одним абзацем, затем приёмы пищи, затем список покупок."

// nutritionFlow is the free meal-plan picker: two quick questions and a
// generated day plan, limited per calendar week. The quota is spent only
// after a successful generation.
type nutritionFlow struct {
	f      *Flows
	engine *Engine
}

func newNutritionFlow(f *Flows) *nutritionFlow {
	n := &nutritionFlow{f: f}
	n.engine = NewEngine(EngineConfig{
		Logger:         f.logger,
		Prefix:         nutritionPrefix,
		Questions:      nutritionQuestions,
		Renderer:       f.renderer,
		Transport:      f.transport,
		Jobs:           f.jobs,
		Hooks:          n,
		QuestionScreen: n.questionScreen,
		FreeTextScreen: n.freeTextScreen,
		DoneText:       "Принято ✅\n\nПодбираю рацион — это займёт немного времени…",
	})
	return n
}

func (n *nutritionFlow) questionScreen(i int) (string, *tgbotapi.InlineKeyboardMarkup) {
	q := n.engine.questions[i]
	text := fmt.Sprintf("🥗 Подбор рациона (%d/%d)\n\n%s", i+1, len(n.engine.questions), q.Text)
	backTarget := ""
	if i > 0 {
		backTarget = nutritionPrefix + ":back"
	}
	return text, questionKeyboard(nutritionPrefix, i, q.Options, backTarget)
}

func (n *nutritionFlow) freeTextScreen(i int) (string, *tgbotapi.InlineKeyboardMarkup) {
	q := n.engine.questions[i]
	text := fmt.Sprintf("%s\n\n✍ Напиши свой вариант сообщением.\nОграничение: до %d символов.",
		q.Text, MaxAnswerChars)
	return text, backHomeKeyboard(nutritionPrefix, nutritionPrefix+":back")
}

func (n *nutritionFlow) handleCallback(ctx context.Context, ev panel.Event, rest string) error {
	action, args, _ := strings.Cut(rest, ":")

	switch action {
	case "start":
		ok, reason, err := n.f.users.CanUseNutrition(ctx, ev.UserID, jsonstore.NutritionWeeklyLimit)
		if err != nil {
			return err
		}
		if !ok {
			return n.f.renderer.Render(ctx, ev, reason, mainMenuKeyboard(), tgbotapi.ModeHTML)
		}
		return n.engine.Start(ctx, ev)
	case "ans":
		qStr, optionID, ok := strings.Cut(args, ":")
		if !ok {
			return nil
		}
		qIndex, err := strconv.Atoi(qStr)
		if err != nil {
			return nil
		}
		return n.engine.SelectOption(ctx, ev, qIndex, optionID)
	case "back":
		return n.engine.Back(ctx, ev)
	case "home":
		return n.f.renderMainMenu(ctx, ev)
	default:
		return nil
	}
}

func (n *nutritionFlow) LeaveToTop(ctx context.Context, ev panel.Event) error {
	return n.f.renderMainMenu(ctx, ev)
}

func (n *nutritionFlow) ResetScreen(ctx context.Context, ev panel.Event) error {
	return n.f.renderer.Render(ctx, ev,
		"Подбор сбросился (например, после перезапуска).\nНажми «🥗 Подбор рациона (Free)» ещё раз 🙂",
		mainMenuKeyboard(), "")
}

func (n *nutritionFlow) FinishSession(ctx context.Context, ev panel.Event, answers map[int]string) {
	ctx, span := otel.Tracer("NutritionFlow").Start(ctx, "FinishSession")
	defer span.End()
	log := n.f.logger.Logger(ctx)

	defer n.engine.EndSession(ev.UserID)

	var b strings.Builder
	for i, q := range n.engine.questions {
		fmt.Fprintf(&b, "%s %s\n", q.Clean, answers[i])
	}
	request := b.String()

	if n.f.dryRun {
		if err := n.f.transport.SendLong(ctx, ev.ChatID,
			"FINAL PROMPT (то, что уйдёт в AI):\n\n"+nutritionSystemPrompt+"\n\n"+request, ""); err != nil {
			log.Error("[NutritionFlow] Dry-run prompt delivery failed", zap.Error(err))
		}
		n.closeWithMenu(ctx, ev, "Готово ✅ (тестовый режим, попытка не потрачена)")
		return
	}

	report, err := n.f.provider.Generate(ctx, nutritionSystemPrompt, request)
	if err != nil || strings.TrimSpace(report) == "" {
		// The weekly quota is untouched here: only a delivered plan
		// costs an attempt.
		log.Error("[NutritionFlow] Plan generation failed", zap.Error(err), zap.Int64("user_id", ev.UserID))
		if _, sendErr := n.f.transport.SendMessage(ctx, ev.ChatID,
			"AI вернул пустой ответ. Попробуй ещё раз — попытка не потрачена.", nil, ""); sendErr != nil {
			log.Error("[NutritionFlow] Failure notice delivery failed", zap.Error(sendErr))
		}
		n.closeWithMenu(ctx, ev, mainMenuText)
		return
	}

	consumed, _, err := n.f.users.ConsumeNutritionUse(ctx, ev.UserID, jsonstore.NutritionWeeklyLimit)
	if err != nil {
		log.Error("[NutritionFlow] Consuming weekly use failed", zap.Error(err))
	}
	log.Info("[NutritionFlow] Plan generated",
		zap.Int64("user_id", ev.UserID),
		zap.Bool("consumed", consumed),
	)

	if err := n.f.transport.SendLong(ctx, ev.ChatID,
		formatNutritionReport(report), tgbotapi.ModeHTML); err != nil {
		log.Error("[NutritionFlow] Plan delivery failed", zap.Error(err))
	}

	n.closeWithMenu(ctx, ev, "Готово ✅ Рацион выше 👆")
}

func (n *nutritionFlow) closeWithMenu(ctx context.Context, ev panel.Event, text string) {
	if err := n.f.renderer.ForceNew(ctx, ev, text, mainMenuKeyboard(), ""); err != nil {
		n.f.logger.Logger(ctx).Error("[NutritionFlow] Closing menu failed", zap.Error(err))
	}
}

// formatNutritionReport bolds the leading summary block and separates it
// from the plan body with a divider.
func formatNutritionReport(report string) string {
	sanitized := telegram.SanitizeHTML(strings.TrimSpace(report))
	head, rest, found := strings.Cut(sanitized, "\n\n")
	if !found {
		return "<b>" + sanitized + "</b>"
	}
	return "<b>" + head + "</b>\n\n" + nutritionDivider + "\n\n" + rest
}
