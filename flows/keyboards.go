package flows

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const mainMenuText = "Главное меню 👇"

func mainMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧠 Психологический портрет (Free)", "profile:start"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🥗 Подбор рациона (Free)", "nut:start"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ PRO функции", "pro:menu"),
		),
	)
	return &kb
}

func proMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧩 Сценарный анализ жизни", "pro:scenario"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏠 В главное меню", "pro:home"),
		),
	)
	return &kb
}

func proLockedKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ Как получить PRO (скоро)", "pro:buy"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏠 В главное меню", "pro:home"),
		),
	)
	return &kb
}

// questionKeyboard lays out one button per option plus the navigation
// row. Back is hidden on the first question when backTarget is empty.
func questionKeyboard(prefix string, qIndex int, options []Option, backTarget string) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Text,
				fmt.Sprintf("%s:ans:%d:%s", prefix, qIndex, opt.ID)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if backTarget != "" {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", backTarget))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("🏠 В меню", prefix+":home"))
	rows = append(rows, nav)

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// backHomeOnlyKeyboard is the navigation keyboard for the first
// free-text question, where there is nothing to go back to.
func backHomeOnlyKeyboard(prefix string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏠 В меню", prefix+":home"),
		),
	)
	return &kb
}

// backHomeKeyboard is the navigation-only keyboard for free-text
// prompts.
func backHomeKeyboard(prefix string, backTarget string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", backTarget),
			tgbotapi.NewInlineKeyboardButtonData("🏠 В меню", prefix+":home"),
		),
	)
	return &kb
}
