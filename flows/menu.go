package flows

import (
	"context"

	"mindpathdev/panel"
)

func (f *Flows) handleMenu(ctx context.Context, ev panel.Event, action string) error {
	switch action {
	case "home":
		return f.renderMainMenu(ctx, ev)
	default:
		return nil
	}
}

func (f *Flows) handlePro(ctx context.Context, ev panel.Event, action string) error {
	switch action {
	case "home":
		return f.renderMainMenu(ctx, ev)

	case "menu":
		if ok, reason := f.access.Check(ev.UserID); !ok {
			return f.renderer.Render(ctx, ev,
				"⭐ PRO раздел\n\n"+reason+"\nПока оплаты нет — доступ выдаётся по списку.",
				proLockedKeyboard(), "")
		}
		return f.renderer.Render(ctx, ev,
			"⭐ PRO функции\n\nВыбери, что запустить 👇",
			proMenuKeyboard(), "")

	case "buy":
		return f.renderer.Render(ctx, ev,
			"Оплата/подписка будет подключена позже.\n\nСейчас мы разрабатываем функционал PRO.",
			proLockedKeyboard(), "")

	case "scenario":
		return f.scenario.entry(ctx, ev)

	default:
		return nil
	}
}
