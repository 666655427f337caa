package bot

import (
	"fmt"
	"strconv"

	"outagebot/internal/outage"
	"outagebot/internal/reminder"
	"outagebot/pkg/tgui"
)

// Reply keyboard labels.
const (
	ButtonToday    = "📅 Графік на сьогодні"
	ButtonTomorrow = "📅 Графік на завтра"
	ButtonEnable   = "🔔 Увімкнути нагадування"
	ButtonDisable  = "❌ Вимкнути нагадування"
)

const (
	textLoading     = "⏳ Завантажую графік..."
	textFetchFailed = "❌ Помилка при завантаженні графіку.\nСпробуйте пізніше."
	textUnknown     = "Невідома команда. Спробуйте /help"
	textBusy        = "⏳ Бот зайнятий, спробуйте ще раз."
)

// keyboard is the persistent menu, one button per row.
var keyboard = [][]string{
	{ButtonToday},
	{ButtonTomorrow},
	{ButtonEnable},
	{ButtonDisable},
}

func dayName(d outage.Day) string {
	if d == outage.Tomorrow {
		return "завтра"
	}
	return "сьогодні"
}

func startText(queue string) string {
	var l tgui.Lines
	l.Add(tgui.Esc("👋 Привіт! Я бот для відслідкування графіків відключення світла.")).
		Blank().
		Addf(tgui.B("Черга "+queue), tgui.Esc(" Рівнеобленерго")).
		Blank().
		Add(tgui.Esc("Виберіть дію:"))
	return l.String()
}

func helpText() string {
	var l tgui.Lines
	l.Add(tgui.B("Доступні команди:")).Blank()
	for _, c := range menuCommands {
		l.Add(tgui.Esc("/" + c.Command + " - " + c.Description))
	}
	l.Blank().Add(tgui.Esc("Або використовуйте кнопки нижче."))
	return l.String()
}

func noDataText(day outage.Day) string {
	return "❌ Дані для " + dayName(day) + " ще недоступні."
}

// scheduleText renders the windows of one day. armed is the number of
// reminders set for them.
func scheduleText(queue string, day outage.Day, date outage.Date, ivs []outage.Interval, armed int) string {
	var l tgui.Lines
	l.Addf(tgui.Raw("📅 "), tgui.B(fmt.Sprintf("Графік чергу %s на %s", queue, dayName(day)))).
		Addf(tgui.Esc("Дата: "), tgui.B(date.String())).
		Blank()

	if len(ivs) == 0 {
		l.Add(tgui.Esc("❌ Дані не доступні (очікується оновлення)"))
		return l.String()
	}

	l.Add(tgui.B("Часи відключення:"))
	for i, iv := range ivs {
		l.Addf(tgui.Esc(strconv.Itoa(i+1)+". "), tgui.B(iv.Start.String()), tgui.Esc(" - "), tgui.B(iv.End.String()))
	}
	if armed > 0 {
		l.Blank().Add(tgui.Esc("✅ Нагадування активовані!"))
	}
	return l.String()
}

func updatedText(schedule string) string {
	var l tgui.Lines
	l.Add(tgui.Esc("🔄 Графік оновлено")).Blank().Add(tgui.Raw(schedule))
	return l.String()
}

func disabledText(cancelled int) string {
	return "✅ Нагадування вимкнені.\nСкасовано нагадувань: " + strconv.Itoa(cancelled)
}

func statusText(subscribed bool, pending []reminder.Reminder) string {
	var l tgui.Lines
	state := "вимкнено"
	if subscribed {
		state = "увімкнено"
	}
	l.Addf(tgui.Esc("🔔 Автооновлення: "), tgui.B(state))
	if len(pending) == 0 {
		l.Add(tgui.Esc("Активних нагадувань немає."))
		return l.String()
	}
	l.Blank().Add(tgui.B("Заплановані нагадування:"))
	for i, r := range pending {
		l.Addf(
			tgui.Esc(strconv.Itoa(i+1)+". "+r.Key.Date.String()+" "),
			tgui.B(r.Cutoff.Format("15:04")),
			tgui.Esc(" (о "+r.Trigger.Format("15:04")+")"),
		)
	}
	return l.String()
}
