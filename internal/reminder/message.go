package reminder

import (
	"time"

	"outagebot/pkg/tgui"
)

// Message renders the reminder text (Telegram HTML) for a window starting at
// cutoff.
func Message(queue string, cutoff time.Time) string {
	var l tgui.Lines
	l.Addf(tgui.Raw("⚠️ "), tgui.B("Нагадування про відключення світла!")).
		Blank()
	if queue != "" {
		l.Add(tgui.B("Черга " + queue))
	}
	l.Addf(tgui.Esc("Відключення через "), tgui.B("1 годину")).
		Addf(tgui.Esc("Час: "), tgui.B(cutoff.Format("15:04"))).
		Blank().
		Add(tgui.Esc("Підготуйтеся заздалегідь!"))
	return l.String()
}
