package tgui

import (
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML.
// Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// JoinH joins safe HTML parts with sep, skipping blank parts.
func JoinH(sep string, parts ...H) H {
	if len(parts) == 0 {
		return ""
	}
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}

// Lines accumulates message lines. Blank() keeps an intentional empty line,
// which JoinH would drop.
type Lines struct {
	parts []string
}

func (l *Lines) Add(h H) *Lines {
	l.parts = append(l.parts, h.String())
	return l
}

func (l *Lines) Addf(parts ...H) *Lines {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.String())
	}
	l.parts = append(l.parts, b.String())
	return l
}

func (l *Lines) Blank() *Lines {
	l.parts = append(l.parts, "")
	return l
}

func (l *Lines) H() H { return H(strings.Join(l.parts, "\n")) }

func (l *Lines) String() string { return l.H().String() }
