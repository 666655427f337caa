package adapter

import (
	"strings"
	"testing"

	"outagebot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "empty", in: "", limit: 10, want: []string{""}},
		{name: "newline boundary", in: "aaaa\nbbbb\ncccc", limit: 10, want: []string{"aaaa\nbbbb", "cccc"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "html tag kept whole", in: "abcdef<b>x</b>", limit: 8, parseMode: "HTML", want: []string{"abcdef", "<b>x</b>"}},
		{name: "cyrillic runes", in: "ГрафікГрафік", limit: 6, want: []string{"Графік", "Графік"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("splitText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReplyKeyboard(t *testing.T) {
	t.Parallel()
	if replyKeyboard(nil) != nil {
		t.Fatal("no rows should produce nil markup")
	}
	rm := replyKeyboard([][]string{{"a", "b"}, {"c"}})
	if rm == nil || !rm.ResizeKeyboard {
		t.Fatalf("unexpected markup %+v", rm)
	}
	if len(rm.ReplyKeyboard) != 2 || len(rm.ReplyKeyboard[0]) != 2 || rm.ReplyKeyboard[1][0].Text != "c" {
		t.Fatalf("unexpected keyboard %+v", rm.ReplyKeyboard)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop()); err != nil {
		t.Fatalf("offline New: %v", err)
	}
}
