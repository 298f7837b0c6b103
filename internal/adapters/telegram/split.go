package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MessageLimit максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage режет текст на части не длиннее limit символов, по возможности
// по границам строк. limit <= 0 означает MessageLimit.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if chunk := strings.Trim(cur.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}

// Numbered добавляет к частям заголовок с номером, если частей больше одной.
// Заголовок учитывается в лимите.
func Numbered(title, text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	header := title + "\n"
	parts := SplitMessage(text, limit-utf8.RuneCountInString(header)-len(" (99/99)"))
	if len(parts) <= 1 {
		if len(parts) == 0 {
			return []string{title}
		}
		return []string{header + parts[0]}
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = fmt.Sprintf("%s (%d/%d)\n%s", title, i+1, len(parts), p)
	}
	return out
}
