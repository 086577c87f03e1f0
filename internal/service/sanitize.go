package service

import (
	"strings"
	"unicode"
)

const maxQuestionLen = 4000

var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}

// sanitizeQuestion strips control characters and role-override markers from
// visitor text before it is sent to the answering service, and caps its
// length in runes.
func sanitizeQuestion(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range roleMarkers {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if r := []rune(s); len(r) > maxQuestionLen {
		s = string(r[:maxQuestionLen]) + "\n[truncated]"
	}
	return s
}
