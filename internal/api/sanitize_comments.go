package api

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxCommentRunes = 500
	maxComments     = 5_000
)

var (
	commentSiteCodeRegex = regexp.MustCompile(`^\d{4}(?:AL|DE|SI)$`)
	commentEmailRegex    = regexp.MustCompile(`(?i)\b[\w.+-]+@[\w.-]+\.[a-z]{2,}\b`)
	commentBearerRegex   = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]{8,}\b`)
)

// sanitizeComments keeps entries keyed by a valid site code with non-empty text. Keys are
// upper-cased and values are stripped of control characters, redacted and capped.
func sanitizeComments(raw map[string]string) map[string]string {
	sanitized := make(map[string]string, len(raw))
	for key, value := range raw {
		if len(sanitized) >= maxComments {
			break
		}
		code := strings.ToUpper(strings.TrimSpace(key))
		if !commentSiteCodeRegex.MatchString(code) {
			continue
		}
		if text := sanitizeCommentText(value); text != "" {
			sanitized[code] = text
		}
	}
	return sanitized
}

func sanitizeCommentText(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, value)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	cleaned = commentEmailRegex.ReplaceAllString(cleaned, "<email>")
	cleaned = commentBearerRegex.ReplaceAllString(cleaned, "<token>")

	if utf8.RuneCountInString(cleaned) > maxCommentRunes {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxCommentRunes]))
	}
	return cleaned
}
