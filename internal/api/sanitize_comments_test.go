package api

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeCommentsFiltersKeysAndText(t *testing.T) {
	got := sanitizeComments(map[string]string{
		" 1234al ":   "Power\x00 Issue\r\n  on  site",
		"5678DE":     "   ",
		"not-a-site": "Cleared",
		"9012SI":     "call ops@example.com, Bearer abcdefgh12345678",
	})

	if len(got) != 2 {
		t.Fatalf("expected two comments, got %v", got)
	}
	if got["1234AL"] != "Power Issue on site" {
		t.Fatalf("unexpected cleaned comment %q", got["1234AL"])
	}
	if got["9012SI"] != "call <email>, <token>" {
		t.Fatalf("expected redaction, got %q", got["9012SI"])
	}
}

func TestSanitizeCommentCapsLength(t *testing.T) {
	got := sanitizeCommentText(strings.Repeat("é", maxCommentRunes+20))
	if utf8.RuneCountInString(got) != maxCommentRunes {
		t.Fatalf("expected %d runes, got %d", maxCommentRunes, utf8.RuneCountInString(got))
	}
}
