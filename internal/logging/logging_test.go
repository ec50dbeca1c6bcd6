package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWritesJSONAtConfiguredLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(Config{Level: "warn", Output: buf}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	log.Info().Msg("hidden")
	log.Warn().Str("sheet", "2G_Down").Msg("sheet skipped")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info event to be filtered, got %s", out)
	}
	if !strings.Contains(out, `"sheet":"2G_Down"`) || !strings.Contains(out, `"service":"summarizer"`) {
		t.Fatalf("expected structured warn event, got %s", out)
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(Config{Level: "chatty", Output: buf}); err == nil {
		t.Fatal("expected unknown level to be reported")
	}

	log.Info().Msg("still logged")
	if !strings.Contains(buf.String(), "still logged") {
		t.Fatalf("expected info fallback level, got %s", buf.String())
	}
}
