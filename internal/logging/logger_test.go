package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(Config{})

	Info().Str("partition", "20250101.log").Msg("batch appended")
	Debug().Msg("filtered out")

	out := buf.String()
	if !strings.Contains(out, `"partition":"20250101.log"`) {
		t.Errorf("expected structured field in output, got %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
}
