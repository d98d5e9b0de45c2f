package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo || cfg.Pretty || cfg.Output == nil {
		t.Errorf("DefaultConfig() = %+v, want info JSON to stderr", cfg)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	emit := map[zerolog.Level]func(zerolog.Logger){
		zerolog.DebugLevel: func(l zerolog.Logger) { l.Debug().Msg("next page scheduled") },
		zerolog.InfoLevel:  func(l zerolog.Logger) { l.Info().Msg("run created") },
		zerolog.WarnLevel:  func(l zerolog.Logger) { l.Warn().Msg("task retried") },
		zerolog.ErrorLevel: func(l zerolog.Logger) { l.Error().Msg("run aborted") },
	}
	messages := map[zerolog.Level]string{
		zerolog.DebugLevel: "next page scheduled",
		zerolog.InfoLevel:  "run created",
		zerolog.WarnLevel:  "task retried",
		zerolog.ErrorLevel: "run aborted",
	}

	tests := []struct {
		level LogLevel
		shown []zerolog.Level
	}{
		{LevelDebug, []zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel}},
		{LevelInfo, []zerolog.Level{zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel}},
		{LevelWarn, []zerolog.Level{zerolog.WarnLevel, zerolog.ErrorLevel}},
		{LevelError, []zerolog.Level{zerolog.ErrorLevel}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})
			for _, emitAt := range emit {
				emitAt(logger)
			}

			shown := make(map[zerolog.Level]bool)
			for _, l := range tt.shown {
				shown[l] = true
			}
			out := buf.String()
			for l, msg := range messages {
				if got := strings.Contains(out, msg); got != shown[l] {
					t.Errorf("%s message present = %v, want %v", l, got, shown[l])
				}
			}
		})
	}
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: "chatty", Output: buf})
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q, want info level", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"", zerolog.InfoLevel, false},
		{"Info", zerolog.InfoLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("harvest")
	logger.Info().Str("command", "user-search").Msg("Run stopped")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not one JSON line: %q", buf.String())
	}
	if line["component"] != "harvest" || line["command"] != "user-search" || line["message"] != "Run stopped" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("line should carry a timestamp")
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Str("command", "user-count-search").Msg("Run started")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("want console output, got JSON: %q", out)
	}
	if !strings.Contains(out, "Run started") || !strings.Contains(out, "user-count-search") {
		t.Errorf("output = %q", out)
	}
}
