package lgr

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":         slog.LevelInfo,
		"debug":    slog.LevelDebug,
		" DEBUG ":  slog.LevelDebug,
		"warn":     slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"nonsense": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", in, got, want)
		}
	}
}

func TestConsoleHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", slog.LevelWarn)

	logger.Info("quiet")
	logger.Warn("loud", slog.String("camera", "porch"))

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "WARN: loud") || !strings.Contains(out, `"camera":"porch"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestErrCarriesTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", slog.LevelInfo)

	logger.Error("failed", Err(errors.New("boom")))

	out := buf.String()
	if !strings.Contains(out, `"msg":"boom"`) {
		t.Errorf("error message missing from %q", out)
	}
	if !strings.Contains(out, `"trace"`) {
		t.Errorf("stack trace missing from %q", out)
	}
}

func TestGroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", slog.LevelInfo).WithGroup("pipeline").With(slog.Int("seq", 7))

	logger.Info("frame")

	if !strings.Contains(buf.String(), `"pipeline.seq":7`) {
		t.Errorf("grouped attribute missing from %q", buf.String())
	}
}

func TestFileReceivesJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "camwatch.log")
	logger := New(&buf, file, slog.LevelInfo)

	logger.Info("to both", slog.Int("frames", 3))

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to both"`) || !strings.Contains(string(data), `"frames":3`) {
		t.Errorf("unexpected file contents %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("console did not receive the record: %q", buf.String())
	}
}
