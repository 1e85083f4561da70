package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestFormatMessageOmitsEmptyTag(t *testing.T) {
	l := &Logger{level: LevelInfo, showTime: false}
	out := l.formatMessage(ColorWhite, "INFO", "", "hello")
	want := ColorWhite + "[INFO]" + ColorReset + " hello"
	if out != want {
		t.Fatalf("untagged format mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestFormatMessageIncludesTag(t *testing.T) {
	l := &Logger{level: LevelInfo, showTime: false}
	out := l.formatMessage(ColorWhite, "INFO", "abcd1234", "hello")
	want := ColorGray + "[abcd1234]" + ColorReset + " " + ColorWhite + "[INFO]" + ColorReset + " hello"
	if out != want {
		t.Fatalf("tagged format mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestLogLevelGating(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}()

	l := &Logger{level: LevelWarn, showTime: false}
	l.log(LevelDebug, ColorGray, "DEBUG", "", "below threshold")
	l.log(LevelError, ColorRed, "ERROR", "conn-1", "above threshold")

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Fatalf("LevelDebug message should have been gated out by LevelWarn, got: %q", out)
	}
	if !strings.Contains(out, "above threshold") || !strings.Contains(out, "[conn-1]") {
		t.Fatalf("LevelError message with tag should have been logged, got: %q", out)
	}
}
