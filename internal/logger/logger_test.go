package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetGlobal(t *testing.T) {
	defer SetGlobal(nil, false)

	var buf bytes.Buffer
	SetGlobal(New(&buf, true), true)

	if !IsDebug() {
		t.Error("IsDebug() = false after enabling debug")
	}
	Get().Debug("Resolved type", "type", "mood")
	if !strings.Contains(buf.String(), "Resolved type") {
		t.Errorf("expected debug record, got %q", buf.String())
	}
}

func TestNewInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Debug("hidden")
	log.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
