package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.WithComponent("discovery").Info("sweep complete", "hosts", 254, "open", 3)

	line := buf.String()
	if !strings.Contains(line, "[info] discovery: sweep complete") {
		t.Errorf("line = %q", line)
	}
	if !strings.Contains(line, "hosts=254") || !strings.Contains(line, "open=3") {
		t.Errorf("attrs missing: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("line must end with a newline")
	}
}

func TestConsoleHandler_QuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.Info("device found", "name", "Living Room Sonos")
	if !strings.Contains(buf.String(), `name="Living Room Sonos"`) {
		t.Errorf("line = %q", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug leaked below level: %q", buf.String())
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "[debug] visible") {
		t.Errorf("line = %q", buf.String())
	}
	if logger.GetLevel() != LevelDebug {
		t.Errorf("GetLevel = %v", logger.GetLevel())
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	logger.WithComponent("control").Info("action invoked", "action", "SetVolume")

	line := buf.String()
	if !strings.Contains(line, `"component":"control"`) {
		t.Errorf("line = %q", line)
	}
	if !strings.Contains(line, `"action":"SetVolume"`) {
		t.Errorf("line = %q", line)
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithFields(map[string]any{"ip": "192.168.1.50"}).Info("probing")
	if !strings.Contains(buf.String(), "ip=192.168.1.50") {
		t.Errorf("line = %q", buf.String())
	}
}
