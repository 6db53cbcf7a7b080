package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/config"
	"github.com/sweeney/dosing-station/internal/mqtt"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LoggingConfig{Level: "info", Format: "json"}, "doser-01", &buf, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug().Msg("hidden")
	log.Info().Str("sensor", "ph").Msg("calibrated")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["device_id"] != "doser-01" || rec["sensor"] != "ph" || rec["message"] != "calibrated" {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LoggingConfig{Level: "DEBUG", Format: "console"}, "d", &buf, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug().Msg("pump started")
	if !strings.Contains(buf.String(), "pump started") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}, "d", &bytes.Buffer{}, nil); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestMQTTWriterForwardsWarnings(t *testing.T) {
	fake := mqtt.NewFakeClient("d")
	w := NewMQTTWriter()
	w.Attach(fake)

	var local bytes.Buffer
	log, err := New(config.LoggingConfig{Level: "debug", Format: "json"}, "d", &local, w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info().Msg("routine")
	log.Warn().Msg("cooldown")
	log.Error().Msg("fault")

	if len(fake.Logs) != 2 {
		t.Fatalf("expected 2 forwarded records, got %d", len(fake.Logs))
	}
	if !strings.Contains(string(fake.Logs[0]), "cooldown") || !strings.Contains(string(fake.Logs[1]), "fault") {
		t.Errorf("unexpected forwarded records %q", fake.Logs)
	}
	if n := strings.Count(local.String(), "\n"); n != 3 {
		t.Errorf("expected all 3 records locally, got %d", n)
	}
}

func TestMQTTWriterDetached(t *testing.T) {
	w := NewMQTTWriter()
	if n, err := w.WriteLevel(zerolog.ErrorLevel, []byte("x")); n != 1 || err != nil {
		t.Errorf("expected silent discard, got %d %v", n, err)
	}

	fake := mqtt.NewFakeClient("d")
	w.Attach(fake)
	w.Attach(nil)
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("x"))
	if len(fake.Logs) != 0 {
		t.Error("expected nothing forwarded after detach")
	}
}

// loopback logs from inside PublishLog, as a misbehaving publisher might.
type loopback struct {
	log   zerolog.Logger
	calls int
}

func (l *loopback) PublishLog(p []byte) error {
	l.calls++
	l.log.Error().Msg("publish failed")
	return nil
}

func TestMQTTWriterNoRecursion(t *testing.T) {
	w := NewMQTTWriter()
	lb := &loopback{}
	w.Attach(lb)

	log, err := New(config.LoggingConfig{Level: "info", Format: "json"}, "d", &bytes.Buffer{}, w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lb.log = log

	log.Warn().Msg("first")
	if lb.calls != 1 {
		t.Errorf("expected exactly one publish, got %d", lb.calls)
	}
}
