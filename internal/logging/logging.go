// Package logging builds the process logger and optionally mirrors warnings
// to the device's MQTT log topic.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/config"
)

// LogPublisher sends one encoded log record off the device.
type LogPublisher interface {
	PublishLog(p []byte) error
}

// New builds a logger writing to w in the configured format. When remote is
// non-nil, records at warn and above are also handed to it.
func New(cfg config.LoggingConfig, deviceID string, w io.Writer, remote *MQTTWriter) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	out := w
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if remote != nil {
		out = zerolog.MultiLevelWriter(out, remote)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("device_id", deviceID).
		Logger(), nil
}

// MQTTWriter is a zerolog.LevelWriter that forwards records at or above
// MinLevel to a LogPublisher. The publisher is attached after the MQTT
// client exists; until then records are discarded.
type MQTTWriter struct {
	MinLevel zerolog.Level

	mu  sync.Mutex
	pub LogPublisher

	busy atomic.Bool
}

// NewMQTTWriter returns a writer forwarding warnings and errors.
func NewMQTTWriter() *MQTTWriter {
	return &MQTTWriter{MinLevel: zerolog.WarnLevel}
}

// Attach sets (or, with nil, clears) the publisher.
func (m *MQTTWriter) Attach(pub LogPublisher) {
	m.mu.Lock()
	m.pub = pub
	m.mu.Unlock()
}

// Write drops records without a level.
func (m *MQTTWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel forwards p when level is high enough. Publish errors are
// swallowed; a record logged while forwarding is already in progress is
// dropped rather than recursing.
func (m *MQTTWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < m.MinLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	m.mu.Lock()
	pub := m.pub
	m.mu.Unlock()
	if pub == nil {
		return len(p), nil
	}
	if !m.busy.CompareAndSwap(false, true) {
		return len(p), nil
	}
	defer m.busy.Store(false)

	_ = pub.PublishLog(p)
	return len(p), nil
}
