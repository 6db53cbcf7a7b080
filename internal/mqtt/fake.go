package mqtt

import (
	"sync"

	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// Message is one recorded publish.
type Message struct {
	Topic   string
	Payload []byte
}

// ReadingRecord is one recorded sensor publish.
type ReadingRecord struct {
	SensorID string
	Unit     string
	Reading  sensor.Reading
}

// FakeClient records publishes for test assertions.
type FakeClient struct {
	mu sync.Mutex

	topics Topics

	// Messages contains every formatted publish in order.
	Messages []Message

	Readings   []ReadingRecord
	Responses  []command.Response
	Heartbeats []Heartbeat
	Logs       [][]byte

	// PublishError, if set, is returned by every publish.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeClient creates a connected FakeClient for deviceID.
func NewFakeClient(deviceID string) *FakeClient {
	return &FakeClient{topics: TopicsFor(deviceID), Connected: true}
}

func (f *FakeClient) record(topic string, payload []byte) {
	f.Messages = append(f.Messages, Message{Topic: topic, Payload: payload})
}

// PublishReading records a sensor reading.
func (f *FakeClient) PublishReading(sensorID, unit string, r sensor.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatReading(sensorID, unit, r)
	if err != nil {
		return err
	}
	f.Readings = append(f.Readings, ReadingRecord{SensorID: sensorID, Unit: unit, Reading: r})
	f.record(f.topics.Sensor(sensorID), payload)
	return nil
}

// PublishResponse records a command response.
func (f *FakeClient) PublishResponse(resp command.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatResponse(resp)
	if err != nil {
		return err
	}
	f.Responses = append(f.Responses, resp)
	f.record(f.topics.Responses, payload)
	return nil
}

// PublishHeartbeat records a heartbeat.
func (f *FakeClient) PublishHeartbeat(hb Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatHeartbeat(hb)
	if err != nil {
		return err
	}
	f.Heartbeats = append(f.Heartbeats, hb)
	f.record(f.topics.Heartbeat, payload)
	return nil
}

// PublishLog records a forwarded log line.
func (f *FakeClient) PublishLog(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := make([]byte, len(p))
	copy(line, p)
	f.Logs = append(f.Logs, line)
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected flips the connection state.
func (f *FakeClient) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = v
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// ResponseFor returns the last response recorded for id.
func (f *FakeClient) ResponseFor(id string) (command.Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Responses) - 1; i >= 0; i-- {
		if f.Responses[i].CommandID == id {
			return f.Responses[i], true
		}
	}
	return command.Response{}, false
}

// Reset clears recorded publishes.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.Readings = nil
	f.Responses = nil
	f.Heartbeats = nil
	f.Logs = nil
	f.PublishError = nil
	f.Closed = false
}
