package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// Options configure a RealClient.
type Options struct {
	Broker     string
	Username   string
	Password   string
	DeviceID   string
	BufferSize int

	// Commands receives raw command payloads. Delivery never blocks; a full
	// channel drops the request.
	Commands chan<- []byte
}

// RealClient talks to an actual MQTT broker. Responses and heartbeats
// published while offline are buffered and replayed on reconnect; sensor
// readings and logs are dropped.
type RealClient struct {
	client paho.Client
	topics Topics
	cmds   chan<- []byte
	log    zerolog.Logger

	mu  sync.Mutex
	buf *offlineBuffer
}

// NewRealClient connects to the broker, announces presence and subscribes
// to the device's command topic.
func NewRealClient(opts Options, log zerolog.Logger) (*RealClient, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	log = log.With().Str("component", "mqtt").Logger()
	c := &RealClient{
		topics: TopicsFor(opts.DeviceID),
		cmds:   opts.Commands,
		log:    log,
		buf:    newOfflineBuffer(opts.BufferSize, log),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(ClientID(opts.DeviceID, uuid.New())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(c.topics.Status, StatusOffline, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn().Err(err).Msg("connection lost")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry keeps trying; the station runs offline meanwhile.
		c.log.Warn().Str("broker", opts.Broker).Msg("broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// onConnect runs on every (re)connect.
func (c *RealClient) onConnect(cl paho.Client) {
	c.log.Info().Msg("connected")

	if tok := cl.Subscribe(c.topics.Commands, 1, c.onCommand); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		c.log.Error().Err(tok.Error()).Str("topic", c.topics.Commands).Msg("subscribe failed")
	}
	cl.Publish(c.topics.Status, 1, true, []byte(StatusOnline))

	c.mu.Lock()
	pending := c.buf.drainAll()
	dropped := c.buf.droppedTotal()
	c.mu.Unlock()
	for _, m := range pending {
		cl.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(pending) > 0 {
		c.log.Info().Int("count", len(pending)).Int("dropped_total", dropped).Msg("replayed buffered messages")
	}
}

func (c *RealClient) onCommand(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	select {
	case c.cmds <- payload:
	default:
		c.log.Warn().Msg("command channel full, request dropped")
	}
}

// publish sends msg or, while disconnected, buffers it when its kind
// allows.
func (c *RealClient) publish(kind msgKind, topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buf.push(bufferedMsg{kind: kind, topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishReading sends a sensor reading. Readings are not buffered.
func (c *RealClient) PublishReading(sensorID, unit string, r sensor.Reading) error {
	if !c.IsConnected() {
		return nil
	}
	payload, err := FormatReading(sensorID, unit, r)
	if err != nil {
		return fmt.Errorf("format reading: %w", err)
	}
	return c.publish(kindReading, c.topics.Sensor(sensorID), 0, false, payload)
}

// PublishResponse sends a command response.
func (c *RealClient) PublishResponse(resp command.Response) error {
	payload, err := FormatResponse(resp)
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	return c.publish(kindResponse, c.topics.Responses, 1, false, payload)
}

// PublishHeartbeat sends a heartbeat.
func (c *RealClient) PublishHeartbeat(hb Heartbeat) error {
	payload, err := FormatHeartbeat(hb)
	if err != nil {
		return fmt.Errorf("format heartbeat: %w", err)
	}
	return c.publish(kindHeartbeat, c.topics.Heartbeat, 0, false, payload)
}

// PublishLog forwards one log record. It never logs and never buffers, so it
// is safe to call from a log writer.
func (c *RealClient) PublishLog(p []byte) error {
	if !c.IsConnected() {
		return nil
	}
	payload := make([]byte, len(p))
	copy(payload, p)
	c.client.Publish(c.topics.Logs, 0, false, payload)
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for reconnection.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// Close announces offline presence and disconnects.
func (c *RealClient) Close() error {
	if c.client.IsConnectionOpen() {
		c.client.Publish(c.topics.Status, 1, true, []byte(StatusOffline)).WaitTimeout(time.Second)
	}
	c.client.Disconnect(1000)
	return nil
}
