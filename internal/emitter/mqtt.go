// Package emitter publishes per-frame metadata and periodic grabber stats to
// an MQTT broker, msgpack encoded. Pixel data is never published.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

// Config contains MQTT broker settings
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // frame events; stats go to Topic + "/stats"
	QoS      byte
}

// FrameEvent is the metadata of one grabbed frame.
type FrameEvent struct {
	Seq             uint64  `msgpack:"seq"`
	TraceID         string  `msgpack:"trace_id"`
	Width           int     `msgpack:"width"`
	Height          int     `msgpack:"height"`
	Format          string  `msgpack:"format"`
	SourceFormat    string  `msgpack:"source_format"`
	SizeBytes       int     `msgpack:"size_bytes"`
	CameraTimestamp uint64  `msgpack:"camera_timestamp_ns"`
	CameraFrameRate float64 `msgpack:"camera_frame_rate"`
	DeltaMS         float64 `msgpack:"delta_ms"`
	ReceivedAt      int64   `msgpack:"received_at_unix_ns"`
}

// NewFrameEvent builds the event for frame. deltaMS is the camera timestamp
// difference to the previous grab.
func NewFrameEvent(frame framegrabber.Frame, deltaMS float64) FrameEvent {
	return FrameEvent{
		Seq:             frame.Seq,
		TraceID:         frame.TraceID,
		Width:           frame.Width,
		Height:          frame.Height,
		Format:          frame.Format.String(),
		SourceFormat:    frame.SourceFormat,
		SizeBytes:       len(frame.Data),
		CameraTimestamp: frame.CameraTimestamp,
		CameraFrameRate: frame.CameraFrameRate,
		DeltaMS:         deltaMS,
		ReceivedAt:      frame.ReceivedAt.UnixNano(),
	}
}

// StatsEvent is a snapshot of grabber counters.
type StatsEvent struct {
	Running        bool    `msgpack:"running"`
	State          string  `msgpack:"state"`
	UptimeS        float64 `msgpack:"uptime_s"`
	Grabs          uint64  `msgpack:"grabs"`
	GrabTimeouts   uint64  `msgpack:"grab_timeouts"`
	Delivered      uint64  `msgpack:"delivered"`
	Dropped        uint64  `msgpack:"dropped"`
	DeliveryErrors uint64  `msgpack:"delivery_errors"`
	LastSeq        uint64  `msgpack:"last_seq"`
	FrameRate      float64 `msgpack:"camera_frame_rate"`
}

// NewStatsEvent converts grabber stats.
func NewStatsEvent(s framegrabber.GrabberStats) StatsEvent {
	return StatsEvent{
		Running:        s.Running,
		State:          s.State,
		UptimeS:        s.Uptime.Seconds(),
		Grabs:          s.Grabs,
		GrabTimeouts:   s.GrabTimeouts,
		Delivered:      s.Delivered,
		Dropped:        s.Dropped,
		DeliveryErrors: s.DeliveryErrors,
		LastSeq:        s.LastSeq,
		FrameRate:      s.CameraFrameRate,
	}
}

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTEmitter publishes frame events to an MQTT broker
type MQTTEmitter struct {
	cfg    Config
	client publisher

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("frame-grabber: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("frame-grabber: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	e.client = client

	slog.Info("frame-grabber: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishFrame publishes the metadata of one frame.
func (e *MQTTEmitter) PublishFrame(ev FrameEvent) error {
	return e.publish(e.cfg.Topic, ev)
}

// PublishStats publishes a stats snapshot on Topic + "/stats".
func (e *MQTTEmitter) PublishStats(ev StatsEvent) error {
	return e.publish(e.cfg.Topic+"/stats", ev)
}

func (e *MQTTEmitter) publish(topic string, v any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("frame-grabber: event published",
		"topic", topic,
		"qos", e.cfg.QoS,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("frame-grabber: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
