// Package config loads the frame-grabber CLI configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

// Engine names accepted in the engine field.
const (
	EngineGStreamer = "gstreamer"
	EngineSim       = "sim"
)

// Config represents the complete frame-grabber configuration
type Config struct {
	Pipeline            string           `yaml:"pipeline"`
	Engine              string           `yaml:"engine"`                 // gstreamer, sim (default: gstreamer)
	SinkName            string           `yaml:"sink_name"`              // default: appsink0
	Format              string           `yaml:"format"`                 // gray8, rgb24, u16c1, ... (default: gray8)
	StatePollIntervalMS int              `yaml:"state_poll_interval_ms"` // default: 100
	Properties          PropertiesConfig `yaml:"properties"`
	Capture             CaptureConfig    `yaml:"capture"`
	MQTT                MQTTConfig       `yaml:"mqtt"`
	Metrics             MetricsConfig    `yaml:"metrics"`
}

// PropertiesConfig holds the stage properties applied around Start. Camera
// trigger settings usually have to be written before the pipeline plays and
// trigger mode enabled afterwards.
type PropertiesConfig struct {
	PreStart  []PropertySetting `yaml:"pre_start"`
	PostStart []PropertySetting `yaml:"post_start"`
}

// PropertySetting is one typed property write
type PropertySetting struct {
	Stage string `yaml:"stage"`
	Name  string `yaml:"name"`
	Type  string `yaml:"type,omitempty"` // bool, int, float, string (default: inferred from value)
	Value any    `yaml:"value"`
}

// CaptureConfig contains grab loop settings
type CaptureConfig struct {
	MaxFrames       int    `yaml:"max_frames"`        // 0 = until interrupted
	GrabTimeoutMS   int    `yaml:"grab_timeout_ms"`   // 0 = block until the next frame
	WarmupDurationS int    `yaml:"warmup_duration_s"` // 0 = skip warm-up
	StartRetries    int    `yaml:"start_retries"`     // retries of a failed Start (default: 3)
	OutputDir       string `yaml:"output_dir"`        // empty = do not save frames
	OutputFormat    string `yaml:"output_format"`     // png, jpeg (default: png)
	JPEGQuality     int    `yaml:"jpeg_quality"`      // 1-100 (default: 90)
	SaveEvery       int    `yaml:"save_every"`        // save every Nth frame (default: 1)
}

// MQTTConfig contains MQTT broker settings. An empty broker disables
// telemetry.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"` // default: frame-grabber
	Topic    string `yaml:"topic"`     // default: frame-grabber/<client_id>/frames
	QoS      byte   `yaml:"qos"`
}

// MetricsConfig contains the Prometheus endpoint settings. An empty listen
// address disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9090"
	Path   string `yaml:"path"`   // default: /metrics
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// PixelFormat returns the parsed pixel format. Valid after Validate.
func (c *Config) PixelFormat() framegrabber.PixelFormat {
	pf, err := framegrabber.ParsePixelFormat(c.Format)
	if err != nil {
		return framegrabber.Gray8
	}
	return pf
}

// StatePollInterval returns the state poll interval as a duration.
func (c *Config) StatePollInterval() time.Duration {
	return time.Duration(c.StatePollIntervalMS) * time.Millisecond
}

// GrabTimeout returns the grab timeout, 0 meaning block.
func (c *CaptureConfig) GrabTimeout() time.Duration {
	return time.Duration(c.GrabTimeoutMS) * time.Millisecond
}

// WarmupDuration returns the warm-up duration, 0 meaning skip.
func (c *CaptureConfig) WarmupDuration() time.Duration {
	return time.Duration(c.WarmupDurationS) * time.Second
}
