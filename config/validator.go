package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

// Validate checks the configuration and fills in defaults. Every problem is
// reported, not just the first one.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Pipeline) == "" {
		errs = append(errs, fmt.Errorf("pipeline is required"))
	}

	switch cfg.Engine {
	case "":
		cfg.Engine = EngineGStreamer
	case EngineGStreamer, EngineSim:
	default:
		errs = append(errs, fmt.Errorf("engine must be %q or %q, got %q", EngineGStreamer, EngineSim, cfg.Engine))
	}

	if cfg.SinkName == "" {
		cfg.SinkName = framegrabber.DefaultSinkName
	}

	if cfg.Format == "" {
		cfg.Format = "gray8"
	}
	if _, err := framegrabber.ParsePixelFormat(cfg.Format); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}

	if cfg.StatePollIntervalMS == 0 {
		cfg.StatePollIntervalMS = int(framegrabber.DefaultStatePollInterval.Milliseconds())
	} else if cfg.StatePollIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("state_poll_interval_ms must be > 0"))
	}

	for i := range cfg.Properties.PreStart {
		if err := validateSetting(&cfg.Properties.PreStart[i]); err != nil {
			errs = append(errs, fmt.Errorf("properties.pre_start[%d]: %w", i, err))
		}
	}
	for i := range cfg.Properties.PostStart {
		if err := validateSetting(&cfg.Properties.PostStart[i]); err != nil {
			errs = append(errs, fmt.Errorf("properties.post_start[%d]: %w", i, err))
		}
	}

	errs = append(errs, validateCapture(&cfg.Capture)...)

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "frame-grabber"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("frame-grabber/%s/frames", cfg.MQTT.ClientID)
		}
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
		}
	}

	if cfg.Metrics.Listen != "" && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return errors.Join(errs...)
}

func validateCapture(c *CaptureConfig) []error {
	var errs []error

	if c.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("capture.max_frames must be >= 0"))
	}
	if c.GrabTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("capture.grab_timeout_ms must be >= 0"))
	}
	if c.WarmupDurationS < 0 {
		errs = append(errs, fmt.Errorf("capture.warmup_duration_s must be >= 0"))
	}
	if c.StartRetries == 0 {
		c.StartRetries = 3
	} else if c.StartRetries < 0 {
		errs = append(errs, fmt.Errorf("capture.start_retries must be >= 0"))
	}

	switch strings.ToLower(c.OutputFormat) {
	case "":
		c.OutputFormat = "png"
	case "png":
		c.OutputFormat = "png"
	case "jpeg", "jpg":
		c.OutputFormat = "jpeg"
	default:
		errs = append(errs, fmt.Errorf("capture.output_format must be png or jpeg, got %q", c.OutputFormat))
	}

	if c.JPEGQuality == 0 {
		c.JPEGQuality = 90
	} else if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality must be 1-100"))
	}

	if c.SaveEvery == 0 {
		c.SaveEvery = 1
	} else if c.SaveEvery < 0 {
		errs = append(errs, fmt.Errorf("capture.save_every must be >= 1"))
	}

	return errs
}

func validateSetting(s *PropertySetting) error {
	if s.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	v, err := s.Resolve()
	if err != nil {
		return err
	}
	s.Value = v
	return nil
}

// Resolve returns the value converted to the declared type: bool, int,
// float64 or string. Without a declared type the YAML scalar type is used.
func (s PropertySetting) Resolve() (any, error) {
	switch strings.ToLower(s.Type) {
	case "":
		switch v := s.Value.(type) {
		case bool, int, float64, string:
			return v, nil
		case nil:
			return nil, fmt.Errorf("%s.%s: value is required", s.Stage, s.Name)
		default:
			return nil, fmt.Errorf("%s.%s: unsupported value type %T", s.Stage, s.Name, s.Value)
		}

	case "bool", "boolean":
		switch v := s.Value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: invalid bool %q", s.Stage, s.Name, v)
			}
			return b, nil
		}

	case "int", "integer":
		switch v := s.Value.(type) {
		case int:
			return v, nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: invalid int %q", s.Stage, s.Name, v)
			}
			return n, nil
		}

	case "float", "double":
		switch v := s.Value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: invalid float %q", s.Stage, s.Name, v)
			}
			return f, nil
		}

	case "string":
		switch v := s.Value.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprint(v), nil
		}

	default:
		return nil, fmt.Errorf("%s.%s: unknown type %q", s.Stage, s.Name, s.Type)
	}

	return nil, fmt.Errorf("%s.%s: value %v is not a valid %s", s.Stage, s.Name, s.Value, s.Type)
}
