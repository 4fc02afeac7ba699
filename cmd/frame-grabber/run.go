package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/fanout"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/framesaver"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/retry"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/simengine"
)

type runOptions struct {
	Out           io.Writer
	StatsInterval time.Duration // 0 = no periodic stats
	RetryDelay    time.Duration // initial start retry delay (default 1s)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// newEngine returns the pipeline engine selected by name.
func newEngine(name string) (engine.Engine, error) {
	switch name {
	case config.EngineGStreamer:
		eng, err := gstreamer.New()
		if err != nil {
			return nil, err
		}
		return eng, nil
	case config.EngineSim:
		return simengine.New(simengine.WithAutoStream()), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

func newGrabber(cfg *config.Config) (*framegrabber.Grabber, error) {
	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	return framegrabber.New(framegrabber.Config{
		Pipeline:          cfg.Pipeline,
		Format:            cfg.PixelFormat(),
		SinkName:          cfg.SinkName,
		StatePollInterval: cfg.StatePollInterval(),
		Engine:            eng,
	})
}

// stageNames builds the pipeline without starting it.
func stageNames(cfg *config.Config) ([]string, error) {
	g, err := newGrabber(cfg)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	return g.StageNames(), nil
}

func applyProperties(g *framegrabber.Grabber, phase string, settings []config.PropertySetting) error {
	for _, s := range settings {
		if err := g.SetProperty(s.Stage, s.Name, s.Value); err != nil {
			return fmt.Errorf("%s property %s.%s: %w", phase, s.Stage, s.Name, err)
		}
		slog.Info("frame-grabber: property applied",
			"phase", phase,
			"stage", s.Stage,
			"property", s.Name,
			"value", s.Value,
		)
	}
	return nil
}

// startWithRetry retries only failed state transitions; construction and
// property errors cannot be fixed by waiting.
func startWithRetry(ctx context.Context, g *framegrabber.Grabber, attempts int, delay time.Duration) error {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = attempts
	if delay > 0 {
		cfg.RetryDelay = delay
	}

	var state retry.State
	return retry.Run(ctx, "pipeline start", func(ctx context.Context) error {
		err := g.Start(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, framegrabber.ErrStateTransition) {
			return retry.Permanent(err)
		}
		// Back to NULL so the next attempt starts from a clean state.
		if stopErr := g.Stop(); stopErr != nil {
			slog.Warn("frame-grabber: reset after failed start failed", "error", stopErr)
		}
		return err
	}, cfg, &state)
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	// The stats reporter and the grab loop share the output.
	opts.Out = &syncWriter{w: opts.Out}

	g, err := newGrabber(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	fmt.Fprintf(opts.Out, "Stages: %v\n", g.StageNames())

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg, g)
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("frame-grabber: metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("frame-grabber: metrics endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var saver *framesaver.FrameSaver
	if cfg.Capture.OutputDir != "" {
		saver, err = framesaver.New(cfg.Capture.OutputDir, cfg.Capture.OutputFormat, cfg.Capture.JPEGQuality)
		if err != nil {
			return err
		}
		slog.Info("frame-grabber: frame saving enabled",
			"directory", cfg.Capture.OutputDir,
			"format", cfg.Capture.OutputFormat,
			"every", cfg.Capture.SaveEvery,
		)
	}

	var emit *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		emit = emitter.NewMQTTEmitter(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		// Telemetry is optional: a broker that is down does not stop capture.
		if err := emit.Connect(ctx); err != nil {
			slog.Warn("frame-grabber: mqtt unavailable, continuing without telemetry", "error", err)
		}
		defer emit.Disconnect()
	}

	if err := applyProperties(g, "pre_start", cfg.Properties.PreStart); err != nil {
		return err
	}

	if err := startWithRetry(ctx, g, cfg.Capture.StartRetries, opts.RetryDelay); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer func() {
		if err := g.Stop(); err != nil {
			slog.Error("frame-grabber: error stopping pipeline", "error", err)
		}
	}()

	if err := applyProperties(g, "post_start", cfg.Properties.PostStart); err != nil {
		return err
	}

	if d := cfg.Capture.WarmupDuration(); d > 0 {
		ws, err := g.Warmup(ctx, d)
		if ws == nil {
			return fmt.Errorf("warmup failed: %w", err)
		}
		fmt.Fprintf(opts.Out, "Warmup: %d frames, %.2f fps (stddev %.2f), stable=%v\n",
			ws.FramesReceived, ws.FPSMean, ws.FPSStdDev, ws.IsStable)
		if err != nil {
			fmt.Fprintf(opts.Out, "⚠️  WARNING: %v\n", err)
		}
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	var reporter sync.WaitGroup
	// stopReporter is idempotent; deferred for the early returns below.
	stopReporter := func() {
		stopStats()
		reporter.Wait()
	}
	defer stopReporter()
	if opts.StatsInterval > 0 {
		reporter.Add(1)
		go func() {
			defer reporter.Done()
			reportStats(statsCtx, g, emit, opts.Out, opts.StatsInterval)
		}()
	}

	bus := fanout.New()
	defer bus.Close()
	var workers sync.WaitGroup
	if saver != nil {
		ch, _ := bus.Subscribe("saver", 8)
		workers.Add(1)
		go func() {
			defer workers.Done()
			saveFrames(ch, saver, cfg.Capture.SaveEvery, rec)
		}()
	}
	if emit != nil {
		ch, _ := bus.Subscribe("mqtt", 32)
		workers.Add(1)
		go func() {
			defer workers.Done()
			publishFrames(ch, emit)
		}()
	}

	var (
		frames  int
		prevTS  uint64
		started = time.Now()
	)
	for cfg.Capture.MaxFrames == 0 || frames < cfg.Capture.MaxFrames {
		grabCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout := cfg.Capture.GrabTimeout(); timeout > 0 {
			grabCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		t0 := time.Now()
		frame, err := g.GrabContext(grabCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintf(opts.Out, "\nReceived interrupt signal, shutting down...\n")
				break
			}
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("frame-grabber: no frame within grab timeout", "timeout", cfg.Capture.GrabTimeout())
				continue
			}
			return err
		}
		rec.GrabDuration.Observe(time.Since(t0).Seconds())
		frames++

		var deltaMS float64
		if prevTS > 0 && frame.CameraTimestamp > prevTS {
			delta := frame.CameraTimestamp - prevTS
			deltaMS = float64(delta) / float64(time.Millisecond)
			rec.FrameInterval.Observe(float64(delta) / float64(time.Second))
		}
		prevTS = frame.CameraTimestamp

		fmt.Fprintf(opts.Out, "[%s] Frame #%-6d | Seq: %-8d | %dx%d %s | Δt: %7.2f ms | %5.1f fps\n",
			time.Now().Format("15:04:05"),
			frames,
			frame.Seq,
			frame.Width,
			frame.Height,
			frame.Format,
			deltaMS,
			frame.CameraFrameRate,
		)

		bus.Publish(fanout.Item{Frame: frame, Index: frames, DeltaMS: deltaMS})
	}

	bus.Close()
	workers.Wait()
	stopReporter()

	stats := g.Stats()
	fmt.Fprintf(opts.Out, "\n")
	fmt.Fprintf(opts.Out, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(opts.Out, "                     Final Statistics                      \n")
	fmt.Fprintf(opts.Out, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(opts.Out, "  Total Uptime:       %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(opts.Out, "  Frames Grabbed:     %d\n", frames)
	fmt.Fprintf(opts.Out, "  Deliveries:         %d copied, %d dropped, %d errors\n", stats.Delivered, stats.Dropped, stats.DeliveryErrors)
	if saver != nil {
		saved, failed := saver.Stats()
		fmt.Fprintf(opts.Out, "  Frames Saved:       %d (%d failed)\n", saved, failed)
	}
	fmt.Fprintf(opts.Out, "  Camera Frame Rate:  %.2f fps\n", stats.CameraFrameRate)
	fmt.Fprintf(opts.Out, "═══════════════════════════════════════════════════════════\n")

	return nil
}

// saveFrames writes every Nth grabbed frame until ch is closed.
func saveFrames(ch <-chan fanout.Item, saver *framesaver.FrameSaver, every int, rec *metrics.Recorder) {
	for item := range ch {
		if (item.Index-1)%every != 0 {
			continue
		}
		path, err := saver.Save(item.Frame)
		if err != nil {
			rec.SaveErrors.Inc()
			slog.Error("frame-grabber: failed to save frame", "error", err, "seq", item.Frame.Seq)
			continue
		}
		rec.FramesSaved.Inc()
		slog.Debug("frame-grabber: frame saved", "path", path)
	}
}

func publishFrames(ch <-chan fanout.Item, emit *emitter.MQTTEmitter) {
	for item := range ch {
		if err := emit.PublishFrame(emitter.NewFrameEvent(item.Frame, item.DeltaMS)); err != nil {
			slog.Debug("frame-grabber: frame event not published", "error", err, "seq", item.Frame.Seq)
		}
	}
}

func reportStats(ctx context.Context, g *framegrabber.Grabber, emit *emitter.MQTTEmitter, out io.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := g.Stats()
			// one write per box so it is not interleaved with frame lines
			var box strings.Builder
			fmt.Fprintf(&box, "\n")
			fmt.Fprintf(&box, "╭─────────────────────────────────────────────────────────╮\n")
			fmt.Fprintf(&box, "│ Grabber Statistics (Uptime: %s)\n", stats.Uptime.Round(time.Second))
			fmt.Fprintf(&box, "├─────────────────────────────────────────────────────────┤\n")
			fmt.Fprintf(&box, "│ State:              %s\n", stats.State)
			fmt.Fprintf(&box, "│ Grabs:              %6d (%d timeouts)\n", stats.Grabs, stats.GrabTimeouts)
			fmt.Fprintf(&box, "│ Delivered:          %6d\n", stats.Delivered)
			fmt.Fprintf(&box, "│ Dropped (idle):     %6d\n", stats.Dropped)
			fmt.Fprintf(&box, "│ Delivery Errors:    %6d\n", stats.DeliveryErrors)
			fmt.Fprintf(&box, "│ Camera FPS:         %6.2f\n", stats.CameraFrameRate)
			fmt.Fprintf(&box, "╰─────────────────────────────────────────────────────────╯\n")
			io.WriteString(out, box.String())

			if emit != nil {
				if err := emit.PublishStats(emitter.NewStatsEvent(stats)); err != nil {
					slog.Debug("frame-grabber: stats not published", "error", err)
				}
			}
		}
	}
}
