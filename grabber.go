package framegrabber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/warmup"
)

// Config contains the construction parameters of a Grabber.
type Config struct {
	// Pipeline is the engine description, passed through untouched (required)
	Pipeline string
	// Format sizes and interprets every delivered buffer (required)
	Format PixelFormat
	// SinkName is the stage the handoff attaches to (default "appsink0")
	SinkName string
	// StatePollInterval bounds each state query during Start/Stop (default 100ms)
	StatePollInterval time.Duration
	// Engine runs the pipeline, e.g. gstreamer.New() (required)
	Engine engine.Engine
}

// Grabber is a synchronous frame grabber over an asynchronous pipeline.
//
// Lifecycle: New() → Start() → Grab()... → Stop() → Close().
// Start/Stop may be repeated; every Start begins with an empty frame slot.
//
// Thread-safety:
//   - Grab/GrabContext: single consumer goroutine
//   - Start/Stop/Set*/Close: consumer goroutine (serialized internally)
//   - Stats/StageNames/CameraTimestamp/CameraFrameRate: any goroutine
type Grabber struct {
	cfg      Config
	registry *Registry
	handoff  *Handoff

	mu        sync.Mutex
	running   bool
	started   time.Time
	lastState engine.State

	closed atomic.Bool
}

// New builds the pipeline, indexes its stages and attaches the handoff to the
// sink stage.
//
// Fails fast (before Start is reachable) with:
//   - *ConstructionError: empty description, invalid pixel format, no engine,
//     launch or enumeration failure
//   - *MissingRequiredStageError: no sink stage named cfg.SinkName
func New(cfg Config) (*Grabber, error) {
	if cfg.Pipeline == "" {
		return nil, &ConstructionError{Reason: "pipeline description is required"}
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, &ConstructionError{Description: cfg.Pipeline, Reason: "invalid pixel format", Err: err}
	}
	if cfg.SinkName == "" {
		cfg.SinkName = DefaultSinkName
	}
	if cfg.StatePollInterval <= 0 {
		cfg.StatePollInterval = DefaultStatePollInterval
	}
	if cfg.Engine == nil {
		return nil, &ConstructionError{Description: cfg.Pipeline, Reason: "pipeline engine is required"}
	}

	registry, err := BuildRegistry(cfg.Engine, cfg.Pipeline, cfg.SinkName)
	if err != nil {
		return nil, err
	}
	registry.pollInterval = cfg.StatePollInterval

	g := &Grabber{
		cfg:       cfg,
		registry:  registry,
		handoff:   NewHandoff(cfg.Format),
		lastState: engine.StateNull,
	}

	if err := registry.Sink().OnSample(g.handoff.OnFrameDelivered); err != nil {
		registry.Close()
		return nil, &ConstructionError{
			Description: cfg.Pipeline,
			Reason:      fmt.Sprintf("unable to attach to sink stage %q", cfg.SinkName),
			Err:         err,
		}
	}

	slog.Info("frame-grabber: grabber created",
		"pipeline", cfg.Pipeline,
		"format", cfg.Format.String(),
		"sink", cfg.SinkName,
		"stages", len(registry.names),
	)

	return g, nil
}

// Start sets the pipeline to PLAYING and blocks until the engine confirms.
//
// ctx only bounds the confirmation polling; with context.Background the call
// waits until the engine reports success or failure. Calling Start on a
// running grabber is a no-op that still confirms the state.
func (g *Grabber) Start(ctx context.Context) error {
	if g.closed.Load() {
		return ErrClosed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		g.handoff.Reset()
	}

	slog.Info("frame-grabber: starting pipeline", "pipeline", g.registry.pipeline.Name())

	if err := g.registry.Start(ctx); err != nil {
		g.lastState, _ = g.registry.State()
		slog.Error("frame-grabber: failed to start pipeline", "error", err, "state", g.lastState)
		return err
	}

	if !g.running {
		g.started = time.Now()
	}
	g.running = true
	g.lastState = engine.StatePlaying

	slog.Info("frame-grabber: pipeline playing")
	return nil
}

// Stop sets the pipeline to NULL and blocks until the engine confirms.
// Idempotent. The frame slot is cleared so a later Start begins empty.
func (g *Grabber) Stop() error {
	if g.closed.Load() {
		return ErrClosed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.registry.Stop(context.Background()); err != nil {
		g.lastState, _ = g.registry.State()
		slog.Error("frame-grabber: failed to stop pipeline", "error", err, "state", g.lastState)
		return err
	}

	if g.running {
		stats := g.handoff.Stats()
		slog.Info("frame-grabber: pipeline stopped",
			"grabs", stats.Grabs,
			"delivered", stats.Delivered,
			"dropped", stats.Dropped,
			"delivery_errors", stats.DeliveryErrors,
			"uptime", time.Since(g.started),
		)
	}

	g.running = false
	g.lastState = engine.StateNull
	g.handoff.Reset()
	return nil
}

// Grab blocks until the next frame is delivered and returns it. Before the
// first delivery of a session it waits; it never times out. After Close it
// returns an empty frame immediately.
func (g *Grabber) Grab() Frame {
	if g.closed.Load() {
		slog.Warn("frame-grabber: grab on closed grabber")
		return Frame{}
	}
	return g.handoff.Grab()
}

// GrabContext is Grab bounded by ctx. On expiry it returns the current slot
// (an empty frame if nothing was delivered yet) and ctx.Err().
func (g *Grabber) GrabContext(ctx context.Context) (Frame, error) {
	if g.closed.Load() {
		return Frame{}, ErrClosed
	}
	return g.handoff.GrabContext(ctx)
}

// CameraTimestamp returns the timestamp (ns) of the latest frame as reported
// by the engine. With engine/gstreamer this is the buffer PTS in pipeline
// running time, not a camera clock.
func (g *Grabber) CameraTimestamp() uint64 {
	return g.handoff.Last().CameraTimestamp
}

// CameraFrameRate returns the frame rate reported with the latest frame.
func (g *Grabber) CameraFrameRate() float64 {
	return g.handoff.Last().CameraFrameRate
}

// StageNames lists every stage of the pipeline, for reference when setting
// properties.
func (g *Grabber) StageNames() []string {
	return g.registry.StageNames()
}

// SetProperty writes a bool, integer, float or string property on a stage.
func (g *Grabber) SetProperty(stage, name string, value any) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry.SetProperty(stage, name, value)
}

// SetBool writes a boolean property.
func (g *Grabber) SetBool(stage, name string, value bool) error {
	return g.SetProperty(stage, name, value)
}

// SetInt writes an integer property.
func (g *Grabber) SetInt(stage, name string, value int) error {
	return g.SetProperty(stage, name, value)
}

// SetFloat writes a floating-point property.
func (g *Grabber) SetFloat(stage, name string, value float64) error {
	return g.SetProperty(stage, name, value)
}

// SetString writes a string property.
func (g *Grabber) SetString(stage, name string, value string) error {
	return g.SetProperty(stage, name, value)
}

// State returns the pipeline state currently reported by the engine. Useful
// after a failed Start/Stop to decide between retrying and tearing down.
func (g *Grabber) State() (current, pending engine.State) {
	return g.registry.State()
}

// Stats returns a snapshot of grabber activity. Safe from any goroutine.
func (g *Grabber) Stats() GrabberStats {
	hs := g.handoff.Stats()
	last := g.handoff.Last()

	g.mu.Lock()
	running := g.running
	started := g.started
	state := g.lastState
	g.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}

	return GrabberStats{
		Running:         running,
		Uptime:          uptime,
		Format:          g.cfg.Format,
		State:           state.String(),
		Grabs:           hs.Grabs,
		GrabTimeouts:    hs.GrabTimeouts,
		Delivered:       hs.Delivered,
		Dropped:         hs.Dropped,
		DeliveryErrors:  hs.DeliveryErrors,
		MetaErrors:      hs.MetaErrors,
		BytesCopied:     hs.BytesCopied,
		LastSeq:         last.Seq,
		LastFrameAt:     last.ReceivedAt,
		CameraFrameRate: last.CameraFrameRate,
	}
}

// Warmup grabs frames for duration and measures how steadily they arrive.
//
// Returns an error if the grabber is not running, fewer than 2 frames were
// grabbed, or the rate is unstable (stddev ≥ 15% of mean or jitter ≥ 20% of
// the expected interval). ctx cancellation aborts the warm-up.
func (g *Grabber) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	if !running {
		return nil, fmt.Errorf("frame-grabber: grabber not started")
	}

	slog.Info("frame-grabber: starting warmup",
		"duration", duration,
		"reason", "measure delivered FPS and verify stability",
	)

	startTime := time.Now()
	frameTimes := make([]time.Time, 0, 100)

	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	for {
		frame, err := g.GrabContext(warmupCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("frame-grabber: warmup cancelled: %w", ctx.Err())
			}
			break
		}
		frameTimes = append(frameTimes, frame.ReceivedAt)

		slog.Debug("frame-grabber: warmup frame grabbed",
			"seq", frame.Seq,
			"frames_collected", len(frameTimes),
		)
	}

	elapsed := time.Since(startTime)

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf(
			"frame-grabber: not enough frames grabbed during warmup (got %d, need at least 2)",
			len(frameTimes),
		)
	}

	ws := warmup.CalculateFPSStats(frameTimes, elapsed)
	stats := &WarmupStats{
		FramesReceived: ws.FramesReceived,
		Duration:       ws.Duration,
		FPSMean:        ws.FPSMean,
		FPSStdDev:      ws.FPSStdDev,
		FPSMin:         ws.FPSMin,
		FPSMax:         ws.FPSMax,
		IsStable:       ws.IsStable,
		JitterMean:     ws.JitterMean,
		JitterStdDev:   ws.JitterStdDev,
		JitterMax:      ws.JitterMax,
	}

	slog.Info("frame-grabber: warmup complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf(
			"frame-grabber: warmup failed - grab rate unstable (mean=%.2f Hz, stddev=%.2f, threshold=15%%)",
			stats.FPSMean,
			stats.FPSStdDev,
		)
	}

	return stats, nil
}

// Close stops the pipeline if needed and releases it. Idempotent.
func (g *Grabber) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		if err := g.registry.Stop(context.Background()); err != nil {
			slog.Warn("frame-grabber: stop during close failed", "error", err)
		}
		g.running = false
	}

	if err := g.registry.Close(); err != nil {
		return fmt.Errorf("frame-grabber: failed to release pipeline: %w", err)
	}

	slog.Debug("frame-grabber: grabber closed")
	return nil
}
