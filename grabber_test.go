package framegrabber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/simengine"
)

const streamDescription = "videotestsrc is-live=true ! tcamautoexposure name=autoexp ! video/x-raw,format=GRAY8,width=16,height=8,framerate=100/1 ! appsink"

func newTestGrabber(t *testing.T, eng *simengine.Engine, description string) *Grabber {
	t.Helper()
	g, err := New(Config{
		Pipeline:          description,
		Format:            Gray8,
		StatePollInterval: time.Millisecond,
		Engine:            eng,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantMissing bool
	}{
		{
			name: "empty description",
			cfg:  Config{Format: Gray8, Engine: simengine.New()},
		},
		{
			name: "no engine",
			cfg:  Config{Pipeline: "videotestsrc ! appsink", Format: Gray8},
		},
		{
			name: "invalid channels",
			cfg:  Config{Pipeline: "videotestsrc ! appsink", Format: PixelFormat{Type: SampleU8, Channels: 5}, Engine: simengine.New()},
		},
		{
			name: "invalid sample type",
			cfg:  Config{Pipeline: "videotestsrc ! appsink", Format: PixelFormat{Type: SampleType(99), Channels: 1}, Engine: simengine.New()},
		},
		{
			name: "unparsable description",
			cfg:  Config{Pipeline: "videotestsrc ! ! appsink", Format: Gray8, Engine: simengine.New()},
		},
		{
			name:        "no appsink",
			cfg:         Config{Pipeline: "videotestsrc ! fakesink", Format: Gray8, Engine: simengine.New()},
			wantMissing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg)
			if err == nil {
				g.Close()
				t.Fatal("New() should fail")
			}
			if !errors.Is(err, ErrConstruction) {
				t.Errorf("error %v should match ErrConstruction", err)
			}
			if errors.Is(err, ErrMissingRequiredStage) != tt.wantMissing {
				t.Errorf("errors.Is(err, ErrMissingRequiredStage) = %v, want %v", !tt.wantMissing, tt.wantMissing)
			}
		})
	}
}

func TestNew_AttachesToSink(t *testing.T) {
	eng := simengine.New()
	g := newTestGrabber(t, eng, streamDescription)

	sink := eng.Last().AppSink("appsink0")
	if !sink.Connected() {
		t.Fatal("delivery callback not registered on appsink0")
	}
	if v, _ := sink.Property("sync"); v != false {
		t.Errorf("appsink sync = %v, want false", v)
	}
	if len(g.StageNames()) != 4 {
		t.Errorf("StageNames() = %v, want 4 stages", g.StageNames())
	}
}

func TestGrabber_GrabWhileStreaming(t *testing.T) {
	eng := simengine.New(simengine.WithAutoStream(), simengine.WithAsyncPolls(2))
	g := newTestGrabber(t, eng, streamDescription)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var prev Frame
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		frame, err := g.GrabContext(ctx)
		cancel()
		if err != nil {
			t.Fatalf("GrabContext() error: %v", err)
		}

		if frame.Width != 16 || frame.Height != 8 || len(frame.Data) != 128 {
			t.Fatalf("unexpected frame %dx%d len=%d", frame.Width, frame.Height, len(frame.Data))
		}
		if frame.SourceFormat != "GRAY8" {
			t.Errorf("SourceFormat = %q, want GRAY8", frame.SourceFormat)
		}
		if i > 0 && frame.CameraTimestamp <= prev.CameraTimestamp {
			t.Errorf("camera timestamp did not advance: %d -> %d", prev.CameraTimestamp, frame.CameraTimestamp)
		}
		prev = frame
	}

	if g.CameraFrameRate() != 100 {
		t.Errorf("CameraFrameRate() = %v, want 100", g.CameraFrameRate())
	}
	if g.CameraTimestamp() != prev.CameraTimestamp {
		t.Errorf("CameraTimestamp() = %d, want %d", g.CameraTimestamp(), prev.CameraTimestamp)
	}

	stats := g.Stats()
	if !stats.Running || stats.State != "PLAYING" || stats.Grabs != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}

	t.Logf("✅ Stats: grabs=%d delivered=%d dropped=%d", stats.Grabs, stats.Delivered, stats.Dropped)
}

func TestGrabber_RestartBeginsEmpty(t *testing.T) {
	eng := simengine.New()
	g := newTestGrabber(t, eng, streamDescription)
	ctx := context.Background()
	sink := eng.Last().AppSink("appsink0")

	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	go func() {
		for !g.handoff.Armed() {
			time.Sleep(time.Millisecond)
		}
		sink.Push(simengine.NewSample(16, 8, 1, "GRAY8", 1, &engine.SampleMeta{Timestamp: 42, HasTimestamp: true}))
	}()
	if f := g.Grab(); f.Empty() {
		t.Fatal("Grab() returned an empty frame")
	}
	if g.CameraTimestamp() != 42 {
		t.Errorf("CameraTimestamp() = %d, want 42", g.CameraTimestamp())
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("restart error: %v", err)
	}

	if g.CameraTimestamp() != 0 {
		t.Errorf("CameraTimestamp() after restart = %d, want 0", g.CameraTimestamp())
	}

	// Nothing delivered yet in the new session: a bounded grab times out empty.
	ctxShort, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	frame, err := g.GrabContext(ctxShort)
	if !errors.Is(err, context.DeadlineExceeded) || !frame.Empty() {
		t.Errorf("GrabContext() = (empty=%v, %v), want empty frame and DeadlineExceeded", frame.Empty(), err)
	}
}

func TestGrabber_SetProperty(t *testing.T) {
	eng := simengine.New()
	g := newTestGrabber(t, eng, streamDescription)

	if err := g.SetBool("autoexp", "Exposure Auto", false); err != nil {
		t.Errorf("SetBool() error: %v", err)
	}
	if err := g.SetInt("autoexp", "Brightness Reference", 100); err != nil {
		t.Errorf("SetInt() error: %v", err)
	}
	if err := g.SetFloat("autoexp", "Brightness Reference", 1.5); !errors.Is(err, ErrPropertyRejected) {
		t.Errorf("SetFloat() on integer property error = %v, want ErrPropertyRejected", err)
	}
	if err := g.SetString("capsfilter0", "caps", "video/x-raw"); err != nil {
		t.Errorf("SetString() error: %v", err)
	}
	if err := g.SetBool("nosuchstage", "Exposure Auto", true); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("SetBool() on unknown stage error = %v, want ErrUnknownStage", err)
	}

	if v, _ := eng.Last().Stage("autoexp").Property("Brightness Reference"); v != 100 {
		t.Errorf("Brightness Reference = %v, want 100", v)
	}
}

func TestGrabber_StartFailure(t *testing.T) {
	eng := simengine.New(simengine.WithFailure(engine.StatePlaying, false))
	g := newTestGrabber(t, eng, streamDescription)

	err := g.Start(context.Background())
	if !errors.Is(err, ErrStateTransition) {
		t.Fatalf("Start() error = %v, want ErrStateTransition", err)
	}
	if cur, _ := g.State(); cur != engine.StateNull {
		t.Errorf("State() = %v, want NULL", cur)
	}
	if g.Stats().Running {
		t.Error("grabber should not be running after a failed start")
	}
}

func TestGrabber_Warmup(t *testing.T) {
	eng := simengine.New(simengine.WithAutoStream())
	g := newTestGrabber(t, eng, streamDescription)

	if _, err := g.Warmup(context.Background(), 10*time.Millisecond); err == nil {
		t.Error("Warmup() before Start should fail")
	}

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	stats, err := g.Warmup(context.Background(), 300*time.Millisecond)
	if stats == nil {
		t.Fatalf("Warmup() returned no stats: %v", err)
	}
	if stats.FramesReceived < 2 {
		t.Errorf("FramesReceived = %d, want >= 2", stats.FramesReceived)
	}
	if stats.FPSMean <= 0 {
		t.Errorf("FPSMean = %v, want > 0", stats.FPSMean)
	}

	// Stability depends on the scheduler; only log it.
	t.Logf("✅ Warmup: frames=%d fps=%.1f stddev=%.2f stable=%v err=%v",
		stats.FramesReceived, stats.FPSMean, stats.FPSStdDev, stats.IsStable, err)
}

func TestGrabber_Close(t *testing.T) {
	eng := simengine.New(simengine.WithAutoStream())
	g, err := New(Config{Pipeline: streamDescription, Format: Gray8, Engine: eng})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if !eng.Last().Closed() {
		t.Error("pipeline not released")
	}

	if f := g.Grab(); !f.Empty() {
		t.Error("Grab() after Close should return an empty frame")
	}
	if _, err := g.GrabContext(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("GrabContext() after Close error = %v, want ErrClosed", err)
	}
	if err := g.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if err := g.SetBool("autoexp", "Exposure Auto", true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetBool() after Close error = %v, want ErrClosed", err)
	}

	t.Log("✅ Double Close() successful (no panic)")
}

func TestGrabber_NamedSinkProperties(t *testing.T) {
	g, err := New(Config{
		Pipeline: "videotestsrc ! appsink name=sink",
		Format:   Gray8,
		SinkName: "sink",
		Engine:   simengine.New(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer g.Close()

	if names := g.StageNames(); len(names) != 2 || names[0] != "sink" || names[1] != "videotestsrc0" {
		t.Errorf("StageNames() = %v, want [sink videotestsrc0]", names)
	}

	tests := []struct {
		name        string
		stage       string
		property    string
		value       any
		wantUnknown bool
		wantReject  bool
	}{
		{name: "known property", stage: "sink", property: "drop", value: true},
		{name: "nonexistent property on existing stage", stage: "sink", property: "nonexistent", value: true, wantReject: true},
		{name: "nonexistent stage", stage: "appsink0", property: "drop", value: true, wantUnknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.SetProperty(tt.stage, tt.property, tt.value)
			if got := errors.Is(err, ErrUnknownStage); got != tt.wantUnknown {
				t.Errorf("errors.Is(err, ErrUnknownStage) = %v, want %v (err=%v)", got, tt.wantUnknown, err)
			}
			if got := errors.Is(err, ErrPropertyRejected); got != tt.wantReject {
				t.Errorf("errors.Is(err, ErrPropertyRejected) = %v, want %v (err=%v)", got, tt.wantReject, err)
			}
			if !tt.wantUnknown && !tt.wantReject && err != nil {
				t.Errorf("SetProperty() unexpected error: %v", err)
			}
		})
	}
}
