package framegrabber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/simengine"
)

const testDescription = "videotestsrc ! tcamautoexposure name=autoexp ! videoconvert ! video/x-raw,format=GRAY8,width=16,height=8,framerate=30/1 ! appsink"

func newTestRegistry(t *testing.T, eng *simengine.Engine) *Registry {
	t.Helper()
	r, err := BuildRegistry(eng, testDescription, "")
	if err != nil {
		t.Fatalf("BuildRegistry() error: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestBuildRegistry_StageNames(t *testing.T) {
	r := newTestRegistry(t, simengine.New())

	want := []string{"appsink0", "autoexp", "capsfilter0", "videoconvert0", "videotestsrc0"}
	got := r.StageNames()

	if len(got) != len(want) {
		t.Fatalf("StageNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("StageNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Every listed name resolves.
	for _, name := range got {
		if _, err := r.Stage(name); err != nil {
			t.Errorf("Stage(%q) error: %v", name, err)
		}
	}

	// The result is a copy.
	got[0] = "mutated"
	if r.StageNames()[0] != "appsink0" {
		t.Error("StageNames() exposes internal slice")
	}

	t.Logf("✅ Stages: %v", r.StageNames())
}

func TestBuildRegistry_Errors(t *testing.T) {
	tests := []struct {
		name        string
		eng         engine.Engine
		description string
		sinkName    string
		wantMissing bool
	}{
		{
			name:        "invalid description",
			eng:         simengine.New(),
			description: "videotestsrc ! nosuchelement ! appsink",
		},
		{
			name:        "no sink stage",
			eng:         simengine.New(),
			description: "videotestsrc ! fakesink",
			wantMissing: true,
		},
		{
			name:        "sink renamed",
			eng:         simengine.New(),
			description: "videotestsrc ! appsink name=out",
			wantMissing: true,
		},
		{
			name:        "named stage is not a sink",
			eng:         simengine.New(),
			description: "videotestsrc name=appsink0 ! fakesink",
			wantMissing: true,
		},
		{
			name:        "enumeration failure",
			eng:         simengine.New(simengine.WithEnumerationError(errors.New("resync"))),
			description: "videotestsrc ! appsink",
		},
		{
			name:        "nil engine",
			eng:         nil,
			description: "videotestsrc ! appsink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRegistry(tt.eng, tt.description, tt.sinkName)
			if err == nil {
				t.Fatal("BuildRegistry() should fail")
			}
			if !errors.Is(err, ErrConstruction) {
				t.Errorf("error %v should match ErrConstruction", err)
			}
			if got := errors.Is(err, ErrMissingRequiredStage); got != tt.wantMissing {
				t.Errorf("errors.Is(err, ErrMissingRequiredStage) = %v, want %v", got, tt.wantMissing)
			}
			t.Logf("✅ %v", err)
		})
	}
}

func TestBuildRegistry_CustomSinkName(t *testing.T) {
	r, err := BuildRegistry(simengine.New(), "videotestsrc ! appsink name=out", "out")
	if err != nil {
		t.Fatalf("BuildRegistry() error: %v", err)
	}
	defer r.Close()

	if r.Sink().Name() != "out" {
		t.Errorf("Sink().Name() = %q, want out", r.Sink().Name())
	}
}

func TestBuildRegistry_ClosesPipelineOnFailure(t *testing.T) {
	eng := simengine.New()
	if _, err := BuildRegistry(eng, "videotestsrc ! fakesink", ""); err == nil {
		t.Fatal("BuildRegistry() should fail")
	}
	if !eng.Last().Closed() {
		t.Error("pipeline should be closed after a failed build")
	}
}

func TestRegistry_SetProperty(t *testing.T) {
	eng := simengine.New()
	r := newTestRegistry(t, eng)

	tests := []struct {
		name        string
		stage       string
		property    string
		value       any
		wantUnknown bool
		wantReject  bool
	}{
		{name: "bool", stage: "autoexp", property: "Exposure Auto", value: false},
		{name: "int", stage: "autoexp", property: "Brightness Reference", value: 128},
		{name: "int32 widened", stage: "autoexp", property: "Brightness Reference", value: int32(64)},
		{name: "string", stage: "capsfilter0", property: "caps", value: "video/x-raw"},
		{name: "unknown stage", stage: "nosuchstage", property: "Exposure Auto", value: true, wantUnknown: true},
		{name: "unknown property", stage: "autoexp", property: "bogus", value: 1, wantReject: true},
		{name: "out of range", stage: "autoexp", property: "Brightness Reference", value: 999, wantReject: true},
		{name: "wrong type", stage: "autoexp", property: "Exposure Auto", value: "yes", wantReject: true},
		{name: "unsupported go type", stage: "autoexp", property: "Exposure Auto", value: []int{1}, wantReject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SetProperty(tt.stage, tt.property, tt.value)

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

	// The stored value is the widened int.
	if v, _ := eng.Last().Stage("autoexp").Property("Brightness Reference"); v != 64 {
		t.Errorf("Brightness Reference = %v, want 64", v)
	}
}

func TestRegistry_StartStop(t *testing.T) {
	eng := simengine.New(simengine.WithAsyncPolls(3))
	r := newTestRegistry(t, eng)
	r.pollInterval = time.Millisecond
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if cur, _ := r.State(); cur != engine.StatePlaying {
		t.Errorf("state after Start = %v, want PLAYING", cur)
	}

	// Start again: idempotent
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if cur, _ := r.State(); cur != engine.StateNull {
		t.Errorf("state after Stop = %v, want NULL", cur)
	}

	t.Logf("✅ Transitions: %v", eng.Last().Transitions())
}

func TestRegistry_StartFailure(t *testing.T) {
	tests := []struct {
		name  string
		async bool
	}{
		{"immediate", false},
		{"reported by poll", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := simengine.New(
				simengine.WithAsyncPolls(2),
				simengine.WithFailure(engine.StatePlaying, tt.async),
			)
			r := newTestRegistry(t, eng)
			r.pollInterval = time.Millisecond

			err := r.Start(context.Background())
			if !errors.Is(err, ErrStateTransition) {
				t.Fatalf("Start() error = %v, want ErrStateTransition", err)
			}

			var terr *StateTransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("error %T is not a *StateTransitionError", err)
			}
			if terr.Target != engine.StatePlaying {
				t.Errorf("Target = %v, want PLAYING", terr.Target)
			}
			if terr.Result != engine.StateChangeFailure {
				t.Errorf("Result = %v, want FAILURE", terr.Result)
			}
			if terr.Category == "" {
				t.Error("Category should be filled from the bus error")
			}
			t.Logf("✅ %v", err)
		})
	}
}

func TestRegistry_StartContextCancelled(t *testing.T) {
	eng := simengine.New(simengine.WithAsyncPolls(1_000_000))
	r := newTestRegistry(t, eng)
	r.pollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Start(ctx)
	if !errors.Is(err, ErrStateTransition) {
		t.Fatalf("Start() error = %v, want ErrStateTransition", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() error = %v, should wrap context.DeadlineExceeded", err)
	}
}
