// Package engine defines the narrow contract between the frame grabber and the
// streaming pipeline engine that actually runs the stage graph.
//
// The grabber never parses pipeline descriptions, never owns stage objects and
// never starts producer threads. Everything it needs from the engine is:
//
//   - Launch a textual description into a Pipeline
//   - Enumerate the stages of that pipeline (name + typed property setter)
//   - Register a delivery callback on the sink stage
//   - Request lifecycle transitions and poll their status
//
// Implementations:
//   - engine/gstreamer: GStreamer via go-gst (production)
//   - internal/simengine: in-process simulation (tests, offline runs)
package engine

import (
	"time"
)

// Engine turns a pipeline description into a Pipeline.
type Engine interface {
	// Launch parses description and builds the stage graph.
	// The returned pipeline is in StateNull.
	Launch(description string) (Pipeline, error)
}

// Pipeline is one launched stage graph.
type Pipeline interface {
	// Name returns the engine-generated pipeline name (e.g. "pipeline0").
	Name() string

	// Stages enumerates every stage in the graph. An error means the
	// enumeration itself failed, which is distinct from an empty graph.
	Stages() ([]Stage, error)

	// SetState requests a lifecycle transition. The transition may complete
	// asynchronously, in which case StateChangeAsync is returned.
	SetState(target State) (StateChange, error)

	// GetState waits at most timeout for a pending transition to settle and
	// reports the outcome together with the current and pending states.
	GetState(timeout time.Duration) (StateChange, State, State)

	// Close releases the pipeline. Stage handles are invalid afterwards.
	Close() error
}

// Stage is a non-owning handle on one named stage of a Pipeline.
type Stage interface {
	// Name is the unique name of the stage inside its pipeline.
	Name() string

	// Factory is the stage type (e.g. "videoconvert", "appsink").
	Factory() string

	// SetProperty writes a typed property. value is one of bool, int,
	// int64, float64 or string.
	SetProperty(name string, value any) error
}

// SinkFunc is invoked once per produced frame, from a goroutine or thread
// owned by the engine.
type SinkFunc func(Sample)

// SinkStage is a stage from which completed frames are delivered.
type SinkStage interface {
	Stage

	// OnSample registers fn as the delivery callback, replacing any
	// previous registration.
	OnSample(fn SinkFunc) error
}

// Geometry is the basic shape of a delivered image.
type Geometry struct {
	Width  int
	Height int
	// Format is the engine's pixel format name ("GRAY8", "gbrg", "RGB"),
	// informational only.
	Format string
}

// SampleMeta is the optional acquisition metadata attached to a sample.
type SampleMeta struct {
	// Timestamp is a monotonic timestamp in nanoseconds. Its clock is
	// engine specific (buffer PTS for GStreamer).
	Timestamp    uint64
	HasTimestamp bool

	// FrameRate is the instantaneous frame rate reported by the source.
	FrameRate    float64
	HasFrameRate bool
}

// Sample is the opaque handle passed to a SinkFunc. It is only valid for the
// duration of the callback.
type Sample interface {
	// Geometry parses the image shape. An error is a hard delivery error.
	Geometry() (Geometry, error)

	// Map exposes the raw pixel bytes until Unmap is called.
	Map() ([]byte, error)
	Unmap()

	// Meta extracts optional metadata. Errors mean "no update".
	Meta() (SampleMeta, error)
}

// BusError is an error posted by a pipeline while it was changing state or
// streaming.
type BusError struct {
	Source   string
	Message  string
	Debug    string
	Category string
}

func (e *BusError) Error() string {
	if e.Source != "" {
		return e.Source + ": " + e.Message
	}
	return e.Message
}

// ErrorReporter is implemented by pipelines that can explain a failed
// transition. It is optional.
type ErrorReporter interface {
	// LastError returns the most recent bus error, or nil.
	LastError() *BusError
}
