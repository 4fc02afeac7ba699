// Package simengine is an in-process pipeline engine that understands a
// subset of the GStreamer launch syntax.
//
// It builds named stages with typed property schemas, runs a NULL/PLAYING
// state machine with optional asynchronous completion and failure injection,
// and (optionally) streams synthetic frames into its appsink stages while
// PLAYING. It lets the grabber run without GStreamer installed: unit tests,
// offline demos and CI.
package simengine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// Default stream geometry when the description carries no caps.
const (
	DefaultWidth     = 320
	DefaultHeight    = 240
	DefaultFormat    = "GRAY8"
	DefaultFrameRate = 30.0
)

// Option configures an Engine.
type Option func(*Engine)

// WithAutoStream makes PLAYING pipelines push synthetic frames into their
// appsink stages at the caps frame rate (DefaultFrameRate without caps).
func WithAutoStream() Option {
	return func(e *Engine) { e.autoStream = true }
}

// WithAsyncPolls makes every transition complete asynchronously after n
// GetState polls.
func WithAsyncPolls(n int) Option {
	return func(e *Engine) { e.asyncPolls = n }
}

// WithFailure makes transitions to target fail. When async is true SetState
// accepts the request and the failure is reported by a later GetState poll.
func WithFailure(target engine.State, async bool) Option {
	return func(e *Engine) {
		e.failOn[target] = async
	}
}

// WithEnumerationError makes Stages() fail on every launched pipeline.
func WithEnumerationError(err error) Option {
	return func(e *Engine) { e.enumErr = err }
}

// Engine launches simulated pipelines.
type Engine struct {
	autoStream bool
	asyncPolls int
	failOn     map[engine.State]bool
	enumErr    error

	mu       sync.Mutex
	launched []*Pipeline
}

// New creates a simulated engine.
func New(opts ...Option) *Engine {
	e := &Engine{failOn: make(map[engine.State]bool)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Launch parses description and builds its stages.
func (e *Engine) Launch(description string) (engine.Pipeline, error) {
	elements, err := parseDescription(description)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := &Pipeline{
		name:    fmt.Sprintf("pipeline%d", len(e.launched)),
		engine:  e,
		current: engine.StateNull,
		pending: engine.StateVoidPending,
		width:   DefaultWidth,
		height:  DefaultHeight,
		format:  DefaultFormat,
		rate:    DefaultFrameRate,
	}

	counters := make(map[string]int)
	for _, el := range elements {
		fac, ok := factories[el.factory]
		if !ok {
			return nil, fmt.Errorf("no element %q", el.factory)
		}

		name := el.name
		if name == "" {
			name = fmt.Sprintf("%s%d", el.factory, counters[el.factory])
		}
		counters[el.factory]++

		st := &Stage{
			name:    name,
			factory: el.factory,
			specs:   fac.properties,
			values:  make(map[string]any),
		}
		for _, prop := range el.properties {
			spec, ok := fac.properties[prop.key]
			if !ok {
				return nil, fmt.Errorf("no property %q in element %q", prop.key, name)
			}
			v, err := spec.parse(prop.value)
			if err != nil {
				return nil, fmt.Errorf("could not set property %q in element %q: %w", prop.key, name, err)
			}
			st.values[prop.key] = v
		}

		if el.caps != nil {
			st.values["caps"] = el.caps.raw
			p.applyCaps(el.caps)
		}

		if fac.sink {
			p.stages = append(p.stages, &SinkStage{Stage: st})
		} else {
			p.stages = append(p.stages, st)
		}
	}

	e.launched = append(e.launched, p)

	slog.Debug("simengine: pipeline launched",
		"pipeline", p.name,
		"stages", len(p.stages),
		"geometry", fmt.Sprintf("%dx%d %s @ %.1f", p.width, p.height, p.format, p.rate),
	)

	return p, nil
}

// Last returns the most recently launched pipeline, or nil.
func (e *Engine) Last() *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.launched) == 0 {
		return nil
	}
	return e.launched[len(e.launched)-1]
}

// Pipeline is a simulated stage graph.
type Pipeline struct {
	name   string
	engine *Engine
	stages []engine.Stage

	width, height int
	format        string
	rate          float64

	mu          sync.Mutex
	current     engine.State
	pending     engine.State
	pollsLeft   int
	failPending bool
	lastErr     *engine.BusError
	transitions []engine.State
	closed      bool

	stream *streamer
}

func (p *Pipeline) applyCaps(c *capsSpec) {
	if c.width > 0 {
		p.width = c.width
	}
	if c.height > 0 {
		p.height = c.height
	}
	if c.format != "" {
		p.format = c.format
	}
	if c.frameRate > 0 {
		p.rate = c.frameRate
	}
}

// Name returns the generated pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Stages returns every stage in description order.
func (p *Pipeline) Stages() ([]engine.Stage, error) {
	if p.engine.enumErr != nil {
		return nil, p.engine.enumErr
	}
	out := make([]engine.Stage, len(p.stages))
	copy(out, p.stages)
	return out, nil
}

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for _, s := range p.stages {
		switch st := s.(type) {
		case *Stage:
			if st.name == name {
				return st
			}
		case *SinkStage:
			if st.name == name {
				return st.Stage
			}
		}
	}
	return nil
}

// AppSink returns the appsink stage with the given name, or nil.
func (p *Pipeline) AppSink(name string) *SinkStage {
	for _, s := range p.stages {
		if sink, ok := s.(*SinkStage); ok && sink.name == name {
			return sink
		}
	}
	return nil
}

// Geometry returns the stream shape derived from the description caps.
func (p *Pipeline) Geometry() engine.Geometry {
	return engine.Geometry{Width: p.width, Height: p.height, Format: p.format}
}

// SetState requests a transition.
func (p *Pipeline) SetState(target engine.State) (engine.StateChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return engine.StateChangeFailure, fmt.Errorf("pipeline %s closed", p.name)
	}

	p.transitions = append(p.transitions, target)

	if async, fail := p.engine.failOn[target]; fail {
		p.lastErr = &engine.BusError{
			Source:   p.name,
			Message:  fmt.Sprintf("state change to %s failed", target),
			Debug:    "simulated failure",
			Category: "unknown",
		}
		if !async {
			return engine.StateChangeFailure, nil
		}
		p.pending = target
		p.pollsLeft = p.engine.asyncPolls
		p.failPending = true
		return engine.StateChangeAsync, nil
	}

	if target == p.current && p.pending == engine.StateVoidPending {
		return engine.StateChangeSuccess, nil
	}

	if p.engine.asyncPolls > 0 {
		p.pending = target
		p.pollsLeft = p.engine.asyncPolls
		p.failPending = false
		return engine.StateChangeAsync, nil
	}

	p.enter(target)
	return engine.StateChangeSuccess, nil
}

// GetState reports the state, completing a pending transition once its
// polls are used up. A poll that does not complete sleeps for at most a
// millisecond of timeout.
func (p *Pipeline) GetState(timeout time.Duration) (engine.StateChange, engine.State, engine.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == engine.StateVoidPending {
		return engine.StateChangeSuccess, p.current, engine.StateVoidPending
	}

	if p.pollsLeft > 0 {
		p.pollsLeft--
		if timeout > 0 {
			p.mu.Unlock()
			time.Sleep(min(timeout, time.Millisecond))
			p.mu.Lock()
		}
		return engine.StateChangeAsync, p.current, p.pending
	}

	if p.failPending {
		pending := p.pending
		p.pending = engine.StateVoidPending
		p.failPending = false
		return engine.StateChangeFailure, p.current, pending
	}

	p.enter(p.pending)
	return engine.StateChangeSuccess, p.current, engine.StateVoidPending
}

// enter applies a completed transition. Called with mu held.
func (p *Pipeline) enter(state engine.State) {
	prev := p.current
	p.current = state
	p.pending = engine.StateVoidPending

	if state == engine.StatePlaying && prev != engine.StatePlaying && p.engine.autoStream {
		p.stream = p.startStreaming()
	}
	if state != engine.StatePlaying && p.stream != nil {
		s := p.stream
		p.stream = nil
		// The streamer may be blocked delivering into a callback that does
		// not take p.mu, so stopping it while holding mu is safe.
		s.stop()
	}
}

// LastError returns the last injected bus error.
func (p *Pipeline) LastError() *engine.BusError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Transitions returns every target requested through SetState.
func (p *Pipeline) Transitions() []engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.State, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// Closed reports whether Close was called.
func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops streaming and releases the pipeline.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.enter(engine.StateNull)
	p.closed = true
	return nil
}

// Stage is a simulated non-sink stage.
type Stage struct {
	name    string
	factory string
	specs   map[string]propSpec

	mu     sync.Mutex
	values map[string]any
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Factory returns the stage type.
func (s *Stage) Factory() string { return s.factory }

// SetProperty validates value against the stage schema and stores it.
func (s *Stage) SetProperty(name string, value any) error {
	spec, ok := s.specs[name]
	if !ok {
		return fmt.Errorf("no property %q on %s (%s)", name, s.name, s.factory)
	}
	v, err := spec.coerce(value)
	if err != nil {
		return fmt.Errorf("property %q on %s: %w", name, s.name, err)
	}

	s.mu.Lock()
	s.values[name] = v
	s.mu.Unlock()
	return nil
}

// Property returns the stored value of a property.
func (s *Stage) Property(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// SinkStage is a simulated appsink.
type SinkStage struct {
	*Stage

	cbMu sync.RWMutex
	fn   engine.SinkFunc
}

// OnSample registers the delivery callback and disables clock sync, as an
// appsink feeding a grabber is configured.
func (s *SinkStage) OnSample(fn engine.SinkFunc) error {
	s.cbMu.Lock()
	s.fn = fn
	s.cbMu.Unlock()

	if err := s.SetProperty("emit-signals", true); err != nil {
		return err
	}
	return s.SetProperty("sync", false)
}

// Connected reports whether a callback is registered.
func (s *SinkStage) Connected() bool {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	return s.fn != nil
}

// Push delivers sample to the registered callback on the calling goroutine.
// It reports false if no callback is registered.
func (s *SinkStage) Push(sample engine.Sample) bool {
	s.cbMu.RLock()
	fn := s.fn
	s.cbMu.RUnlock()
	if fn == nil {
		return false
	}
	fn(sample)
	return true
}
