//go:build cgo

// Package gstreamer runs frame-grabber pipelines on GStreamer through go-gst.
package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

const (
	busPollInterval   = 50 * time.Millisecond
	statePollInterval = 10 * time.Millisecond
)

var initOnce sync.Once

// Engine launches GStreamer pipelines from textual descriptions.
type Engine struct{}

// New initializes GStreamer and verifies it is usable.
//
// This is a fail-fast validation that runs at grabber construction time.
func New() (*Engine, error) {
	initOnce.Do(func() { gst.Init(nil) })

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return nil, fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return &Engine{}, nil
}

// Launch parses description with gst_parse_launch semantics.
func (e *Engine) Launch(description string) (engine.Pipeline, error) {
	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		pipeline: pipeline,
		target:   engine.StateNull,
		cancel:   cancel,
	}

	p.wg.Add(1)
	go p.monitorBus(ctx)

	return p, nil
}

// Pipeline adapts *gst.Pipeline to engine.Pipeline.
type Pipeline struct {
	pipeline *gst.Pipeline

	mu         sync.Mutex
	target     engine.State
	requestSeq uint64
	lastErr    *engine.BusError
	closed     bool

	errSeq atomic.Uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Name returns the GStreamer pipeline name.
func (p *Pipeline) Name() string {
	return p.pipeline.GetName()
}

// Stages enumerates the direct children of the pipeline bin.
func (p *Pipeline) Stages() ([]engine.Stage, error) {
	elements, err := p.pipeline.GetElements()
	if err != nil {
		return nil, err
	}

	stages := make([]engine.Stage, 0, len(elements))
	for _, elem := range elements {
		factory := ""
		if f := elem.GetFactory(); f != nil {
			factory = f.GetName()
		}

		st := &stage{elem: elem, name: elem.GetName(), factory: factory}
		if factory == "appsink" {
			stages = append(stages, &sinkStage{stage: st, sink: app.SinkFromElement(elem)})
			continue
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// SetState requests a transition. Errors posted on the bus after this call
// fail the transition on the next GetState.
func (p *Pipeline) SetState(target engine.State) (engine.StateChange, error) {
	p.mu.Lock()
	p.target = target
	p.requestSeq = p.errSeq.Load()
	p.mu.Unlock()

	if err := p.pipeline.SetState(toGstState(target)); err != nil {
		return engine.StateChangeFailure, err
	}

	if fromGstState(p.pipeline.GetState()) == target {
		return engine.StateChangeSuccess, nil
	}
	return engine.StateChangeAsync, nil
}

// GetState waits at most timeout for the requested state.
//
// go-gst has no timed gst_element_get_state, so the current state is polled
// and bus errors posted since the request fail the transition.
func (p *Pipeline) GetState(timeout time.Duration) (engine.StateChange, engine.State, engine.State) {
	deadline := time.Now().Add(timeout)

	for {
		current := fromGstState(p.pipeline.GetState())

		p.mu.Lock()
		errSeq := p.errSeq.Load()
		check := checkState(current, p.target, errSeq, p.requestSeq)
		if check.rearm {
			// report once; the next request starts clean
			p.requestSeq = errSeq
			p.target = current
		}
		p.mu.Unlock()

		if check.result != engine.StateChangeAsync {
			return check.result, current, check.pending
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return engine.StateChangeAsync, current, check.pending
		}
		time.Sleep(min(remaining, statePollInterval))
	}
}

// LastError returns the most recent error posted on the bus.
func (p *Pipeline) LastError() *engine.BusError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close stops bus monitoring and sets the pipeline to NULL.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	return p.pipeline.SetState(gst.StateNull)
}

// monitorBus drains the pipeline bus, records errors and logs state changes.
func (p *Pipeline) monitorBus(ctx context.Context) {
	defer p.wg.Done()

	bus := p.pipeline.GetPipelineBus()
	name := p.pipeline.GetName()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstreamer: context cancelled, stopping bus monitor", "pipeline", name)
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr.Error(), gerr.DebugString())

			p.mu.Lock()
			p.lastErr = &engine.BusError{
				Source:   msg.Source(),
				Message:  gerr.Error(),
				Debug:    gerr.DebugString(),
				Category: category.String(),
			}
			p.mu.Unlock()
			p.errSeq.Add(1)

			slog.Error("gstreamer: pipeline error",
				"pipeline", name,
				"source", msg.Source(),
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)

		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream received", "pipeline", name)

		case gst.MessageStateChanged:
			if msg.Source() == name {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstreamer: pipeline state changed",
					"pipeline", name,
					"from", fromGstState(old),
					"to", fromGstState(new),
				)
			}
		}
	}
}

type stage struct {
	elem    *gst.Element
	name    string
	factory string
}

func (s *stage) Name() string    { return s.name }
func (s *stage) Factory() string { return s.factory }

// SetProperty converts value to the property's fundamental type when the
// widths differ and sets it.
func (s *stage) SetProperty(name string, value any) error {
	return s.elem.SetProperty(name, convertForProperty(s.elem, name, value))
}

func convertForProperty(elem *gst.Element, name string, value any) any {
	typ, err := elem.GetPropertyType(name)
	if err != nil {
		return value
	}

	switch v := value.(type) {
	case int:
		switch typ {
		case glib.TYPE_UINT:
			if v >= 0 {
				return uint(v)
			}
		case glib.TYPE_INT64:
			return int64(v)
		case glib.TYPE_UINT64:
			if v >= 0 {
				return uint64(v)
			}
		case glib.TYPE_DOUBLE:
			return float64(v)
		case glib.TYPE_FLOAT:
			return float32(v)
		}
	case int64:
		switch typ {
		case glib.TYPE_INT:
			return int(v)
		case glib.TYPE_UINT64:
			if v >= 0 {
				return uint64(v)
			}
		}
	case float64:
		if typ == glib.TYPE_FLOAT {
			return float32(v)
		}
	}
	return value
}

type sinkStage struct {
	*stage
	sink *app.Sink
}

// OnSample installs appsink callbacks. Clock sync is disabled so frames are
// delivered as soon as they are produced.
func (s *sinkStage) OnSample(fn engine.SinkFunc) error {
	if s.sink == nil {
		return fmt.Errorf("stage %s is not an appsink", s.name)
	}
	if err := s.elem.SetProperty("sync", false); err != nil {
		return err
	}

	s.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			gs := sink.PullSample()
			if gs == nil {
				// Skip the frame instead of terminating the stream
				slog.Warn("gstreamer: failed to pull sample from appsink, skipping frame", "sink", s.name)
				return gst.FlowOK
			}
			fn(&sample{sample: gs})
			return gst.FlowOK
		},
	})
	return nil
}

// sample adapts *gst.Sample. Valid only during the callback.
type sample struct {
	sample *gst.Sample
	buffer *gst.Buffer

	parsed  bool
	caps    capsInfo
	capsErr error
}

func (s *sample) parseCaps() (capsInfo, error) {
	if s.parsed {
		return s.caps, s.capsErr
	}
	s.parsed = true

	caps := s.sample.GetCaps()
	if caps == nil {
		s.capsErr = fmt.Errorf("sample has no caps")
		return s.caps, s.capsErr
	}
	s.caps, s.capsErr = parseCaps(caps.String())
	return s.caps, s.capsErr
}

func (s *sample) Geometry() (engine.Geometry, error) {
	info, err := s.parseCaps()
	if err != nil {
		return engine.Geometry{}, err
	}
	return info.geometry, nil
}

func (s *sample) Map() ([]byte, error) {
	s.buffer = s.sample.GetBuffer()
	if s.buffer == nil {
		return nil, fmt.Errorf("sample has no buffer")
	}
	info := s.buffer.Map(gst.MapRead)
	if info == nil {
		return nil, fmt.Errorf("unable to map buffer")
	}
	return info.Bytes(), nil
}

func (s *sample) Unmap() {
	if s.buffer != nil {
		s.buffer.Unmap()
	}
}

// Meta reads the buffer presentation timestamp and the caps frame rate.
//
// The timestamp is the buffer PTS in pipeline running time, not a camera
// clock: it is monotonic within one PLAYING session and restarts after a
// Stop/Start cycle.
func (s *sample) Meta() (engine.SampleMeta, error) {
	var meta engine.SampleMeta

	buffer := s.sample.GetBuffer()
	if buffer == nil {
		return meta, fmt.Errorf("sample has no buffer")
	}
	if pts := buffer.PresentationTimestamp(); pts >= 0 {
		meta.Timestamp = uint64(pts)
		meta.HasTimestamp = true
	}

	info, err := s.parseCaps()
	if err != nil {
		return meta, err
	}
	if info.hasFrameRate {
		meta.FrameRate = info.frameRate
		meta.HasFrameRate = true
	}
	return meta, nil
}

func toGstState(s engine.State) gst.State {
	switch s {
	case engine.StateNull:
		return gst.StateNull
	case engine.StateReady:
		return gst.StateReady
	case engine.StatePaused:
		return gst.StatePaused
	case engine.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateVoidPending
	}
}

func fromGstState(s gst.State) engine.State {
	switch s {
	case gst.StateNull:
		return engine.StateNull
	case gst.StateReady:
		return engine.StateReady
	case gst.StatePaused:
		return engine.StatePaused
	case gst.StatePlaying:
		return engine.StatePlaying
	default:
		return engine.StateVoidPending
	}
}
