package simengine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// ErrNoMeta is returned by Sample.Meta when the sample carries no metadata.
var ErrNoMeta = errors.New("simengine: sample has no metadata")

// Sample is a simulated delivery. Fields set to non-nil errors make the
// corresponding accessor fail.
type Sample struct {
	Width  int
	Height int
	Format string
	Data   []byte

	Metadata *engine.SampleMeta
	GeomErr  error
	MapErr   error

	mu     sync.Mutex
	mapped int
}

// NewSample builds a sample of w*h pixels of bpp bytes, every byte set to
// fill, with metadata meta (nil for none).
func NewSample(w, h, bpp int, format string, fill byte, meta *engine.SampleMeta) *Sample {
	data := make([]byte, w*h*bpp)
	for i := range data {
		data[i] = fill
	}
	return &Sample{Width: w, Height: h, Format: format, Data: data, Metadata: meta}
}

// Geometry returns the sample shape or GeomErr.
func (s *Sample) Geometry() (engine.Geometry, error) {
	if s.GeomErr != nil {
		return engine.Geometry{}, s.GeomErr
	}
	return engine.Geometry{Width: s.Width, Height: s.Height, Format: s.Format}, nil
}

// Map exposes Data or returns MapErr.
func (s *Sample) Map() ([]byte, error) {
	if s.MapErr != nil {
		return nil, s.MapErr
	}
	s.mu.Lock()
	s.mapped++
	s.mu.Unlock()
	return s.Data, nil
}

// Unmap releases a Map.
func (s *Sample) Unmap() {
	s.mu.Lock()
	s.mapped--
	s.mu.Unlock()
}

// Mapped reports how many Map calls are not yet matched by Unmap.
func (s *Sample) Mapped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped
}

// Meta returns the attached metadata or ErrNoMeta.
func (s *Sample) Meta() (engine.SampleMeta, error) {
	if s.Metadata == nil {
		return engine.SampleMeta{}, ErrNoMeta
	}
	return *s.Metadata, nil
}

// streamer pushes synthetic frames into every connected appsink.
type streamer struct {
	done chan struct{}
	wg   sync.WaitGroup
}

func (p *Pipeline) startStreaming() *streamer {
	s := &streamer{done: make(chan struct{})}

	var sinks []*SinkStage
	for _, st := range p.stages {
		if sink, ok := st.(*SinkStage); ok {
			sinks = append(sinks, sink)
		}
	}

	w, h, format, rate := p.width, p.height, p.format, p.rate
	bpp := bytesPerPixel(format)
	interval := time.Duration(float64(time.Second) / rate)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		start := time.Now()
		var seq byte

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}

			seq++
			meta := &engine.SampleMeta{
				Timestamp:    uint64(time.Since(start).Nanoseconds()),
				HasTimestamp: true,
				FrameRate:    rate,
				HasFrameRate: true,
			}
			sample := NewSample(w, h, bpp, format, seq, meta)
			for _, sink := range sinks {
				sink.Push(sample)
			}
		}
	}()

	slog.Debug("simengine: streaming started", "pipeline", p.name, "interval", interval, "sinks", len(sinks))
	return s
}

func (s *streamer) stop() {
	close(s.done)
	s.wg.Wait()
}
