package framegrabber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/simengine"
)

func graySample(w, h int, fill byte, meta *engine.SampleMeta) *simengine.Sample {
	return simengine.NewSample(w, h, 1, "GRAY8", fill, meta)
}

// waitArmed blocks until a grab is pending so that a delivery is not dropped.
func waitArmed(t *testing.T, h *Handoff) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Armed() {
		if time.Now().After(deadline) {
			t.Fatal("handoff never armed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandoff_DropsWhenIdle(t *testing.T) {
	h := NewHandoff(Gray8)

	for i := 0; i < 5; i++ {
		h.OnFrameDelivered(graySample(4, 4, byte(i), nil))
	}

	stats := h.Stats()
	if stats.Dropped != 5 || stats.Delivered != 0 {
		t.Errorf("Dropped=%d Delivered=%d, want 5/0", stats.Dropped, stats.Delivered)
	}
	if !h.Last().Empty() {
		t.Error("slot should still be empty")
	}

	t.Logf("✅ %d idle deliveries dropped", stats.Dropped)
}

func TestHandoff_GrabReturnsNextFrame(t *testing.T) {
	h := NewHandoff(Gray8)

	meta := &engine.SampleMeta{Timestamp: 1_000_000, HasTimestamp: true, FrameRate: 15, HasFrameRate: true}

	done := make(chan Frame)
	go func() { done <- h.Grab() }()

	waitArmed(t, h)
	h.OnFrameDelivered(graySample(4, 3, 7, meta))

	select {
	case frame := <-done:
		if frame.Width != 4 || frame.Height != 3 {
			t.Errorf("geometry = %dx%d, want 4x3", frame.Width, frame.Height)
		}
		if len(frame.Data) != 12 || frame.Data[0] != 7 {
			t.Errorf("unexpected data %v", frame.Data)
		}
		if frame.CameraTimestamp != 1_000_000 || frame.CameraFrameRate != 15 {
			t.Errorf("metadata = %d/%v, want 1000000/15", frame.CameraTimestamp, frame.CameraFrameRate)
		}
		if frame.Seq != 1 || frame.TraceID == "" || frame.ReceivedAt.IsZero() {
			t.Errorf("unexpected frame header %+v", frame)
		}
		t.Logf("✅ Grabbed seq=%d trace=%s", frame.Seq, frame.TraceID)
	case <-time.After(2 * time.Second):
		t.Fatal("Grab() did not return")
	}

	if h.Armed() {
		t.Error("handoff should be idle after the grab returned")
	}

	// A delivery after the grab completed is dropped.
	h.OnFrameDelivered(graySample(4, 3, 9, nil))
	if h.Last().Data[0] != 7 {
		t.Error("delivery while idle must not overwrite the slot")
	}
}

func TestHandoff_RapidDeliveriesLastWins(t *testing.T) {
	h := NewHandoff(Gray8)

	h.arm()
	// Three deliveries before the consumer reacquires the lock.
	for fill := byte(1); fill <= 3; fill++ {
		h.OnFrameDelivered(graySample(2, 2, fill, nil))
	}

	frame, err := h.await(context.Background())
	if err != nil {
		t.Fatalf("await() error: %v", err)
	}
	if frame.Data[0] != 3 {
		t.Errorf("got frame %d, want the third frame", frame.Data[0])
	}
	if frame.Seq != 3 {
		t.Errorf("Seq = %d, want 3", frame.Seq)
	}

	stats := h.Stats()
	if stats.Delivered != 3 || stats.Overwritten != 2 {
		t.Errorf("Delivered=%d Overwritten=%d, want 3/2", stats.Delivered, stats.Overwritten)
	}

	// After collection the handoff is idle again.
	h.OnFrameDelivered(graySample(2, 2, 4, nil))
	if h.Last().Data[0] != 3 {
		t.Error("delivery after collection must be dropped")
	}
}

func TestHandoff_GrabContext(t *testing.T) {
	t.Run("timeout before first frame", func(t *testing.T) {
		h := NewHandoff(Gray8)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		frame, err := h.GrabContext(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("GrabContext() error = %v, want DeadlineExceeded", err)
		}
		if !frame.Empty() {
			t.Error("expected empty frame before first delivery")
		}
		if h.Armed() {
			t.Error("request should be disarmed after timeout")
		}
		if h.Stats().GrabTimeouts != 1 {
			t.Errorf("GrabTimeouts = %d, want 1", h.Stats().GrabTimeouts)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		h := NewHandoff(Gray8)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.GrabContext(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("GrabContext() error = %v, want Canceled", err)
		}
		if h.Armed() {
			t.Error("cancelled grab must not arm")
		}
	})

	t.Run("frame before deadline", func(t *testing.T) {
		h := NewHandoff(Gray8)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		go func() {
			for !h.Armed() {
				time.Sleep(time.Millisecond)
			}
			h.OnFrameDelivered(graySample(2, 2, 5, nil))
		}()

		frame, err := h.GrabContext(ctx)
		if err != nil {
			t.Fatalf("GrabContext() error: %v", err)
		}
		if frame.Data[0] != 5 {
			t.Errorf("got frame %d, want 5", frame.Data[0])
		}
	})
}

func TestHandoff_DeliveryErrorWakesConsumer(t *testing.T) {
	tests := []struct {
		name   string
		sample *simengine.Sample
	}{
		{"geometry error", &simengine.Sample{GeomErr: errors.New("no caps")}},
		{"zero geometry", &simengine.Sample{Width: 0, Height: 4}},
		{"map error", &simengine.Sample{Width: 2, Height: 2, MapErr: errors.New("map failed")}},
		{"short buffer", &simengine.Sample{Width: 4, Height: 4, Data: make([]byte, 3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandoff(Gray8)

			// Seed the slot with a good frame.
			h.arm()
			h.OnFrameDelivered(graySample(2, 2, 1, nil))
			first, _ := h.await(context.Background())

			h.arm()
			h.OnFrameDelivered(tt.sample)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			frame, err := h.await(ctx)
			if err != nil {
				t.Fatalf("consumer not woken by failed delivery: %v", err)
			}
			if frame.Seq != first.Seq || frame.Data[0] != 1 {
				t.Errorf("expected previous frame (seq %d), got seq %d", first.Seq, frame.Seq)
			}
			if h.Stats().DeliveryErrors != 1 {
				t.Errorf("DeliveryErrors = %d, want 1", h.Stats().DeliveryErrors)
			}
			if tt.sample.Mapped() != 0 {
				t.Error("sample left mapped")
			}
		})
	}
}

func TestHandoff_MetadataKeptWhenAbsent(t *testing.T) {
	h := NewHandoff(Gray8)

	grab := func(s *simengine.Sample) Frame {
		h.arm()
		h.OnFrameDelivered(s)
		f, _ := h.await(context.Background())
		return f
	}

	first := grab(graySample(2, 2, 1, &engine.SampleMeta{
		Timestamp: 500, HasTimestamp: true, FrameRate: 30, HasFrameRate: true,
	}))
	second := grab(graySample(2, 2, 2, nil))
	third := grab(graySample(2, 2, 3, &engine.SampleMeta{Timestamp: 900, HasTimestamp: true}))

	if first.CameraTimestamp != 500 || first.CameraFrameRate != 30 {
		t.Errorf("first metadata = %d/%v", first.CameraTimestamp, first.CameraFrameRate)
	}
	if second.CameraTimestamp != 500 || second.CameraFrameRate != 30 {
		t.Errorf("second frame should keep previous metadata, got %d/%v",
			second.CameraTimestamp, second.CameraFrameRate)
	}
	if third.CameraTimestamp != 900 || third.CameraFrameRate != 30 {
		t.Errorf("third metadata = %d/%v, want 900/30", third.CameraTimestamp, third.CameraFrameRate)
	}
	if h.Stats().MetaErrors != 1 {
		t.Errorf("MetaErrors = %d, want 1", h.Stats().MetaErrors)
	}
}

func TestHandoff_CopiesExactSize(t *testing.T) {
	h := NewHandoff(RGB24)

	s := simengine.NewSample(4, 2, 3, "RGB", 0xAB, nil)
	// Padding after the image, as strided buffers carry.
	s.Data = append(s.Data, 0xFF, 0xFF, 0xFF, 0xFF)

	h.arm()
	h.OnFrameDelivered(s)
	frame, _ := h.await(context.Background())

	if len(frame.Data) != 4*2*3 {
		t.Fatalf("len(Data) = %d, want %d", len(frame.Data), 4*2*3)
	}

	// The frame owns its bytes.
	s.Data[0] = 0
	if frame.Data[0] != 0xAB {
		t.Error("frame shares memory with the sample")
	}
	if h.Stats().BytesCopied != 24 {
		t.Errorf("BytesCopied = %d, want 24", h.Stats().BytesCopied)
	}
}

func TestHandoff_Reset(t *testing.T) {
	h := NewHandoff(Gray8)
	h.arm()
	h.OnFrameDelivered(graySample(2, 2, 1, nil))
	h.await(context.Background())

	h.Reset()
	if !h.Last().Empty() {
		t.Error("Reset() should clear the slot")
	}
}

func TestHandoff_ConcurrentProducer(t *testing.T) {
	h := NewHandoff(Gray8)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var fill byte
		for {
			select {
			case <-stop:
				return
			default:
			}
			fill++
			h.OnFrameDelivered(graySample(8, 8, fill, nil))
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var lastSeq uint64
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		frame, err := h.GrabContext(ctx)
		cancel()
		if err != nil {
			t.Fatalf("grab %d: %v", i, err)
		}
		if frame.Seq <= lastSeq {
			t.Fatalf("grab %d: seq %d not after %d", i, frame.Seq, lastSeq)
		}
		lastSeq = frame.Seq
	}

	close(stop)
	wg.Wait()

	stats := h.Stats()
	if stats.Grabs != 50 {
		t.Errorf("Grabs = %d, want 50", stats.Grabs)
	}
	t.Logf("✅ 50 grabs, delivered=%d dropped=%d overwritten=%d",
		stats.Delivered, stats.Dropped, stats.Overwritten)
}
