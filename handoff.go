package framegrabber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// grabState is the request state of the handoff.
//
//	idle  --Grab-->  armed  --delivery-->  ready  --consumer resumes-->  idle
//
// ready covers the window between the wake-up and the consumer actually
// reacquiring the lock; deliveries in that window overwrite the slot (last
// produced frame wins). Deliveries in idle are dropped.
type grabState int

const (
	stateIdle grabState = iota
	stateArmed
	stateReady
)

// Handoff bridges push deliveries from the engine to a pulling consumer.
//
// Architecture (single-slot mailbox, sync.Cond):
//   - Grab arms the handoff and waits; OnFrameDelivered fills the slot and
//     wakes the consumer
//   - Deliveries that arrive while no grab is pending are dropped, never
//     queued
//   - The pixel copy happens outside the lock; the lock only covers the
//     slot publish, the state flip and the wake-up
//
// Thread-safety:
//   - OnFrameDelivered: safe from any number of engine threads
//   - Grab/GrabContext: one consumer goroutine at a time. A second Grab
//     while armed re-arms the same request (last arm wins) and both
//     waiters return the same frame.
type Handoff struct {
	format PixelFormat

	// --- Guarded by mu ---

	mu    sync.Mutex
	cond  *sync.Cond
	state grabState
	slot  Frame

	// --- Stats (atomic, read without lock) ---

	seq            atomic.Uint64
	grabs          atomic.Uint64
	grabTimeouts   atomic.Uint64
	delivered      atomic.Uint64
	overwritten    atomic.Uint64
	dropped        atomic.Uint64
	deliveryErrors atomic.Uint64
	metaErrors     atomic.Uint64
	bytesCopied    atomic.Uint64
}

// NewHandoff creates an idle handoff with an empty slot.
func NewHandoff(format PixelFormat) *Handoff {
	h := &Handoff{format: format}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Grab arms the handoff and blocks until the next delivery, then returns the
// slot. There is no timeout: with a stalled source Grab blocks forever. Use
// GrabContext for a deadline.
func (h *Handoff) Grab() Frame {
	h.arm()
	frame, _ := h.await(context.Background())
	return frame
}

// GrabContext is Grab with cancellation. When ctx ends first the request is
// disarmed and the current slot (empty before the first delivery) is
// returned together with ctx.Err().
func (h *Handoff) GrabContext(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		h.grabTimeouts.Add(1)
		return h.Last(), err
	}
	h.arm()
	return h.await(ctx)
}

func (h *Handoff) arm() {
	h.mu.Lock()
	h.state = stateArmed
	h.mu.Unlock()
}

func (h *Handoff) await(ctx context.Context) (Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ctx.Done() != nil {
		// Wake the waiter when ctx ends; the callback takes mu, so it can
		// only broadcast while Wait has released it.
		stop := context.AfterFunc(ctx, func() {
			h.mu.Lock()
			h.cond.Broadcast()
			h.mu.Unlock()
		})
		defer stop()
	}

	for h.state == stateArmed {
		if err := ctx.Err(); err != nil {
			h.state = stateIdle
			h.grabTimeouts.Add(1)
			return h.slot, err
		}
		h.cond.Wait()
	}

	// ready (or idle if another waiter already collected under last arm wins)
	h.state = stateIdle
	h.grabs.Add(1)
	return h.slot, nil
}

// Armed reports whether a grab is waiting for a delivery.
func (h *Handoff) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateArmed
}

func (h *Handoff) pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state != stateIdle
}

// OnFrameDelivered is the engine delivery callback.
//
// Algorithm:
//  1. No grab pending → drop
//  2. Parse geometry and copy pixels into a fresh buffer (no lock held)
//  3. Extract metadata; unparsable metadata keeps the previous values
//  4. Lock: if a grab is still pending, publish the new frame (unless the
//     copy failed), flip to ready and wake the consumer
//
// A delivery error never blocks the consumer: the slot keeps its previous
// frame and the waiter is still woken.
func (h *Handoff) OnFrameDelivered(sample engine.Sample) {
	if !h.pending() {
		h.dropped.Add(1)
		return
	}

	frame, copyErr := h.copySample(sample)

	meta, metaErr := sample.Meta()
	if metaErr != nil {
		h.metaErrors.Add(1)
		slog.Debug("frame-grabber: unable to parse frame metadata, keeping previous values",
			"error", metaErr,
		)
	}

	h.mu.Lock()
	if h.state == stateIdle {
		// The consumer collected (or its GrabContext ended) during the copy.
		h.mu.Unlock()
		h.dropped.Add(1)
		return
	}

	superseded := h.state == stateReady
	if copyErr == nil {
		frame.CameraTimestamp = h.slot.CameraTimestamp
		frame.CameraFrameRate = h.slot.CameraFrameRate
		if metaErr == nil {
			if meta.HasTimestamp {
				frame.CameraTimestamp = meta.Timestamp
			}
			if meta.HasFrameRate {
				frame.CameraFrameRate = meta.FrameRate
			}
		}
		frame.Seq = h.seq.Add(1)
		h.slot = frame
	}

	h.state = stateReady
	h.cond.Broadcast()
	h.mu.Unlock()

	if copyErr != nil {
		h.deliveryErrors.Add(1)
		slog.Warn("frame-grabber: delivery error, consumer woken with previous frame",
			"error", copyErr,
			"last_seq", h.seq.Load(),
		)
		return
	}

	if superseded {
		h.overwritten.Add(1)
	}
	h.delivered.Add(1)
	h.bytesCopied.Add(uint64(len(frame.Data)))
}

// copySample parses the sample geometry and copies exactly
// width*height*bytesPerPixel bytes into a new buffer.
func (h *Handoff) copySample(sample engine.Sample) (Frame, error) {
	geom, err := sample.Geometry()
	if err != nil {
		return Frame{}, &DeliveryError{Reason: "failed to parse video info", Err: err}
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return Frame{}, &DeliveryError{Reason: "invalid geometry", Err: errors.New(geomString(geom))}
	}

	data, err := sample.Map()
	if err != nil {
		return Frame{}, &DeliveryError{Reason: "failed to map buffer", Err: err}
	}
	defer sample.Unmap()

	size := geom.Width * geom.Height * h.format.BytesPerPixel()
	if len(data) < size {
		return Frame{}, &DeliveryError{
			Reason: "buffer smaller than geometry",
			Err:    errors.New(geomString(geom) + " " + h.format.String()),
		}
	}

	buf := make([]byte, size)
	copy(buf, data[:size])

	return Frame{
		Width:        geom.Width,
		Height:       geom.Height,
		Format:       h.format,
		SourceFormat: geom.Format,
		Data:         buf,
		ReceivedAt:   time.Now(),
		TraceID:      uuid.New().String(),
	}, nil
}

// Reset clears the slot. The request state is left alone so that a waiter,
// if any, is still served by the next delivery. Called when the pipeline
// stops so that a restart does not hand out the previous session's frame.
func (h *Handoff) Reset() {
	h.mu.Lock()
	h.slot = Frame{}
	h.mu.Unlock()
}

// Last returns the frame currently in the slot without arming.
func (h *Handoff) Last() Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slot
}

// HandoffStats is a snapshot of handoff counters.
type HandoffStats struct {
	Grabs          uint64
	GrabTimeouts   uint64
	Delivered      uint64
	Overwritten    uint64
	Dropped        uint64
	DeliveryErrors uint64
	MetaErrors     uint64
	BytesCopied    uint64
}

// Stats returns the handoff counters. Safe from any goroutine.
func (h *Handoff) Stats() HandoffStats {
	return HandoffStats{
		Grabs:          h.grabs.Load(),
		GrabTimeouts:   h.grabTimeouts.Load(),
		Delivered:      h.delivered.Load(),
		Overwritten:    h.overwritten.Load(),
		Dropped:        h.dropped.Load(),
		DeliveryErrors: h.deliveryErrors.Load(),
		MetaErrors:     h.metaErrors.Load(),
		BytesCopied:    h.bytesCopied.Load(),
	}
}

func geomString(g engine.Geometry) string {
	return fmt.Sprintf("width=%d height=%d format=%s", g.Width, g.Height, g.Format)
}
