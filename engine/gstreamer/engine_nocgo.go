//go:build !cgo

// Package gstreamer provides engine stubs when CGO is disabled.
// The actual implementation in engine.go requires CGO for go-gst bindings.
package gstreamer

import (
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// Engine is unavailable without cgo.
type Engine struct{}

// New returns ErrCGORequired when CGO is disabled.
func New() (*Engine, error) {
	return nil, ErrCGORequired
}

// Launch returns ErrCGORequired when CGO is disabled.
func (e *Engine) Launch(description string) (engine.Pipeline, error) {
	return nil, ErrCGORequired
}
