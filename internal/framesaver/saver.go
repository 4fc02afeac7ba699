// Package framesaver writes grabbed frames to disk as PNG or JPEG.
package framesaver

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

// FrameSaver handles saving frames to disk.
//
// Thread-safe: can be called from multiple goroutines concurrently.
type FrameSaver struct {
	outputDir     string
	format        string
	jpegQuality   int
	framesSaved   atomic.Uint64
	framesDropped atomic.Uint64
}

// New creates a frame saver with given output directory and format.
//
// Format: "png" or "jpeg"
// JPEGQuality: 1-100 (only used for JPEG)
func New(outputDir, format string, jpegQuality int) (*FrameSaver, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported format: %s (must be png or jpeg)", format)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FrameSaver{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save writes frame and returns the file path.
//
// Filename format: frame_{seq:06d}_{camera_timestamp_ns}.{ext}
// Example: frame_000042_1234567890.png
func (fs *FrameSaver) Save(frame framegrabber.Frame) (string, error) {
	img, err := frame.Image()
	if err != nil {
		fs.framesDropped.Add(1)
		return "", fmt.Errorf("image conversion failed: %w", err)
	}

	ext := "png"
	if fs.format == "jpeg" {
		ext = "jpg"
	}
	path := filepath.Join(fs.outputDir, fmt.Sprintf("frame_%06d_%d.%s", frame.Seq, frame.CameraTimestamp, ext))

	file, err := os.Create(path)
	if err != nil {
		fs.framesDropped.Add(1)
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch fs.format {
	case "png":
		err = png.Encode(file, img)
	case "jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: fs.jpegQuality})
	}
	if err != nil {
		fs.framesDropped.Add(1)
		return "", fmt.Errorf("%s encode failed: %w", fs.format, err)
	}

	fs.framesSaved.Add(1)
	return path, nil
}

// Stats returns current save statistics.
func (fs *FrameSaver) Stats() (saved, dropped uint64) {
	return fs.framesSaved.Load(), fs.framesDropped.Load()
}
