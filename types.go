package framegrabber

import (
	"encoding/binary"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// SampleType is the base numeric type of one channel of one pixel.
//
// Values follow the usual matrix depth codes (8U=0 ... 64F=6) so that a
// caller coming from an image library can pass its depth constant through.
type SampleType int

const (
	// SampleU8 is an unsigned 8-bit channel
	SampleU8 SampleType = iota
	// SampleS8 is a signed 8-bit channel
	SampleS8
	// SampleU16 is an unsigned 16-bit channel
	SampleU16
	// SampleS16 is a signed 16-bit channel
	SampleS16
	// SampleS32 is a signed 32-bit channel
	SampleS32
	// SampleF32 is a 32-bit float channel
	SampleF32
	// SampleF64 is a 64-bit float channel
	SampleF64
)

// Size returns the size in bytes of one channel value.
func (t SampleType) Size() int {
	switch t {
	case SampleU8, SampleS8:
		return 1
	case SampleU16, SampleS16:
		return 2
	case SampleS32, SampleF32:
		return 4
	case SampleF64:
		return 8
	default:
		return 0
	}
}

// String returns the short name of the sample type.
func (t SampleType) String() string {
	switch t {
	case SampleU8:
		return "u8"
	case SampleS8:
		return "s8"
	case SampleU16:
		return "u16"
	case SampleS16:
		return "s16"
	case SampleS32:
		return "s32"
	case SampleF32:
		return "f32"
	case SampleF64:
		return "f64"
	default:
		return "unknown"
	}
}

// ParseSampleType parses the names produced by SampleType.String.
func ParseSampleType(s string) (SampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "u8", "8u", "uint8":
		return SampleU8, nil
	case "s8", "8s", "int8":
		return SampleS8, nil
	case "u16", "16u", "uint16":
		return SampleU16, nil
	case "s16", "16s", "int16":
		return SampleS16, nil
	case "s32", "32s", "int32":
		return SampleS32, nil
	case "f32", "32f", "float32":
		return SampleF32, nil
	case "f64", "64f", "float64":
		return SampleF64, nil
	default:
		return 0, fmt.Errorf("unknown sample type %q", s)
	}
}

// PixelFormat fixes how every delivered buffer is sized and interpreted.
// It is set once at construction; changing it requires a new Grabber.
type PixelFormat struct {
	Type     SampleType
	Channels int
}

// Gray8 is one unsigned 8-bit channel (GRAY8, raw bayer).
var Gray8 = PixelFormat{Type: SampleU8, Channels: 1}

// RGB24 is three unsigned 8-bit channels.
var RGB24 = PixelFormat{Type: SampleU8, Channels: 3}

// BytesPerPixel returns channels * channel size.
func (p PixelFormat) BytesPerPixel() int {
	return p.Type.Size() * p.Channels
}

// Validate checks the channel count and sample type.
func (p PixelFormat) Validate() error {
	if p.Type.Size() == 0 {
		return fmt.Errorf("invalid sample type %d", int(p.Type))
	}
	if p.Channels < 1 || p.Channels > 4 {
		return fmt.Errorf("invalid channel count %d (must be 1-4)", p.Channels)
	}
	return nil
}

// String returns e.g. "u8c3".
func (p PixelFormat) String() string {
	return fmt.Sprintf("%sc%d", p.Type, p.Channels)
}

// ParsePixelFormat parses "gray8", "gray16", "rgb24", "rgba32" or the
// "<type>c<channels>" form produced by String (e.g. "u16c1").
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "gray8", "mono8":
		return Gray8, nil
	case "gray16", "mono16":
		return PixelFormat{Type: SampleU16, Channels: 1}, nil
	case "rgb24", "rgb", "bgr":
		return RGB24, nil
	case "rgba32", "rgba", "bgra", "bgrx":
		return PixelFormat{Type: SampleU8, Channels: 4}, nil
	}

	i := strings.LastIndex(s, "c")
	if i <= 0 || i == len(s)-1 {
		return PixelFormat{}, fmt.Errorf("invalid pixel format %q", s)
	}
	st, err := ParseSampleType(s[:i])
	if err != nil {
		return PixelFormat{}, fmt.Errorf("invalid pixel format %q: %w", s, err)
	}
	channels, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return PixelFormat{}, fmt.Errorf("invalid pixel format %q: bad channel count", s)
	}

	pf := PixelFormat{Type: st, Channels: channels}
	if err := pf.Validate(); err != nil {
		return PixelFormat{}, err
	}
	return pf, nil
}

// Frame is one grabbed image with its acquisition metadata.
//
// Data is freshly allocated for every delivery and never written again by
// the grabber, so the caller owns the returned Frame.
type Frame struct {
	// Seq is the delivery sequence number (0 = nothing delivered yet)
	Seq uint64
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format is the configured pixel format used to size Data
	Format PixelFormat
	// SourceFormat is the engine's name for the delivered format (informational)
	SourceFormat string
	// Data holds Width*Height*Format.BytesPerPixel() bytes, tightly packed
	Data []byte
	// CameraTimestamp is the engine timestamp in nanoseconds (buffer PTS for GStreamer)
	CameraTimestamp uint64
	// CameraFrameRate is the instantaneous frame rate reported by the source
	CameraFrameRate float64
	// ReceivedAt is the wall-clock time the delivery was copied
	ReceivedAt time.Time
	// TraceID is a unique identifier for the delivery
	TraceID string
}

// Empty reports whether the frame carries no image (no delivery yet).
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Image converts 8-bit gray/RGB/RGBA and 16-bit gray frames into an
// image.Image. No colour conversion is attempted: a raw bayer frame comes
// back as gray.
func (f Frame) Image() (image.Image, error) {
	if f.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	expected := f.Width * f.Height * f.Format.BytesPerPixel()
	if len(f.Data) != expected {
		return nil, fmt.Errorf("invalid frame data size: got %d, expected %d", len(f.Data), expected)
	}

	rect := image.Rect(0, 0, f.Width, f.Height)

	switch {
	case f.Format.Type == SampleU8 && f.Format.Channels == 1:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data)
		return img, nil

	case f.Format.Type == SampleU8 && f.Format.Channels == 3:
		img := image.NewRGBA(rect)
		for i := 0; i < f.Width*f.Height; i++ {
			img.Pix[i*4+0] = f.Data[i*3+0]
			img.Pix[i*4+1] = f.Data[i*3+1]
			img.Pix[i*4+2] = f.Data[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil

	case f.Format.Type == SampleU8 && f.Format.Channels == 4:
		img := image.NewRGBA(rect)
		copy(img.Pix, f.Data)
		return img, nil

	case f.Format.Type == SampleU16 && f.Format.Channels == 1:
		// image.Gray16 is big-endian, engine buffers are host (little) endian
		img := image.NewGray16(rect)
		for i := 0; i < f.Width*f.Height; i++ {
			v := binary.LittleEndian.Uint16(f.Data[i*2:])
			binary.BigEndian.PutUint16(img.Pix[i*2:], v)
		}
		return img, nil

	default:
		return nil, fmt.Errorf("no image conversion for pixel format %s", f.Format)
	}
}

// GrabberStats is a point-in-time snapshot of grabber activity.
type GrabberStats struct {
	// Running is true between a successful Start and Stop
	Running bool
	// Uptime since the last successful Start
	Uptime time.Duration
	// Format is the configured pixel format
	Format PixelFormat
	// State is the last pipeline state confirmed by the engine
	State string

	// Grabs is the number of completed Grab calls
	Grabs uint64
	// GrabTimeouts is the number of GrabContext calls that ended on the context
	GrabTimeouts uint64
	// Delivered is the number of deliveries copied into the frame slot
	Delivered uint64
	// Dropped is the number of deliveries discarded because no grab was armed
	Dropped uint64
	// DeliveryErrors is the number of deliveries with unusable geometry or data
	DeliveryErrors uint64
	// MetaErrors is the number of deliveries whose metadata could not be parsed
	MetaErrors uint64
	// BytesCopied is the total number of pixel bytes copied
	BytesCopied uint64

	// LastSeq is the sequence number of the frame currently in the slot
	LastSeq uint64
	// LastFrameAt is when the frame currently in the slot was received
	LastFrameAt time.Time
	// CameraFrameRate is the last frame rate reported by the source
	CameraFrameRate float64
}

// WarmupStats contains statistics collected during a warm-up grab loop
type WarmupStats struct {
	// FramesReceived is the number of frames grabbed during warm-up
	FramesReceived int
	// Duration is the actual warm-up duration
	Duration time.Duration
	// FPSMean is the mean grab rate
	FPSMean float64
	// FPSStdDev is the standard deviation of the instantaneous rate
	FPSStdDev float64
	// FPSMin is the minimum instantaneous rate
	FPSMin float64
	// FPSMax is the maximum instantaneous rate
	FPSMax float64
	// IsStable is true if the rate is stable (stddev < 15% of mean, jitter < 20%)
	IsStable bool
	// JitterMean is the mean deviation from the expected interval (seconds)
	JitterMean float64
	// JitterStdDev is the standard deviation of jitter (seconds)
	JitterStdDev float64
	// JitterMax is the maximum jitter observed (seconds)
	JitterMax float64
}
