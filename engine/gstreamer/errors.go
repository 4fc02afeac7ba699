package gstreamer

import (
	"errors"
	"strings"
)

// ErrCGORequired is returned when the GStreamer engine is requested from a
// binary built without cgo.
var ErrCGORequired = errors.New("GStreamer support requires CGO")

// ErrorCategory represents the classification of bus errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates camera or source failures (device busy, serial not found)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryNegotiation indicates caps/format failures between stages
	ErrCategoryNegotiation
	// ErrCategoryNetwork indicates transport failures (GigE packet loss, timeouts)
	ErrCategoryNetwork
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ClassifyError categorizes a bus error from its message and debug string.
//
// Classification is keyword based, most specific first:
//   - Negotiation (format mismatch, fixing the description is required)
//   - Device (camera missing or busy, retrying may help once released)
//   - Network (transport, retrying usually helps)
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, negotiationKeywords) {
		return ErrCategoryNegotiation
	}
	if containsAny(combined, deviceKeywords) {
		return ErrCategoryDevice
	}
	if containsAny(combined, networkKeywords) {
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

var negotiationKeywords = []string{
	"not negotiated",
	"negotiation",
	"caps",
	"format",
	"no common",
}

var deviceKeywords = []string{
	"device",
	"camera",
	"serial",
	"busy",
	"resource",
	"no such",
	"not found",
	"permission denied",
}

var networkKeywords = []string{
	"network",
	"timeout",
	"timed out",
	"packet",
	"socket",
	"unreachable",
	"connection",
	"gige",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
