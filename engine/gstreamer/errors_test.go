package gstreamer

import (
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{
			name:    "not negotiated",
			message: "Internal data stream error.",
			debug:   "streaming stopped, reason not-negotiated (-4): not negotiated",
			want:    ErrCategoryNegotiation,
		},
		{
			name:    "caps mismatch",
			message: "Could not negotiate format",
			want:    ErrCategoryNegotiation,
		},
		{
			name:    "camera not found",
			message: "Could not find device with serial 12345",
			want:    ErrCategoryDevice,
		},
		{
			name:    "device busy",
			message: "Device is busy",
			want:    ErrCategoryDevice,
		},
		{
			name:    "packet loss",
			message: "Too many incomplete frames",
			debug:   "GigE packet resend failed",
			want:    ErrCategoryNetwork,
		},
		{
			name:    "timeout",
			message: "Timed out waiting for image",
			want:    ErrCategoryNetwork,
		},
		{
			name:    "unknown",
			message: "Something odd happened",
			want:    ErrCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.message, tt.debug)
			if got != tt.want {
				t.Errorf("ClassifyError(%q, %q) = %v, want %v", tt.message, tt.debug, got, tt.want)
			}
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	for cat, want := range map[ErrorCategory]string{
		ErrCategoryDevice:      "device",
		ErrCategoryNegotiation: "negotiation",
		ErrCategoryNetwork:     "network",
		ErrCategoryUnknown:     "unknown",
		ErrorCategory(42):      "unknown",
	} {
		if got := cat.String(); got != want {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", int(cat), got, want)
		}
	}
}
