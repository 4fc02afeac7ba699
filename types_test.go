package framegrabber

import (
	"image"
	"testing"
)

func TestPixelFormat(t *testing.T) {
	tests := []struct {
		format  PixelFormat
		bpp     int
		str     string
		wantErr bool
	}{
		{Gray8, 1, "u8c1", false},
		{RGB24, 3, "u8c3", false},
		{PixelFormat{Type: SampleU16, Channels: 1}, 2, "u16c1", false},
		{PixelFormat{Type: SampleF32, Channels: 4}, 16, "f32c4", false},
		{PixelFormat{Type: SampleU8, Channels: 0}, 0, "u8c0", true},
		{PixelFormat{Type: SampleType(-1), Channels: 1}, 0, "unknownc1", true},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.format.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if err := tt.format.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.format.BytesPerPixel() != tt.bpp {
				t.Errorf("BytesPerPixel() = %d, want %d", tt.format.BytesPerPixel(), tt.bpp)
			}
		})
	}
}

func TestParseSampleType(t *testing.T) {
	for _, st := range []SampleType{SampleU8, SampleS8, SampleU16, SampleS16, SampleS32, SampleF32, SampleF64} {
		got, err := ParseSampleType(st.String())
		if err != nil || got != st {
			t.Errorf("ParseSampleType(%q) = %v, %v", st.String(), got, err)
		}
	}
	if _, err := ParseSampleType("u12"); err == nil {
		t.Error("ParseSampleType(u12) should fail")
	}
}

func TestFrame_Image(t *testing.T) {
	t.Run("gray8", func(t *testing.T) {
		f := Frame{Width: 2, Height: 1, Format: Gray8, Data: []byte{10, 20}}
		img, err := f.Image()
		if err != nil {
			t.Fatalf("Image() error: %v", err)
		}
		gray, ok := img.(*image.Gray)
		if !ok || gray.GrayAt(1, 0).Y != 20 {
			t.Errorf("unexpected image %T", img)
		}
	})

	t.Run("rgb24", func(t *testing.T) {
		f := Frame{Width: 1, Height: 1, Format: RGB24, Data: []byte{1, 2, 3}}
		img, err := f.Image()
		if err != nil {
			t.Fatalf("Image() error: %v", err)
		}
		c := img.(*image.RGBA).RGBAAt(0, 0)
		if c.R != 1 || c.G != 2 || c.B != 3 || c.A != 255 {
			t.Errorf("pixel = %+v", c)
		}
	})

	t.Run("gray16 little endian", func(t *testing.T) {
		f := Frame{Width: 1, Height: 1, Format: PixelFormat{Type: SampleU16, Channels: 1}, Data: []byte{0x34, 0x12}}
		img, err := f.Image()
		if err != nil {
			t.Fatalf("Image() error: %v", err)
		}
		if v := img.(*image.Gray16).Gray16At(0, 0).Y; v != 0x1234 {
			t.Errorf("pixel = %#x, want 0x1234", v)
		}
	})

	t.Run("errors", func(t *testing.T) {
		bad := []Frame{
			{},
			{Width: 2, Height: 2, Format: Gray8, Data: []byte{1}},
			{Width: 1, Height: 1, Format: PixelFormat{Type: SampleF32, Channels: 1}, Data: make([]byte, 4)},
		}
		for i, f := range bad {
			if _, err := f.Image(); err == nil {
				t.Errorf("frame %d: Image() should fail", i)
			}
		}
	})
}

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    PixelFormat
		wantErr bool
	}{
		{in: "gray8", want: Gray8},
		{in: "RGB24", want: RGB24},
		{in: "gray16", want: PixelFormat{Type: SampleU16, Channels: 1}},
		{in: "u8c3", want: RGB24},
		{in: "f32c2", want: PixelFormat{Type: SampleF32, Channels: 2}},
		{in: "u8c9", wantErr: true},
		{in: "u8c", wantErr: true},
		{in: "yuv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePixelFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePixelFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePixelFormat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
