package gstreamer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// capsInfo is what the grabber needs from a serialized caps string such as
// "video/x-raw, format=(string)GRAY8, width=(int)640, height=(int)480, framerate=(fraction)30/1".
type capsInfo struct {
	geometry     engine.Geometry
	frameRate    float64
	hasFrameRate bool
}

// parseCaps reads the first structure of a serialized caps string. A missing
// or invalid width/height is an error; a missing frame rate is not.
func parseCaps(s string) (capsInfo, error) {
	var info capsInfo

	// Only the first structure matters.
	first, _, _ := strings.Cut(s, ";")
	fields := splitCapsFields(first)
	if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
		return info, fmt.Errorf("empty caps")
	}

	haveWidth, haveHeight := false, false
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		value = stripTypeAnnotation(strings.TrimSpace(value))

		switch key {
		case "width":
			w, err := strconv.Atoi(value)
			if err != nil {
				return info, fmt.Errorf("invalid width %q: %w", value, err)
			}
			info.geometry.Width = w
			haveWidth = true
		case "height":
			h, err := strconv.Atoi(value)
			if err != nil {
				return info, fmt.Errorf("invalid height %q: %w", value, err)
			}
			info.geometry.Height = h
			haveHeight = true
		case "format":
			info.geometry.Format = strings.Trim(value, `"`)
		case "framerate":
			rate, err := parseFraction(value)
			if err == nil {
				info.frameRate = rate
				info.hasFrameRate = true
			}
		}
	}

	if !haveWidth || !haveHeight {
		return info, fmt.Errorf("caps without fixed width/height: %s", s)
	}
	return info, nil
}

// splitCapsFields splits on commas that are not inside brackets or braces,
// so ranges and lists stay within their field.
func splitCapsFields(s string) []string {
	var (
		fields []string
		depth  int
		start  int
	)
	for i, r := range s {
		switch r {
		case '[', '{', '<':
			depth++
		case ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, s[start:])
}

// stripTypeAnnotation turns "(int)640" into "640".
func stripTypeAnnotation(v string) string {
	if strings.HasPrefix(v, "(") {
		if i := strings.Index(v, ")"); i > 0 {
			return v[i+1:]
		}
	}
	return v
}

func parseFraction(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		// n/0 is invalid; 0/1 (variable rate) yields 0 below
		return 0, fmt.Errorf("invalid fraction %q", s)
	}
	return n / d, nil
}
