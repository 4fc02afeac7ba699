package simengine

import (
	"fmt"
	"strconv"
	"strings"
)

type propKind int

const (
	kindBool propKind = iota
	kindInt
	kindFloat
	kindString
)

func (k propKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindInt:
		return "integer"
	case kindFloat:
		return "double"
	default:
		return "string"
	}
}

type propSpec struct {
	kind     propKind
	min, max float64
	ranged   bool
}

func boolProp() propSpec   { return propSpec{kind: kindBool} }
func stringProp() propSpec { return propSpec{kind: kindString} }
func intProp(min, max float64) propSpec {
	return propSpec{kind: kindInt, min: min, max: max, ranged: true}
}
func floatProp(min, max float64) propSpec {
	return propSpec{kind: kindFloat, min: min, max: max, ranged: true}
}

// factory describes one simulated stage type.
type factory struct {
	properties map[string]propSpec
	sink       bool
	source     bool
}

// factories are the stage types the simulator knows. The tcam entries carry
// the camera properties used by machine-vision GigE pipelines.
var factories = map[string]factory{
	"videotestsrc": {source: true, properties: map[string]propSpec{
		"pattern":     intProp(0, 25),
		"is-live":     boolProp(),
		"num-buffers": intProp(-1, 1<<31-1),
	}},
	"tcamsrc": {source: true, properties: map[string]propSpec{
		"serial":             stringProp(),
		"Exposure Auto":      boolProp(),
		"Gain Auto":          boolProp(),
		"Exposure":           intProp(20, 4000000),
		"Gain":               floatProp(0, 48),
		"Trigger Mode":       stringProp(),
		"Trigger Source":     stringProp(),
		"Trigger Activation": stringProp(),
	}},
	"tcamautoexposure": {properties: map[string]propSpec{
		"Exposure Auto":        boolProp(),
		"Gain Auto":            boolProp(),
		"Brightness Reference": intProp(0, 255),
	}},
	"tcamwhitebalance": {properties: map[string]propSpec{
		"whitebalance-module-enabled": boolProp(),
	}},
	"capsfilter": {properties: map[string]propSpec{
		"caps": stringProp(),
	}},
	"videoconvert": {properties: map[string]propSpec{
		"n-threads": intProp(0, 256),
	}},
	"queue": {properties: map[string]propSpec{
		"max-size-buffers": intProp(0, 1<<31-1),
		"leaky":            intProp(0, 2),
	}},
	"identity": {properties: map[string]propSpec{
		"silent": boolProp(),
	}},
	"appsink": {sink: true, properties: map[string]propSpec{
		"sync":         boolProp(),
		"emit-signals": boolProp(),
		"max-buffers":  intProp(0, 1<<31-1),
		"drop":         boolProp(),
	}},
	"fakesink": {properties: map[string]propSpec{
		"sync": boolProp(),
	}},
}

// coerce checks a typed value against the property schema and returns the stored value.
// Integers are accepted for double properties, as GValue transforms do.
func (s propSpec) coerce(value any) (any, error) {
	switch s.kind {
	case kindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case kindInt:
		var v int64
		switch n := value.(type) {
		case int:
			v = int64(n)
		case int64:
			v = n
		default:
			return nil, fmt.Errorf("expected %s, got %T", s.kind, value)
		}
		if s.ranged && (float64(v) < s.min || float64(v) > s.max) {
			return nil, fmt.Errorf("value %d out of range [%g, %g]", v, s.min, s.max)
		}
		return int(v), nil
	case kindFloat:
		var v float64
		switch n := value.(type) {
		case float64:
			v = n
		case int:
			v = float64(n)
		case int64:
			v = float64(n)
		default:
			return nil, fmt.Errorf("expected %s, got %T", s.kind, value)
		}
		if s.ranged && (v < s.min || v > s.max) {
			return nil, fmt.Errorf("value %g out of range [%g, %g]", v, s.min, s.max)
		}
		return v, nil
	case kindString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", s.kind, value)
}

// parse converts a description literal into a typed value.
func (s propSpec) parse(literal string) (any, error) {
	switch s.kind {
	case kindBool:
		switch strings.ToLower(literal) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", literal)
	case kindInt:
		v, err := strconv.Atoi(literal)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", literal)
		}
		return s.coerce(v)
	case kindFloat:
		v, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", literal)
		}
		return s.coerce(v)
	default:
		return literal, nil
	}
}

// bytesPerPixel maps engine format names to packed pixel sizes.
func bytesPerPixel(format string) int {
	switch strings.ToUpper(format) {
	case "RGB", "BGR":
		return 3
	case "RGBA", "BGRA", "RGBX", "BGRX", "XRGB", "XBGR", "ARGB", "ABGR":
		return 4
	case "GRAY16_LE", "GRAY16_BE":
		return 2
	default:
		// GRAY8 and raw bayer (gbrg, rggb, ...)
		return 1
	}
}
