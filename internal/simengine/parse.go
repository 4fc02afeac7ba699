package simengine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// element is one parsed "factory key=value ..." segment of a description.
type element struct {
	factory    string
	name       string
	properties []property
	caps       *capsSpec
}

type property struct {
	key   string
	value string
}

// capsSpec is the subset of a caps string the simulator understands.
type capsSpec struct {
	media     string
	format    string
	width     int
	height    int
	frameRate float64
	raw       string
}

// parseDescription splits a launch line into elements.
//
// Supported grammar: segments separated by '!'; each segment is either a
// caps string (contains '/') or a factory name followed by key=value
// properties. Values may be double-quoted to carry spaces.
func parseDescription(description string) ([]element, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("empty pipeline description")
	}

	segments := strings.Split(description, "!")
	elements := make([]element, 0, len(segments))

	for i, seg := range segments {
		tokens, err := tokenize(seg)
		if err != nil {
			return nil, fmt.Errorf("syntax error in segment %d: %w", i, err)
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("syntax error: empty segment %d", i)
		}

		head := tokens[0]
		if strings.Contains(head, "/") {
			caps, err := parseCaps(strings.Join(tokens, ""))
			if err != nil {
				return nil, err
			}
			elements = append(elements, element{factory: "capsfilter", caps: caps})
			continue
		}

		el := element{factory: head}
		for _, tok := range tokens[1:] {
			key, value, ok := strings.Cut(tok, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("syntax error: expected key=value after %q, got %q", head, tok)
			}
			if key == "name" {
				el.name = value
				continue
			}
			el.properties = append(el.properties, property{key: key, value: value})
		}
		elements = append(elements, el)
	}

	return elements, nil
}

// tokenize splits on whitespace outside double quotes and strips the quotes.
func tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inQuote bool
		started bool
	)

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// parseCaps parses "video/x-raw,format=GRAY8,width=640,height=480,framerate=30/1".
func parseCaps(s string) (*capsSpec, error) {
	fields := strings.Split(s, ",")
	caps := &capsSpec{media: fields[0], raw: s}

	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("syntax error in caps %q: field %q", s, f)
		}
		// drop "(int)" style type annotations
		if i := strings.Index(value, ")"); strings.HasPrefix(value, "(") && i > 0 {
			value = value[i+1:]
		}

		var err error
		switch key {
		case "format":
			caps.format = value
		case "width":
			caps.width, err = strconv.Atoi(value)
		case "height":
			caps.height, err = strconv.Atoi(value)
		case "framerate":
			caps.frameRate, err = parseFraction(value)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid caps field %s=%s: %w", key, value, err)
		}
	}

	return caps, nil
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
		return 0, fmt.Errorf("zero denominator")
	}
	return n / d, nil
}
