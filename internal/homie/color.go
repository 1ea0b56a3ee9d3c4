package homie

import (
	"fmt"
	"strconv"
	"strings"
)

// ColorRGB is a color property value in RGB format, components 0-255.
type ColorRGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ColorHSV is a color property value in HSV format: hue 0-360,
// saturation and value 0-100.
type ColorHSV struct {
	H uint16 `json:"h"`
	S uint8  `json:"s"`
	V uint8  `json:"v"`
}

func splitColor(s string) (parts [3]uint64, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return parts, fmt.Errorf("parse color %q: %w", s, ErrInvalidColor)
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return parts, fmt.Errorf("parse color %q: %w", s, ErrInvalidColor)
		}
		parts[i] = v
	}
	return parts, nil
}

// ParseColorRGB parses an "r,g,b" payload with each component 0-255.
func ParseColorRGB(s string) (ColorRGB, error) {
	parts, err := splitColor(s)
	if err != nil {
		return ColorRGB{}, err
	}
	for _, v := range parts {
		if v > 255 {
			return ColorRGB{}, fmt.Errorf("parse color %q: %w", s, ErrInvalidColor)
		}
	}
	return ColorRGB{R: uint8(parts[0]), G: uint8(parts[1]), B: uint8(parts[2])}, nil
}

// ParseColorHSV parses an "h,s,v" payload with hue 0-360 and
// saturation/value 0-100.
func ParseColorHSV(s string) (ColorHSV, error) {
	parts, err := splitColor(s)
	if err != nil {
		return ColorHSV{}, err
	}
	if parts[0] > 360 || parts[1] > 100 || parts[2] > 100 {
		return ColorHSV{}, fmt.Errorf("parse color %q: %w", s, ErrInvalidColor)
	}
	return ColorHSV{H: uint16(parts[0]), S: uint8(parts[1]), V: uint8(parts[2])}, nil
}

func (c ColorRGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

func (c ColorHSV) String() string {
	return fmt.Sprintf("%d,%d,%d", c.H, c.S, c.V)
}
