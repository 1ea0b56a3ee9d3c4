package homie

import (
	"fmt"
	"strconv"
	"time"
)

// ParseSeconds parses a non-negative whole number of seconds, the wire
// form of $stats/interval and $stats/uptime.
func ParseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, ErrInvalidScalar)
	}
	return time.Duration(secs) * time.Second, nil
}

// ParseInt parses a signed integer payload.
func ParseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse integer %q: %w", s, ErrInvalidScalar)
	}
	return v, nil
}

// ParseUint parses an unsigned integer payload.
func ParseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse unsigned integer %q: %w", s, ErrInvalidScalar)
	}
	return v, nil
}

// ParseFloat parses a floating point payload.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, ErrInvalidScalar)
	}
	return v, nil
}

// ParseBool parses a boolean payload. Homie booleans are exactly "true"
// or "false".
func ParseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("parse boolean %q: %w", s, ErrInvalidScalar)
}
