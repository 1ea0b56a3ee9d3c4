package homie

import "fmt"

// State is a device lifecycle state as announced on the $state
// attribute.
type State int

const (
	// StateUnknown is the controller-local placeholder for a device
	// whose $state has not been seen yet. It is never valid on the
	// wire.
	StateUnknown State = iota
	StateInit
	StateReady
	StateDisconnected
	StateSleeping
	StateLost
	StateAlert
)

var stateNames = map[State]string{
	StateUnknown:      "unknown",
	StateInit:         "init",
	StateReady:        "ready",
	StateDisconnected: "disconnected",
	StateSleeping:     "sleeping",
	StateLost:         "lost",
	StateAlert:        "alert",
}

// ParseState parses a $state payload. Matching is exact: the six wire
// states in lowercase, nothing else. "unknown" is rejected here because
// devices never announce it.
func ParseState(s string) (State, error) {
	switch s {
	case "init":
		return StateInit, nil
	case "ready":
		return StateReady, nil
	case "disconnected":
		return StateDisconnected, nil
	case "sleeping":
		return StateSleeping, nil
	case "lost":
		return StateLost, nil
	case "alert":
		return StateAlert, nil
	}
	return StateUnknown, fmt.Errorf("parse state %q: %w", s, ErrInvalidState)
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so states serialize as
// their wire names in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts all seven names including "unknown": persisted
// snapshots of not-yet-announced devices must round-trip even though
// "unknown" is not wire-valid.
func (s *State) UnmarshalText(text []byte) error {
	str := string(text)
	if str == "unknown" || str == "" {
		*s = StateUnknown
		return nil
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
