package homie

import (
	"errors"
	"testing"
)

func TestParseState(t *testing.T) {
	valid := map[string]State{
		"init":         StateInit,
		"ready":        StateReady,
		"disconnected": StateDisconnected,
		"sleeping":     StateSleeping,
		"lost":         StateLost,
		"alert":        StateAlert,
	}
	for payload, want := range valid {
		got, err := ParseState(payload)
		if err != nil {
			t.Errorf("ParseState(%q): unexpected error %v", payload, err)
		}
		if got != want {
			t.Errorf("ParseState(%q) = %v, want %v", payload, got, want)
		}
	}
}

func TestParseStateRejectsInexactMatches(t *testing.T) {
	invalid := []string{
		"",
		"unknown",
		"Ready",
		"READY",
		" ready",
		"ready ",
		"ready\n",
		"initialising",
		"offline",
	}
	for _, payload := range invalid {
		_, err := ParseState(payload)
		if err == nil {
			t.Errorf("ParseState(%q): expected error, got nil", payload)
			continue
		}
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("ParseState(%q): error = %v, want ErrInvalidState", payload, err)
		}
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	for _, s := range []State{StateInit, StateReady, StateDisconnected, StateSleeping, StateLost, StateAlert} {
		got, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("round trip %v = %v", s, got)
		}
	}
	if StateUnknown.String() != "unknown" {
		t.Errorf("StateUnknown.String() = %q, want %q", StateUnknown.String(), "unknown")
	}
}

func TestStateTextUnmarshalAcceptsUnknown(t *testing.T) {
	// Persisted snapshots of devices whose $state never arrived carry
	// "unknown"; reading them back must not fail even though the wire
	// parser rejects it.
	var s State
	if err := s.UnmarshalText([]byte("unknown")); err != nil {
		t.Fatalf("UnmarshalText(unknown): %v", err)
	}
	if s != StateUnknown {
		t.Errorf("state = %v, want StateUnknown", s)
	}

	if err := s.UnmarshalText([]byte("sleeping")); err != nil {
		t.Fatalf("UnmarshalText(sleeping): %v", err)
	}
	if s != StateSleeping {
		t.Errorf("state = %v, want StateSleeping", s)
	}

	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus): expected error, got nil")
	}
}
