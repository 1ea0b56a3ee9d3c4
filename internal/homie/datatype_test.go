package homie

import (
	"errors"
	"testing"
)

func TestParseDatatype(t *testing.T) {
	valid := map[string]Datatype{
		"integer": DatatypeInteger,
		"float":   DatatypeFloat,
		"boolean": DatatypeBoolean,
		"string":  DatatypeString,
		"enum":    DatatypeEnum,
		"color":   DatatypeColor,
	}
	for payload, want := range valid {
		got, err := ParseDatatype(payload)
		if err != nil {
			t.Errorf("ParseDatatype(%q): unexpected error %v", payload, err)
		}
		if got != want {
			t.Errorf("ParseDatatype(%q) = %v, want %v", payload, got, want)
		}
	}

	for _, payload := range []string{"", "Integer", "INT", "int", "bool", "double", "float "} {
		_, err := ParseDatatype(payload)
		if !errors.Is(err, ErrInvalidDatatype) {
			t.Errorf("ParseDatatype(%q): error = %v, want ErrInvalidDatatype", payload, err)
		}
	}
}

func TestDatatypeStringRoundTrip(t *testing.T) {
	for _, d := range []Datatype{DatatypeInteger, DatatypeFloat, DatatypeBoolean, DatatypeString, DatatypeEnum, DatatypeColor} {
		got, err := ParseDatatype(d.String())
		if err != nil {
			t.Fatalf("ParseDatatype(%q): %v", d.String(), err)
		}
		if got != d {
			t.Errorf("round trip %v = %v", d, got)
		}
	}
	if DatatypeNone.String() != "" {
		t.Errorf("DatatypeNone.String() = %q, want empty", DatatypeNone.String())
	}
}
